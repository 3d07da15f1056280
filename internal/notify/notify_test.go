package notify

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLogNotifier(t *testing.T) {
	tests := []struct {
		name    string
		n       Notification
		wantErr bool
	}{
		{
			name: "valid",
			n:    Notification{UserID: "u1", Title: "Recurring Transaction Processed", Body: "Rent", TargetPath: TargetRecurring},
		},
		{
			name:    "missing user",
			n:       Notification{Title: "x"},
			wantErr: true,
		},
		{
			name:    "missing title",
			n:       Notification{UserID: "u1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			notifier := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

			err := notifier.Notify(context.Background(), tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Notify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !strings.Contains(buf.String(), "user_id=u1") {
				t.Errorf("expected log to mention recipient, got %q", buf.String())
			}
			if tt.wantErr && buf.Len() != 0 {
				t.Errorf("expected nothing logged, got %q", buf.String())
			}
		})
	}
}
