package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoggerJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Component: ComponentWorker, Output: &buf})

	logger.InfoContext(context.Background(), "Cycle complete", FieldCycleID, "c1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry[FieldComponent] != ComponentWorker {
		t.Errorf("expected component %q, got %v", ComponentWorker, entry[FieldComponent])
	}
	if entry[FieldCycleID] != "c1" {
		t.Errorf("expected cycle id c1, got %v", entry[FieldCycleID])
	}
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Output: &buf, Component: ComponentApp})

	logger.InfoContext(context.Background(), "hidden")
	logger.WarnContext(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn message should be logged")
	}
}

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()); got.Component() != "unknown" {
		t.Errorf("expected fallback logger, got component %q", got.Component())
	}

	logger := New(DefaultConfig()).WithComponent(ComponentProcessor)
	ctx := WithLogger(context.Background(), logger)
	if got := FromContext(ctx); got != logger {
		t.Error("expected logger stored in context")
	}
}

func TestLogFields(t *testing.T) {
	fields := NewFields().WithCycle("c1").WithRecurring("r1", "Rent").WithError(nil)
	if len(fields.ToSlice()) != 6 {
		t.Errorf("expected 6 slice entries, got %d", len(fields.ToSlice()))
	}
	if fields[FieldRecurringID] != "r1" || fields[FieldDescription] != "Rent" {
		t.Errorf("unexpected fields %v", fields)
	}

	fields.WithError(errors.New("boom"))
	if fields[FieldError] != "boom" {
		t.Errorf("expected error field, got %v", fields[FieldError])
	}
}

func TestFromContextKeepsAttributesAcrossComponents(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: slog.LevelInfo, Format: "json", Component: ComponentWorker, Output: &buf}).
		With(NewFields().WithCycle("c7").ToSlice()...)
	ctx := WithLogger(context.Background(), base)

	FromContext(ctx).WithComponent(ComponentProcessor).InfoContext(ctx, "Applied")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry[FieldComponent] != ComponentProcessor {
		t.Errorf("expected component %q, got %v", ComponentProcessor, entry[FieldComponent])
	}
	if entry[FieldCycleID] != "c7" {
		t.Errorf("expected cycle id c7, got %v", entry[FieldCycleID])
	}
}
