// Package notify defines the outbound notification collaborator used by the
// recurring processor.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// TargetRecurring is the in-app location notifications about recurring items link to.
const TargetRecurring = "/recurring"

// Notification is a push message addressed to a single user.
type Notification struct {
	UserID     string
	Title      string
	Body       string
	TargetPath string
}

func (n Notification) Validate() error {
	if n.UserID == "" {
		return errors.New("notification has no recipient")
	}
	if n.Title == "" {
		return errors.New("notification has no title")
	}
	return nil
}

// Notifier delivers notifications. Callers treat delivery as best-effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "Notification",
		"user_id", n.UserID,
		"title", n.Title,
		"body", n.Body,
		"target_path", n.TargetPath)
	return nil
}
