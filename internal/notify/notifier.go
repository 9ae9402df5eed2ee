// Package notify tells operators about verses that need manual follow-up.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Kinds of notification.
const (
	KindBothTiersFailed = "both_tiers_failed"
	KindIntegrity       = "integrity_violation"
	KindRunFinished     = "run_finished"
)

// Notification represents a notification message.
type Notification struct {
	Kind    string    `json:"kind"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Ref     string    `json:"ref,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier is the interface for sending notifications.
type Notifier interface {
	// Send sends a notification.
	Send(ctx context.Context, notification Notification) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the notification at warn level.
func (l *LogNotifier) Send(ctx context.Context, n Notification) error {
	l.logger.WarnContext(ctx, "notification",
		"kind", n.Kind,
		"subject", n.Subject,
		"ref", n.Ref,
		"run_id", n.RunID,
		"body", n.Body,
	)
	return nil
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Send delivers to every notifier and joins their errors.
func (m Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
