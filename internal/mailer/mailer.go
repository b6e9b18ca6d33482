// Package mailer delivers password-reset links.
package mailer

import (
	"context"
	"log/slog"

	"github.com/utafrali/authservice/pkg/logger"
)

// Sender delivers a password-reset link to a user.
type Sender interface {
	SendPasswordReset(ctx context.Context, to, resetURL string) error
}

// LogSender writes reset links to the log instead of sending them. It is
// used in development when no SMTP relay is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// SendPasswordReset logs the link.
func (s *LogSender) SendPasswordReset(ctx context.Context, to, resetURL string) error {
	s.logger.InfoContext(ctx, "password reset email (not sent, no SMTP host configured)",
		slog.String("to", logger.MaskEmail(to)),
		slog.String("reset_url", resetURL),
	)
	return nil
}
