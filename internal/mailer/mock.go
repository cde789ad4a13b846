package mailer

import (
	"context"
	"log/slog"
	"time"
)

// MockSender logs mail instead of delivering it and always succeeds. It
// simulates a 10ms delay to mimic real provider latency. Used in local
// development when no provider is configured.
type MockSender struct {
	logger *slog.Logger
}

// NewMockSender creates a mock mail sender.
func NewMockSender(logger *slog.Logger) *MockSender {
	return &MockSender{logger: logger}
}

// Name returns the name of this sender.
func (s *MockSender) Name() string {
	return "mock-mail"
}

// Send logs the mail details and simulates a sending delay.
func (s *MockSender) Send(ctx context.Context, mail *Mail) error {
	time.Sleep(10 * time.Millisecond)

	s.logger.InfoContext(ctx, "mock sender: mail sent",
		slog.String("to", mail.To),
		slog.String("subject", mail.Subject),
		slog.String("body", mail.Body),
	)

	return nil
}
