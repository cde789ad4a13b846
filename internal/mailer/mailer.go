package mailer

import (
	"context"
)

// Mail is an outbound e-mail message.
type Mail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Sender defines the interface for delivering mail through a provider.
type Sender interface {
	Name() string
	Send(ctx context.Context, mail *Mail) error
}
