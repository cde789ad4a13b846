package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rNLKJA/moodist-server/pkg/httpclient"
)

// HTTPSender delivers mail through an HTTP mail provider. Calls go through a
// circuit breaker so a broken provider does not stall request handlers.
type HTTPSender struct {
	client  *httpclient.CircuitBreakerClient
	baseURL string
	apiKey  string
	from    string
	logger  *slog.Logger
}

// HTTPSenderConfig holds provider settings.
type HTTPSenderConfig struct {
	BaseURL string
	APIKey  string
	From    string
}

// NewHTTPSender creates a sender for the given provider endpoint.
func NewHTTPSender(cfg HTTPSenderConfig, logger *slog.Logger) *HTTPSender {
	client := httpclient.New(httpclient.DefaultConfig())
	cb := httpclient.NewCircuitBreakerClient(client, httpclient.DefaultCircuitBreakerConfig("mail-provider"), logger)

	return &HTTPSender{
		client:  cb,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		from:    cfg.From,
		logger:  logger,
	}
}

// Name returns the name of this sender.
func (s *HTTPSender) Name() string {
	return "mail-provider"
}

// Send posts the mail to the provider's send endpoint.
func (s *HTTPSender) Send(ctx context.Context, mail *Mail) error {
	payload, err := json.Marshal(map[string]string{
		"from":    s.from,
		"to":      mail.To,
		"subject": mail.Subject,
		"body":    mail.Body,
	})
	if err != nil {
		return fmt.Errorf("marshal mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return httpclient.ParseResponseError(resp, s.Name())
	}

	s.logger.DebugContext(ctx, "mail delivered",
		slog.String("to", mail.To),
		slog.String("subject", mail.Subject),
	)

	return nil
}
