package notify

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/rNLKJA/moodist-server/pkg/kafka"

	"github.com/rNLKJA/moodist-server/internal/event"
	"github.com/rNLKJA/moodist-server/internal/mailer"
)

// ConsumerGroupID identifies the notification worker's consumer group.
const ConsumerGroupID = "moodist-notify"

// Worker consumes account and connection events and turns them into mail.
type Worker struct {
	sender  mailer.Sender
	baseURL string
	logger  *slog.Logger
}

// NewWorker creates a notification worker. baseURL is the public address of
// the web frontend used to build verification and reset links.
func NewWorker(sender mailer.Sender, baseURL string, logger *slog.Logger) *Worker {
	return &Worker{
		sender:  sender,
		baseURL: baseURL,
		logger:  logger,
	}
}

// Handle routes an incoming event to the matching mail builder.
func (w *Worker) Handle(ctx context.Context, evt *pkgkafka.Event) error {
	switch evt.EventType {
	case event.TopicAccountRegistered:
		return w.handleRegistered(ctx, evt)
	case event.TopicAccountVerified:
		return w.handleVerified(ctx, evt)
	case event.TopicAccountPasswordReset:
		return w.handlePasswordReset(ctx, evt)
	case event.TopicAccountEmailChangeRequested:
		return w.handleEmailChangeRequested(ctx, evt)
	case event.TopicAccountEmailChanged:
		return w.handleEmailChanged(ctx, evt)
	case event.TopicConnectionCreated:
		return w.handleConnectionCreated(ctx, evt)
	default:
		w.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", evt.EventType),
			slog.String("event_id", evt.EventID),
		)
		return nil
	}
}

// handleRegistered sends the verification mail carrying both the short code
// and a link for clients that prefer one over the other.
func (w *Worker) handleRegistered(ctx context.Context, evt *pkgkafka.Event) error {
	var data event.AccountRegisteredData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("decode account.registered: %w", err)
	}

	link := fmt.Sprintf("%s/verify-email?token=%s", w.baseURL, data.LinkToken)
	mail := &mailer.Mail{
		To:      data.Email,
		Subject: "Verify your Moodist account",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour verification code is %s. It expires in 10 minutes.\n\nYou can also verify by opening:\n%s\n",
			data.FirstName, data.Code, link,
		),
	}
	return w.deliver(ctx, evt, mail)
}

// handleVerified sends the welcome mail with the assigned public identifier.
func (w *Worker) handleVerified(ctx context.Context, evt *pkgkafka.Event) error {
	var data event.AccountVerifiedData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("decode account.verified: %w", err)
	}

	mail := &mailer.Mail{
		To:      data.Email,
		Subject: "Welcome to Moodist",
		Body: fmt.Sprintf(
			"Your account is verified. Your Moodist ID is %s.\nShare it only with people you want to connect with.\n",
			data.UniqueID,
		),
	}
	return w.deliver(ctx, evt, mail)
}

// handlePasswordReset sends a reset code when one was requested, or a
// confirmation notice after the password actually changed.
func (w *Worker) handlePasswordReset(ctx context.Context, evt *pkgkafka.Event) error {
	var data event.AccountPasswordResetData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("decode account.password_reset: %w", err)
	}

	var mail *mailer.Mail
	if data.Code != "" {
		mail = &mailer.Mail{
			To:      data.Email,
			Subject: "Reset your Moodist password",
			Body: fmt.Sprintf(
				"Your password reset code is %s. It expires in 10 minutes.\nEnter it at %s/reset-password to set a new password.\n",
				data.Code, w.baseURL,
			),
		}
	} else {
		mail = &mailer.Mail{
			To:      data.Email,
			Subject: "Your Moodist password was changed",
			Body:    "Your password was just changed. If this was not you, reset it immediately.\n",
		}
	}
	return w.deliver(ctx, evt, mail)
}

// handleEmailChangeRequested mails the confirmation code to the pending
// address.
func (w *Worker) handleEmailChangeRequested(ctx context.Context, evt *pkgkafka.Event) error {
	var data event.AccountEmailChangeRequestedData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("decode account.email_change_requested: %w", err)
	}

	mail := &mailer.Mail{
		To:      data.NewEmail,
		Subject: "Confirm your new Moodist e-mail address",
		Body: fmt.Sprintf(
			"Your e-mail change code is %s. It expires in 10 minutes.\nIf you did not request this change, you can ignore this mail.\n",
			data.Code,
		),
	}
	return w.deliver(ctx, evt, mail)
}

// handleEmailChanged notifies both the old and the new address.
func (w *Worker) handleEmailChanged(ctx context.Context, evt *pkgkafka.Event) error {
	var data event.AccountEmailChangedData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("decode account.email_changed: %w", err)
	}

	oldNotice := &mailer.Mail{
		To:      data.OldEmail,
		Subject: "Your Moodist e-mail address was changed",
		Body: fmt.Sprintf(
			"The e-mail address on your account was changed to %s. If this was not you, contact support.\n",
			data.NewEmail,
		),
	}
	if err := w.deliver(ctx, evt, oldNotice); err != nil {
		return err
	}

	newNotice := &mailer.Mail{
		To:      data.NewEmail,
		Subject: "This address is now linked to a Moodist account",
		Body:    "This address now receives notifications for your Moodist account.\n",
	}
	return w.deliver(ctx, evt, newNotice)
}

// handleConnectionCreated tells the patient a clinician connected to them.
func (w *Worker) handleConnectionCreated(ctx context.Context, evt *pkgkafka.Event) error {
	var data event.ConnectionData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("decode connection.created: %w", err)
	}
	if data.PatientEmail == "" {
		w.logger.WarnContext(ctx, "connection.created without patient e-mail, skipping mail",
			slog.String("connection_id", data.ConnectionID),
		)
		return nil
	}

	mail := &mailer.Mail{
		To:      data.PatientEmail,
		Subject: "A clinician connected to your Moodist account",
		Body:    "A clinician added you using your Moodist ID. They can now see your mood logs.\nIf you do not recognise this, rotate your Moodist ID in settings.\n",
	}
	return w.deliver(ctx, evt, mail)
}

func (w *Worker) deliver(ctx context.Context, evt *pkgkafka.Event, mail *mailer.Mail) error {
	if err := w.sender.Send(ctx, mail); err != nil {
		return fmt.Errorf("send via %s: %w", w.sender.Name(), err)
	}
	w.logger.InfoContext(ctx, "notification sent",
		slog.String("event_type", evt.EventType),
		slog.String("to", mail.To),
		slog.String("subject", mail.Subject),
	)
	return nil
}

// NewConsumers creates one consumer per subscribed topic, all sharing the
// worker's handler wrapped with idempotency tracking.
func NewConsumers(brokers []string, worker *Worker, store pkgkafka.IdempotencyStore, logger *slog.Logger) []*pkgkafka.Consumer {
	topics := []string{
		event.TopicAccountRegistered,
		event.TopicAccountVerified,
		event.TopicAccountPasswordReset,
		event.TopicAccountEmailChangeRequested,
		event.TopicAccountEmailChanged,
		event.TopicConnectionCreated,
	}

	handler := pkgkafka.IdempotentHandler(store, worker.Handle, logger)

	consumers := make([]*pkgkafka.Consumer, 0, len(topics))
	for _, topic := range topics {
		cfg := pkgkafka.ConsumerConfig{
			Brokers:   brokers,
			GroupID:   ConsumerGroupID,
			Topic:     topic,
			MinBytes:  1,
			MaxBytes:  10e6,
			EnableDLQ: true,
		}
		consumers = append(consumers, pkgkafka.NewConsumer(cfg, handler, logger))
	}
	return consumers
}
