package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/rNLKJA/moodist-server/pkg/kafka"

	"github.com/rNLKJA/moodist-server/internal/domain"
)

// Kafka topic constants for account and connection events.
const (
	TopicAccountRegistered           = "moodist.account.registered"
	TopicAccountVerified             = "moodist.account.verified"
	TopicAccountLogin                = "moodist.account.login"
	TopicAccountPasswordReset        = "moodist.account.password_reset"
	TopicAccountEmailChangeRequested = "moodist.account.email_change_requested"
	TopicAccountEmailChanged         = "moodist.account.email_changed"
	TopicAccountIDRotated            = "moodist.account.id_rotated"
	TopicConnectionCreated           = "moodist.connection.created"
	TopicConnectionRemoved           = "moodist.connection.removed"
	TopicMoodLogged                  = "moodist.mood.logged"
)

// Aggregate type constants.
const (
	AggregateTypeAccount    = "account"
	AggregateTypeConnection = "connection"
	AggregateTypeMoodLog    = "mood_log"
)

// Source identifier for events originating from this server.
const SourceServer = "moodist-server"

// AccountRegisteredData is the payload for an account.registered event. It
// carries the verification code and link so the notification worker can
// build the verification mail.
type AccountRegisteredData struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	Role      string `json:"role"`
	Code      string `json:"code"`
	LinkToken string `json:"link_token"`
}

// AccountVerifiedData is the payload for an account.verified event.
type AccountVerifiedData struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	UniqueID  string `json:"unique_id"`
}

// AccountLoginData is the payload for an account.login event.
type AccountLoginData struct {
	AccountID  string `json:"account_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	RemoteAddr string `json:"remote_addr,omitempty"`
}

// AccountPasswordResetData is the payload for an account.password_reset
// event. Code is set when a reset was requested and empty when the password
// was actually changed.
type AccountPasswordResetData struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Code      string `json:"code,omitempty"`
}

// AccountEmailChangeRequestedData is the payload for an
// account.email_change_requested event. The confirmation code goes to the
// pending address.
type AccountEmailChangeRequestedData struct {
	AccountID string `json:"account_id"`
	NewEmail  string `json:"new_email"`
	Role      string `json:"role"`
	Code      string `json:"code"`
}

// AccountEmailChangedData is the payload for an account.email_changed event.
// Notices go to both the old and the new address.
type AccountEmailChangedData struct {
	AccountID string `json:"account_id"`
	OldEmail  string `json:"old_email"`
	NewEmail  string `json:"new_email"`
	Role      string `json:"role"`
}

// AccountIDRotatedData is the payload for an account.id_rotated event.
type AccountIDRotatedData struct {
	AccountID          string `json:"account_id"`
	Email              string `json:"email"`
	OldUniqueID        string `json:"old_unique_id"`
	NewUniqueID        string `json:"new_unique_id"`
	ConnectionsRemoved int64  `json:"connections_removed"`
}

// ConnectionData is the payload for connection.created and
// connection.removed events.
type ConnectionData struct {
	ConnectionID    string `json:"connection_id"`
	ClinicianID     string `json:"clinician_id"`
	ClinicianEmail  string `json:"clinician_email,omitempty"`
	PatientID       string `json:"patient_id"`
	PatientEmail    string `json:"patient_email,omitempty"`
	PatientUniqueID string `json:"patient_unique_id"`
}

// MoodLoggedData is the payload for a mood.logged event.
type MoodLoggedData struct {
	AccountID  string `json:"account_id"`
	LogDate    string `json:"log_date"`
	TotalScore int    `json:"total_score"`
}

// Producer publishes account, connection, and mood events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishAccountRegistered publishes an account.registered event.
func (p *Producer) PublishAccountRegistered(ctx context.Context, account *domain.Account, code, linkToken string) error {
	data := AccountRegisteredData{
		AccountID: account.ID,
		Email:     account.Email,
		FirstName: account.FirstName,
		Role:      account.Role,
		Code:      code,
		LinkToken: linkToken,
	}
	return p.publish(ctx, TopicAccountRegistered, account.ID, AggregateTypeAccount, data)
}

// PublishAccountVerified publishes an account.verified event.
func (p *Producer) PublishAccountVerified(ctx context.Context, account *domain.Account) error {
	data := AccountVerifiedData{
		AccountID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
		UniqueID:  account.UniqueID,
	}
	return p.publish(ctx, TopicAccountVerified, account.ID, AggregateTypeAccount, data)
}

// PublishAccountLogin publishes an account.login event.
func (p *Producer) PublishAccountLogin(ctx context.Context, account *domain.Account, remoteAddr string) error {
	data := AccountLoginData{
		AccountID:  account.ID,
		Email:      account.Email,
		Role:       account.Role,
		RemoteAddr: remoteAddr,
	}
	return p.publish(ctx, TopicAccountLogin, account.ID, AggregateTypeAccount, data)
}

// PublishPasswordReset publishes an account.password_reset event.
func (p *Producer) PublishPasswordReset(ctx context.Context, account *domain.Account, code string) error {
	data := AccountPasswordResetData{
		AccountID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
		Code:      code,
	}
	return p.publish(ctx, TopicAccountPasswordReset, account.ID, AggregateTypeAccount, data)
}

// PublishEmailChangeRequested publishes an account.email_change_requested
// event.
func (p *Producer) PublishEmailChangeRequested(ctx context.Context, account *domain.Account, newEmail, code string) error {
	data := AccountEmailChangeRequestedData{
		AccountID: account.ID,
		NewEmail:  newEmail,
		Role:      account.Role,
		Code:      code,
	}
	return p.publish(ctx, TopicAccountEmailChangeRequested, account.ID, AggregateTypeAccount, data)
}

// PublishEmailChanged publishes an account.email_changed event.
func (p *Producer) PublishEmailChanged(ctx context.Context, account *domain.Account, oldEmail string) error {
	data := AccountEmailChangedData{
		AccountID: account.ID,
		OldEmail:  oldEmail,
		NewEmail:  account.Email,
		Role:      account.Role,
	}
	return p.publish(ctx, TopicAccountEmailChanged, account.ID, AggregateTypeAccount, data)
}

// PublishIDRotated publishes an account.id_rotated event.
func (p *Producer) PublishIDRotated(ctx context.Context, account *domain.Account, oldUniqueID string, connectionsRemoved int64) error {
	data := AccountIDRotatedData{
		AccountID:          account.ID,
		Email:              account.Email,
		OldUniqueID:        oldUniqueID,
		NewUniqueID:        account.UniqueID,
		ConnectionsRemoved: connectionsRemoved,
	}
	return p.publish(ctx, TopicAccountIDRotated, account.ID, AggregateTypeAccount, data)
}

// PublishConnectionCreated publishes a connection.created event.
func (p *Producer) PublishConnectionCreated(ctx context.Context, data ConnectionData) error {
	return p.publish(ctx, TopicConnectionCreated, data.ConnectionID, AggregateTypeConnection, data)
}

// PublishConnectionRemoved publishes a connection.removed event.
func (p *Producer) PublishConnectionRemoved(ctx context.Context, data ConnectionData) error {
	return p.publish(ctx, TopicConnectionRemoved, data.ConnectionID, AggregateTypeConnection, data)
}

// PublishMoodLogged publishes a mood.logged event.
func (p *Producer) PublishMoodLogged(ctx context.Context, log *domain.MoodLog) error {
	data := MoodLoggedData{
		AccountID:  log.AccountID,
		LogDate:    log.LogDate,
		TotalScore: log.TotalScore,
	}
	return p.publish(ctx, TopicMoodLogged, log.ID, AggregateTypeMoodLog, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceServer, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)

	return nil
}
