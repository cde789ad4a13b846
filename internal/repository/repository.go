package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rNLKJA/moodist-server/internal/domain"
)

// ErrNotFound is returned by repositories when a document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrDuplicate is returned when an insert violates a unique index.
var ErrDuplicate = errors.New("document already exists")

// AccountRepository defines persistence operations for one role partition.
// Each role (patient, clinician, admin) is backed by its own collection; use
// AccountStores to address them together.
type AccountRepository interface {
	// Create inserts a new account into the partition.
	Create(ctx context.Context, account *domain.Account) error

	// GetByID retrieves an account by its document id.
	GetByID(ctx context.Context, id string) (*domain.Account, error)

	// GetByEmail retrieves an account by its e-mail address.
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)

	// GetByUniqueID retrieves an account by its short public identifier.
	GetByUniqueID(ctx context.Context, uniqueID string) (*domain.Account, error)

	// Update replaces an existing account document.
	Update(ctx context.Context, account *domain.Account) error

	// Delete removes an account by its document id.
	Delete(ctx context.Context, id string) error

	// IDInUse reports whether the given short identifier is already taken in
	// this partition, either as a document id or as the unique_id field.
	IDInUse(ctx context.Context, shortID string) (bool, error)
}

// AccountStores maps each role to its partition repository.
type AccountStores map[string]AccountRepository

// ForRole returns the repository backing the given role, or nil when the role
// is unknown.
func (s AccountStores) ForRole(role string) AccountRepository {
	return s[role]
}

// ConnectionRepository defines persistence operations for clinician-patient
// connections.
type ConnectionRepository interface {
	// Create inserts a new connection document.
	Create(ctx context.Context, conn *domain.Connection) error

	// GetByID retrieves a connection by its document id.
	GetByID(ctx context.Context, id string) (*domain.Connection, error)

	// GetByPair retrieves the active connection between a clinician and a
	// patient, if any.
	GetByPair(ctx context.Context, clinicianID, patientID string) (*domain.Connection, error)

	// ListByClinician returns all connections for the given clinician.
	ListByClinician(ctx context.Context, clinicianID string) ([]domain.Connection, error)

	// ListByPatient returns all connections for the given patient.
	ListByPatient(ctx context.Context, patientID string) ([]domain.Connection, error)

	// Update replaces an existing connection document.
	Update(ctx context.Context, conn *domain.Connection) error

	// Delete removes a connection by its document id.
	Delete(ctx context.Context, id string) error

	// DeleteByPatient removes every connection referencing the patient and
	// returns how many were deleted.
	DeleteByPatient(ctx context.Context, patientID string) (int64, error)
}

// SessionRepository defines persistence operations for refresh token sessions.
type SessionRepository interface {
	// Create stores a new session row for the given refresh token hash.
	Create(ctx context.Context, accountID, role, tokenHash string, expiresAt time.Time) error

	// GetByHash retrieves a session by its token hash.
	GetByHash(ctx context.Context, tokenHash string) (*domain.Session, error)

	// Revoke revokes a specific session by its token hash.
	Revoke(ctx context.Context, tokenHash string) error

	// RevokeByAccountID revokes all sessions for the given account.
	RevokeByAccountID(ctx context.Context, accountID string) error
}

// VerificationRepository defines persistence operations for e-mail
// verification codes.
type VerificationRepository interface {
	// Upsert stores the verification for the account, replacing any pending
	// one with the same purpose.
	Upsert(ctx context.Context, v *domain.Verification) error

	// GetByAccountID retrieves the pending verification for the account and
	// purpose.
	GetByAccountID(ctx context.Context, accountID, purpose string) (*domain.Verification, error)

	// Update replaces the verification document (attempt counts, consumption).
	Update(ctx context.Context, v *domain.Verification) error

	// Delete removes the verification for the account and purpose.
	Delete(ctx context.Context, accountID, purpose string) error
}

// MoodLogRepository defines persistence operations for daily mood logs.
type MoodLogRepository interface {
	// Create inserts a new mood log.
	Create(ctx context.Context, log *domain.MoodLog) error

	// ExistsForDate reports whether the account already has a log for the
	// given calendar day.
	ExistsForDate(ctx context.Context, accountID, logDate string) (bool, error)

	// ListByAccount returns the account's logs, newest first, with total
	// count for pagination.
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]domain.MoodLog, int64, error)
}
