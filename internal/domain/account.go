package domain

import (
	"time"
)

// Account status values.
const (
	StatusPending  = "pending"
	StatusVerified = "verified"
)

// MaxLoginHistory is the number of most recent login timestamps kept on an account.
const MaxLoginHistory = 5

// Account represents a registered account in one of the role partitions.
// UniqueID is the short public identifier assigned at e-mail verification;
// it is empty while the account is pending.
type Account struct {
	ID                string      `bson:"_id" json:"id"`
	Email             string      `bson:"email" json:"email"`
	PasswordHash      string      `bson:"password_hash" json:"-"`
	Role              string      `bson:"role" json:"role"`
	FirstName         string      `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName          string      `bson:"last_name,omitempty" json:"last_name,omitempty"`
	UniqueID          string      `bson:"unique_id,omitempty" json:"unique_id,omitempty"`
	PendingEmail      string      `bson:"pending_email,omitempty" json:"-"`
	Status            string      `bson:"status" json:"status"`
	IsVerified        bool        `bson:"is_verified" json:"is_verified"`
	VerifiedAt        *time.Time  `bson:"verified_at,omitempty" json:"verified_at,omitempty"`
	UniqueIDChangedAt *time.Time  `bson:"unique_id_changed_at,omitempty" json:"unique_id_changed_at,omitempty"`
	LastLogoutAt      *time.Time  `bson:"last_logout_at,omitempty" json:"-"`
	LoginHistory      []time.Time `bson:"login_history,omitempty" json:"-"`
	CreatedAt         time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `bson:"updated_at" json:"updated_at"`
}

// RecordLogin appends a login timestamp, keeping only the most recent
// MaxLoginHistory entries.
func (a *Account) RecordLogin(at time.Time) {
	a.LoginHistory = append(a.LoginHistory, at)
	if len(a.LoginHistory) > MaxLoginHistory {
		a.LoginHistory = a.LoginHistory[len(a.LoginHistory)-MaxLoginHistory:]
	}
}
