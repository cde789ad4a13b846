package domain

import (
	"time"
)

// Verification limits.
const (
	MaxVerifyAttempts = 5
	MaxResends        = 3
	CodeTTL           = 10 * time.Minute
)

// Verification holds a pending e-mail verification code for an account.
// The code itself is never stored; only its bcrypt hash.
type Verification struct {
	ID          string     `bson:"_id" json:"id"`
	AccountID   string     `bson:"account_id" json:"account_id"`
	Email       string     `bson:"email" json:"email"`
	Purpose     string     `bson:"purpose" json:"purpose"`
	CodeHash    string     `bson:"code_hash" json:"-"`
	Attempts    int        `bson:"attempts" json:"attempts"`
	ResendCount int        `bson:"resend_count" json:"resend_count"`
	ExpiresAt   time.Time  `bson:"expires_at" json:"expires_at"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	ConsumedAt  *time.Time `bson:"consumed_at,omitempty" json:"consumed_at,omitempty"`
}

// Exhausted reports whether the attempt budget is spent. Once true, the code
// can no longer be redeemed even with the correct value.
func (v *Verification) Exhausted() bool {
	return v.Attempts >= MaxVerifyAttempts
}

// Expired reports whether the code is past its expiry at the given time.
func (v *Verification) Expired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}

// Consumed reports whether the code has already been redeemed.
func (v *Verification) Consumed() bool {
	return v.ConsumedAt != nil
}
