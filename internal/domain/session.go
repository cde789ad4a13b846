package domain

import (
	"time"
)

// Session represents a stored refresh token for an account. Only the SHA-256
// hash of the token is persisted.
type Session struct {
	ID        string     `bson:"_id" json:"id"`
	AccountID string     `bson:"account_id" json:"account_id"`
	Role      string     `bson:"role" json:"role"`
	TokenHash string     `bson:"token_hash" json:"-"`
	ExpiresAt time.Time  `bson:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	RevokedAt *time.Time `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
}

// TokenPair holds an access and refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
