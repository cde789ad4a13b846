package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Link token purposes.
const (
	PurposeVerifyEmail   = "verify_email"
	PurposeResetPassword = "reset_password"
	PurposeChangeEmail   = "change_email"
)

// LinkTokenTTL is how long an e-mailed link stays valid.
const LinkTokenTTL = 7 * 24 * time.Hour

// ErrInvalidLinkToken is returned for any unusable link token: bad signature,
// wrong purpose, expired, or malformed. Callers get a single uniform error so
// responses do not leak which check failed.
var ErrInvalidLinkToken = errors.New("invalid or expired link token")

// LinkClaims are the JWT claims carried by an e-mailed link token.
type LinkClaims struct {
	Email   string `json:"email"`
	Role    string `json:"role"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// LinkTokenizer issues and verifies purpose-scoped link tokens for e-mail
// flows. Expiry is enforced on issued-at age against LinkTokenTTL, exact to
// the second.
type LinkTokenizer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewLinkTokenizer creates a tokenizer with the given signing secret.
func NewLinkTokenizer(secret string) *LinkTokenizer {
	return &LinkTokenizer{
		secret: []byte(secret),
		ttl:    LinkTokenTTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a signed link token binding the email and role to a purpose.
func (t *LinkTokenizer) Issue(email, role, purpose string) (string, error) {
	now := t.now()
	claims := &LinkClaims{
		Email:   email,
		Role:    role,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   "moodist-server",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Verify parses the token, checks the signature and issued-at age, and
// confirms it was issued for the expected purpose. Any failure returns
// ErrInvalidLinkToken.
func (t *LinkTokenizer) Verify(tokenString, expectedPurpose string) (*LinkClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LinkClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidLinkToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, ErrInvalidLinkToken
	}

	claims, ok := token.Claims.(*LinkClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidLinkToken
	}

	if claims.Purpose != expectedPurpose {
		return nil, ErrInvalidLinkToken
	}

	if claims.IssuedAt == nil {
		return nil, ErrInvalidLinkToken
	}
	age := t.now().Sub(claims.IssuedAt.Time)
	if age > t.ttl {
		return nil, ErrInvalidLinkToken
	}

	return claims, nil
}
