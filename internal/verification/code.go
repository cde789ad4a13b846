package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/rNLKJA/moodist-server/internal/domain"
	"github.com/rNLKJA/moodist-server/internal/repository"

	"github.com/google/uuid"
)

// codeDigits is the length of a numeric verification code.
const codeDigits = 6

// hashCost is the bcrypt cost used for code hashes. Codes are short-lived so
// the default cost is enough.
const hashCost = bcrypt.DefaultCost

var (
	// ErrNoPendingCode is returned when no code was issued for the account
	// and purpose, or it has already been redeemed.
	ErrNoPendingCode = errors.New("no pending verification code")

	// ErrCodeExpired is returned when the code is past its expiry.
	ErrCodeExpired = errors.New("verification code expired")

	// ErrCodeMismatch is returned when the supplied code does not match.
	ErrCodeMismatch = errors.New("verification code does not match")

	// ErrTooManyAttempts is returned once the attempt budget is spent. A
	// correct code is rejected after that point; the caller must request a
	// new one.
	ErrTooManyAttempts = errors.New("too many verification attempts")

	// ErrResendLimit is returned when the resend budget is spent.
	ErrResendLimit = errors.New("verification code resend limit reached")
)

// Service issues and checks short numeric verification codes. Only bcrypt
// hashes of codes are persisted.
type Service struct {
	repo repository.VerificationRepository
	now  func() time.Time
}

// NewService creates a verification code service.
func NewService(repo repository.VerificationRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Issue generates a fresh code for the account and purpose, replacing any
// pending one, and returns the plaintext code for delivery. Attempt and
// resend budgets start at zero.
func (s *Service) Issue(ctx context.Context, accountID, email, purpose string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), hashCost)
	if err != nil {
		return "", fmt.Errorf("hash verification code: %w", err)
	}

	now := s.now()
	v := &domain.Verification{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Email:     email,
		Purpose:   purpose,
		CodeHash:  string(hash),
		ExpiresAt: now.Add(domain.CodeTTL),
		CreatedAt: now,
	}
	if err := s.repo.Upsert(ctx, v); err != nil {
		return "", fmt.Errorf("store verification: %w", err)
	}
	return code, nil
}

// Resend generates a new code for the pending verification, keeping the
// resend count. At most domain.MaxResends resends are allowed per issue;
// beyond that ErrResendLimit is returned. A resend resets the attempt budget
// since the old code is discarded.
func (s *Service) Resend(ctx context.Context, accountID, purpose string) (string, error) {
	v, err := s.repo.GetByAccountID(ctx, accountID, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNoPendingCode
		}
		return "", fmt.Errorf("load verification: %w", err)
	}
	if v.Consumed() {
		return "", ErrNoPendingCode
	}
	if v.ResendCount >= domain.MaxResends {
		return "", ErrResendLimit
	}

	code, err := generateCode()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), hashCost)
	if err != nil {
		return "", fmt.Errorf("hash verification code: %w", err)
	}

	now := s.now()
	v.CodeHash = string(hash)
	v.Attempts = 0
	v.ResendCount++
	v.ExpiresAt = now.Add(domain.CodeTTL)
	if err := s.repo.Update(ctx, v); err != nil {
		return "", fmt.Errorf("store verification: %w", err)
	}
	return code, nil
}

// Check verifies the supplied code against the pending verification. Every
// wrong code spends one attempt; once domain.MaxVerifyAttempts are spent the
// code is locked and even the correct value is rejected. A successful check
// consumes the verification so the code cannot be redeemed twice.
func (s *Service) Check(ctx context.Context, accountID, purpose, code string) error {
	v, err := s.repo.GetByAccountID(ctx, accountID, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNoPendingCode
		}
		return fmt.Errorf("load verification: %w", err)
	}
	if v.Consumed() {
		return ErrNoPendingCode
	}
	if v.Expired(s.now()) {
		return ErrCodeExpired
	}
	if v.Exhausted() {
		return ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(v.CodeHash), []byte(code)) != nil {
		v.Attempts++
		if err := s.repo.Update(ctx, v); err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}
		if v.Exhausted() {
			return ErrTooManyAttempts
		}
		return ErrCodeMismatch
	}

	consumedAt := s.now()
	v.ConsumedAt = &consumedAt
	if err := s.repo.Update(ctx, v); err != nil {
		return fmt.Errorf("consume verification: %w", err)
	}
	return nil
}

// generateCode draws a uniform random code with codeDigits digits.
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
