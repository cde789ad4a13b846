package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"
	"unicode"

	"github.com/google/uuid"

	apperrors "github.com/rNLKJA/moodist-server/pkg/errors"

	"github.com/rNLKJA/moodist-server/internal/credential"
	"github.com/rNLKJA/moodist-server/internal/directory"
	"github.com/rNLKJA/moodist-server/internal/domain"
	"github.com/rNLKJA/moodist-server/internal/event"
	"github.com/rNLKJA/moodist-server/internal/identity"
	"github.com/rNLKJA/moodist-server/internal/ratelimit"
	"github.com/rNLKJA/moodist-server/internal/repository"
	"github.com/rNLKJA/moodist-server/internal/token"
	"github.com/rNLKJA/moodist-server/internal/verification"
)

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

// allocateRetries bounds how many times a unique id write is retried when a
// concurrent verification claims the same id between the fast-path check and
// the write.
const allocateRetries = 3

// Login rejection delay bounds. Both credential rejection branches sleep a
// randomized amount in this range so response timing does not reveal whether
// the address or the password was wrong.
const (
	loginFailDelayMin    = 50 * time.Millisecond
	loginFailDelayJitter = 100 * time.Millisecond
)

// AccountService implements registration, verification, login, and the rest
// of the account lifecycle across the role partitions.
type AccountService struct {
	stores      repository.AccountStores
	sessions    repository.SessionRepository
	connections repository.ConnectionRepository
	directory   *directory.Directory
	hasher      *credential.Hasher
	tokens      *token.SessionManager
	links       *token.LinkTokenizer
	codes       *verification.Service
	allocator   *identity.Allocator
	limiter     *ratelimit.Limiter
	revocations token.RevocationList
	producer    *event.Producer
	logger      *slog.Logger

	// dummyHash absorbs the same argon2 cost on the unknown-address login
	// branch as a real password check.
	dummyHash string
	sleep     func(time.Duration)
}

// NewAccountService creates a new account service.
func NewAccountService(
	stores repository.AccountStores,
	sessions repository.SessionRepository,
	connections repository.ConnectionRepository,
	dir *directory.Directory,
	hasher *credential.Hasher,
	tokens *token.SessionManager,
	links *token.LinkTokenizer,
	codes *verification.Service,
	allocator *identity.Allocator,
	limiter *ratelimit.Limiter,
	revocations token.RevocationList,
	producer *event.Producer,
	logger *slog.Logger,
) *AccountService {
	dummyHash, err := hasher.Hash(uuid.New().String())
	if err != nil {
		logger.Error("failed to precompute login timing hash",
			slog.String("error", err.Error()),
		)
	}
	return &AccountService{
		stores:      stores,
		sessions:    sessions,
		connections: connections,
		directory:   dir,
		hasher:      hasher,
		tokens:      tokens,
		links:       links,
		codes:       codes,
		allocator:   allocator,
		limiter:     limiter,
		revocations: revocations,
		producer:    producer,
		logger:      logger,
		dummyHash:   dummyHash,
		sleep:       time.Sleep,
	}
}

// --- Input/Output types ---

// RegisterInput holds the parameters for registering a new account.
type RegisterInput struct {
	Email     string
	Password  string
	Role      string
	FirstName string
	LastName  string
}

// RegisterResult reports the outcome of a registration attempt. When the
// address already belongs to a verified account, Status is false and
// RedirectToReset tells the client to offer a password reset instead.
type RegisterResult struct {
	Status          bool   `json:"status"`
	RedirectToReset bool   `json:"redirect_to_reset,omitempty"`
	AccountID       string `json:"account_id,omitempty"`
}

// VerifyEmailInput holds the parameters for verifying an e-mail address.
// Either Token (link path) or Email+Code (code path) must be set.
type VerifyEmailInput struct {
	Token string
	Email string
	Code  string
}

// LoginInput holds the parameters for logging in.
type LoginInput struct {
	Email      string
	Password   string
	RemoteAddr string
}

// ChangeEmailInput holds the parameters for the two-step e-mail change.
// Step one sends NewEmail and Password to reserve the address; step two
// sends Password and the Code mailed to the new address.
type ChangeEmailInput struct {
	NewEmail string
	Password string
	Code     string
}

// --- Operations ---

// Register creates a pending account and issues verification credentials.
// Registering an address that already belongs to a verified account is not
// an error: the result redirects the caller to password reset. A pending
// duplicate gets fresh credentials and an updated password.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	if input.Email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if !domain.IsValidRole(input.Role) {
		return nil, apperrors.InvalidInput("role must be one of patient, clinician, admin")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	existing, existingRole, err := s.directory.FindByEmail(ctx, input.Email)
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		return nil, fmt.Errorf("check existing account: %w", err)
	}

	if existing != nil && existing.IsVerified {
		s.logger.InfoContext(ctx, "registration for verified address, redirecting to reset",
			slog.String("account_id", existing.ID),
		)
		return &RegisterResult{Status: false, RedirectToReset: true}, nil
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	var account *domain.Account
	var code string
	if existing != nil {
		// Pending duplicate: the latest registration wins.
		account = existing
		account.PasswordHash = passwordHash
		account.FirstName = input.FirstName
		account.LastName = input.LastName
		account.UpdatedAt = now
		if err := s.stores.ForRole(existingRole).Update(ctx, account); err != nil {
			return nil, fmt.Errorf("update pending account: %w", err)
		}

		// Re-registering spends the resend budget; otherwise looping
		// register would mint unlimited codes.
		code, err = s.codes.Resend(ctx, account.ID, token.PurposeVerifyEmail)
		if errors.Is(err, verification.ErrNoPendingCode) {
			code, err = s.codes.Issue(ctx, account.ID, account.Email, token.PurposeVerifyEmail)
		}
		if err != nil {
			if errors.Is(err, verification.ErrResendLimit) {
				return nil, apperrors.RateLimited("verification code resend limit reached")
			}
			return nil, fmt.Errorf("issue verification code: %w", err)
		}
	} else {
		account = &domain.Account{
			ID:           uuid.New().String(),
			Email:        input.Email,
			PasswordHash: passwordHash,
			Role:         input.Role,
			FirstName:    input.FirstName,
			LastName:     input.LastName,
			Status:       domain.StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.stores.ForRole(input.Role).Create(ctx, account); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil, apperrors.AlreadyExists("account", "email", input.Email)
			}
			return nil, fmt.Errorf("create account: %w", err)
		}

		code, err = s.codes.Issue(ctx, account.ID, account.Email, token.PurposeVerifyEmail)
		if err != nil {
			return nil, fmt.Errorf("issue verification code: %w", err)
		}
	}

	linkToken, err := s.links.Issue(account.Email, account.Role, token.PurposeVerifyEmail)
	if err != nil {
		return nil, fmt.Errorf("issue verification link: %w", err)
	}

	// Publish registration event (non-blocking on failure).
	if err := s.producer.PublishAccountRegistered(ctx, account, code, linkToken); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.registered event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "account registered",
		slog.String("account_id", account.ID),
		slog.String("role", account.Role),
	)

	return &RegisterResult{Status: true, AccountID: account.ID}, nil
}

// ResendVerification issues a fresh verification code for a pending account.
func (s *AccountService) ResendVerification(ctx context.Context, email string) error {
	if email == "" {
		return apperrors.InvalidInput("email is required")
	}

	account, _, err := s.directory.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return apperrors.NotFound("account", email)
		}
		return fmt.Errorf("find account: %w", err)
	}
	if account.IsVerified {
		return apperrors.Conflict("ALREADY_VERIFIED", "email is already verified")
	}

	code, err := s.codes.Resend(ctx, account.ID, token.PurposeVerifyEmail)
	if err != nil {
		switch {
		case errors.Is(err, verification.ErrResendLimit):
			return apperrors.RateLimited("verification code resend limit reached")
		case errors.Is(err, verification.ErrNoPendingCode):
			return apperrors.NotFoundCode("NO_PENDING_CODE", "no pending verification code, register again")
		default:
			return fmt.Errorf("resend verification code: %w", err)
		}
	}

	linkToken, err := s.links.Issue(account.Email, account.Role, token.PurposeVerifyEmail)
	if err != nil {
		return fmt.Errorf("issue verification link: %w", err)
	}

	if err := s.producer.PublishAccountRegistered(ctx, account, code, linkToken); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.registered event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// VerifyEmail confirms an account's address through either the link token or
// the numeric code, assigns its public identifier, and marks it verified.
// Verifying an already-verified account is a no-op success.
func (s *AccountService) VerifyEmail(ctx context.Context, input VerifyEmailInput) (*domain.Account, error) {
	var account *domain.Account
	var role string

	switch {
	case input.Token != "":
		claims, err := s.links.Verify(input.Token, token.PurposeVerifyEmail)
		if err != nil {
			return nil, apperrors.Unauthorized("invalid or expired verification token")
		}
		account, role, err = s.directory.FindByEmail(ctx, claims.Email)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return nil, apperrors.NotFound("account", claims.Email)
			}
			return nil, fmt.Errorf("find account: %w", err)
		}

	case input.Email != "" && input.Code != "":
		var err error
		account, role, err = s.directory.FindByEmail(ctx, input.Email)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return nil, apperrors.NotFound("account", input.Email)
			}
			return nil, fmt.Errorf("find account: %w", err)
		}
		if account.IsVerified {
			return account, nil
		}
		if err := s.codes.Check(ctx, account.ID, token.PurposeVerifyEmail, input.Code); err != nil {
			switch {
			case errors.Is(err, verification.ErrTooManyAttempts):
				return nil, apperrors.RateLimited("too many verification attempts, request a new code")
			case errors.Is(err, verification.ErrCodeExpired):
				return nil, apperrors.Unauthorized("verification code expired")
			case errors.Is(err, verification.ErrCodeMismatch), errors.Is(err, verification.ErrNoPendingCode):
				return nil, apperrors.Unauthorized("invalid verification code")
			default:
				return nil, fmt.Errorf("check verification code: %w", err)
			}
		}

	default:
		return nil, apperrors.InvalidInput("either token or email and code are required")
	}

	if account.IsVerified {
		return account, nil
	}

	now := time.Now().UTC()
	account.Status = domain.StatusVerified
	account.IsVerified = true
	account.VerifiedAt = &now
	account.UpdatedAt = now
	if err := s.assignUniqueID(ctx, s.stores.ForRole(role), account); err != nil {
		return nil, err
	}

	if err := s.producer.PublishAccountVerified(ctx, account); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.verified event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "email verified",
		slog.String("account_id", account.ID),
		slog.String("unique_id", account.UniqueID),
	)

	return account, nil
}

// Login authenticates an account and issues a session pair. Unknown address
// and wrong password produce the same error so callers cannot probe which
// addresses are registered.
func (s *AccountService) Login(ctx context.Context, input LoginInput) (*domain.Account, *domain.TokenPair, error) {
	if input.Email == "" || input.Password == "" {
		return nil, nil, apperrors.Unauthorized("invalid email or password")
	}

	allowed, err := s.limiter.Allow(ctx, ratelimit.LoginKey(input.Email, input.RemoteAddr))
	if err != nil {
		// Fail open: a limiter outage must not block logins.
		s.logger.ErrorContext(ctx, "login rate limit check failed",
			slog.String("error", err.Error()),
		)
	}
	if !allowed {
		return nil, nil, apperrors.RateLimited("too many login attempts, try again later")
	}

	account, role, err := s.directory.FindByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			// Burn the same hashing cost as the wrong-password branch so
			// the two rejections are not timing-distinguishable.
			_, _ = s.hasher.Verify(input.Password, s.dummyHash)
			return nil, nil, s.rejectLogin()
		}
		return nil, nil, fmt.Errorf("find account: %w", err)
	}

	ok, err := s.hasher.Verify(input.Password, account.PasswordHash)
	if err != nil {
		return nil, nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, nil, s.rejectLogin()
	}

	if !account.IsVerified {
		return nil, nil, apperrors.ForbiddenCode("EMAIL_NOT_VERIFIED", "email address is not verified")
	}

	now := time.Now().UTC()
	account.RecordLogin(now)
	account.UpdatedAt = now
	if err := s.stores.ForRole(role).Update(ctx, account); err != nil {
		s.logger.ErrorContext(ctx, "failed to record login history",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	tokens, err := s.generateTokenPair(ctx, account)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	if err := s.limiter.Reset(ctx, ratelimit.LoginKey(input.Email, input.RemoteAddr)); err != nil {
		s.logger.ErrorContext(ctx, "failed to reset login rate limit",
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishAccountLogin(ctx, account, input.RemoteAddr); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.login event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "login succeeded",
		slog.String("account_id", account.ID),
		slog.String("role", account.Role),
	)

	return account, tokens, nil
}

// Refresh validates a refresh token against its stored session and rotates
// it, returning a new token pair.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, apperrors.InvalidInput("refresh token is required")
	}

	tokenHash := token.HashToken(refreshToken)
	session, err := s.sessions.GetByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Unauthorized("invalid refresh token")
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.RevokedAt != nil {
		return nil, apperrors.Unauthorized("refresh token has been revoked")
	}
	if time.Now().UTC().After(session.ExpiresAt) {
		return nil, apperrors.Unauthorized("refresh token has expired")
	}

	store := s.stores.ForRole(session.Role)
	if store == nil {
		return nil, apperrors.Unauthorized("invalid refresh token")
	}
	account, err := store.GetByID(ctx, session.AccountID)
	if err != nil {
		return nil, fmt.Errorf("get account for token refresh: %w", err)
	}

	// Rotate: revoke the old session before issuing a new one.
	if err := s.sessions.Revoke(ctx, tokenHash); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke old session",
			slog.String("account_id", session.AccountID),
			slog.String("error", err.Error()),
		)
	}

	tokens, err := s.generateTokenPair(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.logger.InfoContext(ctx, "session refreshed",
		slog.String("account_id", account.ID),
	)

	return tokens, nil
}

// Logout stamps the account's last-logout time and revokes the session
// behind the given refresh token, plus every access token issued so far.
// Revoking an unknown refresh token is not an error.
func (s *AccountService) Logout(ctx context.Context, accountID, role, refreshToken string) error {
	if refreshToken == "" {
		return apperrors.InvalidInput("refresh token is required")
	}
	store := s.stores.ForRole(role)
	if store == nil {
		return apperrors.InvalidInput("unknown role")
	}
	account, err := store.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("get account for logout: %w", err)
	}

	now := time.Now().UTC()
	account.LastLogoutAt = &now
	account.UpdatedAt = now
	if err := store.Update(ctx, account); err != nil {
		return fmt.Errorf("stamp last logout: %w", err)
	}

	if err := s.sessions.Revoke(ctx, token.HashToken(refreshToken)); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("revoke session: %w", err)
	}

	if err := s.revocations.Revoke(ctx, accountID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke access tokens on logout",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "logged out",
		slog.String("account_id", accountID),
	)
	return nil
}

// ForgotPassword issues a reset code for the address. It always succeeds so
// callers cannot probe which addresses are registered.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	if email == "" {
		return apperrors.InvalidInput("email is required")
	}

	account, _, err := s.directory.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("find account: %w", err)
	}

	code, err := s.codes.Issue(ctx, account.ID, account.Email, token.PurposeResetPassword)
	if err != nil {
		return fmt.Errorf("issue reset code: %w", err)
	}

	if err := s.producer.PublishPasswordReset(ctx, account, code); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.password_reset event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password reset requested",
		slog.String("account_id", account.ID),
	)

	return nil
}

// ResetPassword sets a new password after checking the mailed reset code,
// then revokes every session and access token of the account. The code
// shares the verification attempt budget: five wrong codes lock it.
func (s *AccountService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if email == "" || code == "" {
		return apperrors.InvalidInput("email and code are required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	account, role, err := s.directory.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			// Same shape as a wrong code so the endpoint is not an
			// account-existence oracle.
			return apperrors.InvalidInput("invalid or expired reset code")
		}
		return fmt.Errorf("find account: %w", err)
	}

	if err := s.codes.Check(ctx, account.ID, token.PurposeResetPassword, code); err != nil {
		return mapCodeError(err, "reset")
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	account.PasswordHash = passwordHash
	account.UpdatedAt = time.Now().UTC()
	if err := s.stores.ForRole(role).Update(ctx, account); err != nil {
		return fmt.Errorf("update account password: %w", err)
	}

	if err := s.sessions.RevokeByAccountID(ctx, account.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke sessions after password reset",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.revocations.Revoke(ctx, account.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke access tokens after password reset",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishPasswordReset(ctx, account, ""); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.password_reset event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password reset completed",
		slog.String("account_id", account.ID),
	)

	return nil
}

// ChangePassword lets an authenticated account change its password. All
// sessions are revoked so stolen refresh tokens stop working.
func (s *AccountService) ChangePassword(ctx context.Context, accountID, role, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return apperrors.InvalidInput("current password is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if currentPassword == newPassword {
		return apperrors.InvalidInput("new password must be different from current password")
	}

	store := s.stores.ForRole(role)
	if store == nil {
		return apperrors.InvalidInput("unknown role")
	}
	account, err := store.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("get account for password change: %w", err)
	}

	ok, err := s.hasher.Verify(currentPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify current password: %w", err)
	}
	if !ok {
		return apperrors.Unauthorized("current password is incorrect")
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	account.PasswordHash = passwordHash
	account.UpdatedAt = time.Now().UTC()
	if err := store.Update(ctx, account); err != nil {
		return fmt.Errorf("update account password: %w", err)
	}

	if err := s.sessions.RevokeByAccountID(ctx, account.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke sessions after password change",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.revocations.Revoke(ctx, account.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke access tokens after password change",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishPasswordReset(ctx, account, ""); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.password_reset event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password changed",
		slog.String("account_id", account.ID),
	)

	return nil
}

// ChangeEmail runs the two-step e-mail change. Step one (NewEmail +
// Password) records the pending address and mails it a confirmation code;
// step two (Code + Password) checks the code and applies the change,
// notifying both addresses. The current password is re-entered on both steps
// so a hijacked session cannot move the account on its own, and the code
// shares the verification attempt budget.
func (s *AccountService) ChangeEmail(ctx context.Context, accountID, role string, input ChangeEmailInput) error {
	if input.Password == "" {
		return apperrors.InvalidInput("password is required")
	}

	store := s.stores.ForRole(role)
	if store == nil {
		return apperrors.InvalidInput("unknown role")
	}
	account, err := store.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("get account for email change: %w", err)
	}

	ok, err := s.hasher.Verify(input.Password, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return apperrors.Unauthorized("password is incorrect")
	}

	if input.Code != "" {
		return s.completeEmailChange(ctx, store, account, input.Code)
	}

	if input.NewEmail == "" {
		return apperrors.InvalidInput("new email is required")
	}

	used, err := s.directory.EmailInUse(ctx, input.NewEmail)
	if err != nil {
		return fmt.Errorf("check new email: %w", err)
	}
	if used {
		return apperrors.AlreadyExists("account", "email", input.NewEmail)
	}

	account.PendingEmail = input.NewEmail
	account.UpdatedAt = time.Now().UTC()
	if err := store.Update(ctx, account); err != nil {
		return fmt.Errorf("store pending email: %w", err)
	}

	code, err := s.codes.Issue(ctx, account.ID, input.NewEmail, token.PurposeChangeEmail)
	if err != nil {
		return fmt.Errorf("issue email change code: %w", err)
	}

	if err := s.producer.PublishEmailChangeRequested(ctx, account, input.NewEmail, code); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.email_change_requested event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "email change requested",
		slog.String("account_id", account.ID),
	)

	return nil
}

func (s *AccountService) completeEmailChange(ctx context.Context, store repository.AccountRepository, account *domain.Account, code string) error {
	if account.PendingEmail == "" {
		return apperrors.InvalidInput("no pending email change")
	}

	if err := s.codes.Check(ctx, account.ID, token.PurposeChangeEmail, code); err != nil {
		return mapCodeError(err, "email change")
	}

	// The address may have been claimed since step one.
	used, err := s.directory.EmailInUse(ctx, account.PendingEmail)
	if err != nil {
		return fmt.Errorf("check new email: %w", err)
	}
	if used {
		return apperrors.AlreadyExists("account", "email", account.PendingEmail)
	}

	oldEmail := account.Email
	account.Email = account.PendingEmail
	account.PendingEmail = ""
	account.UpdatedAt = time.Now().UTC()
	if err := store.Update(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return apperrors.AlreadyExists("account", "email", account.Email)
		}
		return fmt.Errorf("update account email: %w", err)
	}

	if err := s.producer.PublishEmailChanged(ctx, account, oldEmail); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.email_changed event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "email changed",
		slog.String("account_id", account.ID),
	)

	return nil
}

// GetAccount returns the account behind the given id and role.
func (s *AccountService) GetAccount(ctx context.Context, accountID, role string) (*domain.Account, error) {
	store := s.stores.ForRole(role)
	if store == nil {
		return nil, apperrors.InvalidInput("unknown role")
	}
	account, err := store.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("account", accountID)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// RotateUniqueID assigns the patient a fresh public identifier and severs
// every connection referencing them, since clinicians holding the old id
// are no longer trusted.
func (s *AccountService) RotateUniqueID(ctx context.Context, accountID, role string) (*domain.Account, error) {
	if role != domain.RolePatient {
		return nil, apperrors.Forbidden("only patients can rotate their identifier")
	}

	store := s.stores.ForRole(role)
	account, err := store.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account for id rotation: %w", err)
	}
	if !account.IsVerified {
		return nil, apperrors.ForbiddenCode("EMAIL_NOT_VERIFIED", "verify your email first")
	}

	oldID := account.UniqueID
	now := time.Now().UTC()
	account.UniqueIDChangedAt = &now
	account.UpdatedAt = now
	if err := s.assignUniqueID(ctx, store, account); err != nil {
		return nil, err
	}

	removed, err := s.connections.DeleteByPatient(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("sever connections: %w", err)
	}

	if err := s.producer.PublishIDRotated(ctx, account, oldID, removed); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.id_rotated event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "unique id rotated",
		slog.String("account_id", account.ID),
		slog.Int64("connections_removed", removed),
	)

	return account, nil
}

// --- Helpers ---

// rejectLogin sleeps a small randomized amount and returns the uniform
// credential rejection, keeping the unknown-address and wrong-password
// branches indistinguishable by both response shape and timing.
func (s *AccountService) rejectLogin() error {
	delay := loginFailDelayMin
	if jitter, err := rand.Int(rand.Reader, big.NewInt(int64(loginFailDelayJitter))); err == nil {
		delay += time.Duration(jitter.Int64())
	}
	s.sleep(delay)
	return apperrors.Unauthorized("invalid email or password")
}

// mapCodeError translates verification code failures for the password reset
// and e-mail change flows: a spent attempt budget is rate limiting, anything
// else about the code is bad input.
func mapCodeError(err error, what string) error {
	switch {
	case errors.Is(err, verification.ErrTooManyAttempts):
		return apperrors.RateLimited(fmt.Sprintf("too many %s attempts, request a new code", what))
	case errors.Is(err, verification.ErrCodeExpired),
		errors.Is(err, verification.ErrCodeMismatch),
		errors.Is(err, verification.ErrNoPendingCode):
		return apperrors.InvalidInput(fmt.Sprintf("invalid or expired %s code", what))
	default:
		return fmt.Errorf("check %s code: %w", what, err)
	}
}

// assignUniqueID allocates a public identifier for the account and persists
// it. The allocator only checks availability, so a concurrent allocation can
// still claim the same id first; the unique index reports that as
// ErrDuplicate and the write is retried with a fresh id.
func (s *AccountService) assignUniqueID(ctx context.Context, store repository.AccountRepository, account *domain.Account) error {
	for attempt := 0; attempt < allocateRetries; attempt++ {
		uniqueID, err := s.allocator.Allocate(ctx)
		if err != nil {
			return apperrors.Internal(fmt.Errorf("allocate unique id: %w", err))
		}
		account.UniqueID = uniqueID

		err = store.Update(ctx, account)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("update account: %w", err)
		}
		s.logger.WarnContext(ctx, "unique id collided on write, re-allocating",
			slog.String("account_id", account.ID),
			slog.String("unique_id", uniqueID),
		)
	}
	return apperrors.Internal(fmt.Errorf("assign unique id: %d consecutive collisions", allocateRetries))
}

// generateTokenPair creates an access and refresh token pair and stores the
// refresh session.
func (s *AccountService) generateTokenPair(ctx context.Context, account *domain.Account) (*domain.TokenPair, error) {
	accessToken, err := s.tokens.GenerateAccessToken(account.ID, account.Email, account.Role)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	refreshToken, tokenHash, expiresAt, err := s.tokens.GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	if err := s.sessions.Create(ctx, account.ID, account.Role, tokenHash, expiresAt); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// validatePassword enforces the password policy: at least 8 characters with
// an uppercase letter, a lowercase letter, and a digit.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return apperrors.InvalidInput("password must contain an uppercase letter, a lowercase letter, and a digit")
	}
	return nil
}
