package service

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/stretchr/testify/mock"

	pkgkafka "github.com/rNLKJA/moodist-server/pkg/kafka"

	"github.com/rNLKJA/moodist-server/internal/credential"
	"github.com/rNLKJA/moodist-server/internal/directory"
	"github.com/rNLKJA/moodist-server/internal/domain"
	"github.com/rNLKJA/moodist-server/internal/event"
	"github.com/rNLKJA/moodist-server/internal/identity"
	"github.com/rNLKJA/moodist-server/internal/ratelimit"
	"github.com/rNLKJA/moodist-server/internal/repository"
	"github.com/rNLKJA/moodist-server/internal/token"
	"github.com/rNLKJA/moodist-server/internal/verification"

	"github.com/redis/go-redis/v9"
)

// --- In-memory fakes ---
//
// Account, connection, verification, and mood log flows are
// read-modify-write sequences, so the tests run them against in-memory
// stores instead of scripted mocks.

type fakeAccountRepo struct {
	byID map[string]*domain.Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{byID: make(map[string]*domain.Account)}
}

func (f *fakeAccountRepo) Create(_ context.Context, account *domain.Account) error {
	for _, a := range f.byID {
		if a.Email == account.Email {
			return repository.ErrDuplicate
		}
	}
	cp := *account
	f.byID[account.ID] = &cp
	return nil
}

func (f *fakeAccountRepo) GetByID(_ context.Context, id string) (*domain.Account, error) {
	if a, ok := f.byID[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccountRepo) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range f.byID {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccountRepo) GetByUniqueID(_ context.Context, uniqueID string) (*domain.Account, error) {
	for _, a := range f.byID {
		if a.UniqueID != "" && a.UniqueID == uniqueID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccountRepo) Update(_ context.Context, account *domain.Account) error {
	if _, ok := f.byID[account.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *account
	f.byID[account.ID] = &cp
	return nil
}

func (f *fakeAccountRepo) Delete(_ context.Context, id string) error {
	delete(f.byID, id)
	return nil
}

func (f *fakeAccountRepo) IDInUse(_ context.Context, shortID string) (bool, error) {
	for id, a := range f.byID {
		if id == shortID || a.UniqueID == shortID {
			return true, nil
		}
	}
	return false, nil
}

type fakeConnectionRepo struct {
	byID map[string]*domain.Connection
}

func newFakeConnectionRepo() *fakeConnectionRepo {
	return &fakeConnectionRepo{byID: make(map[string]*domain.Connection)}
}

func (f *fakeConnectionRepo) Create(_ context.Context, conn *domain.Connection) error {
	for _, c := range f.byID {
		if c.ClinicianID == conn.ClinicianID && c.PatientID == conn.PatientID {
			return repository.ErrDuplicate
		}
	}
	cp := *conn
	f.byID[conn.ID] = &cp
	return nil
}

func (f *fakeConnectionRepo) GetByID(_ context.Context, id string) (*domain.Connection, error) {
	if c, ok := f.byID[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeConnectionRepo) GetByPair(_ context.Context, clinicianID, patientID string) (*domain.Connection, error) {
	for _, c := range f.byID {
		if c.ClinicianID == clinicianID && c.PatientID == patientID && c.Status == domain.ConnectionActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeConnectionRepo) ListByClinician(_ context.Context, clinicianID string) ([]domain.Connection, error) {
	var out []domain.Connection
	for _, c := range f.byID {
		if c.ClinicianID == clinicianID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeConnectionRepo) ListByPatient(_ context.Context, patientID string) ([]domain.Connection, error) {
	var out []domain.Connection
	for _, c := range f.byID {
		if c.PatientID == patientID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeConnectionRepo) Update(_ context.Context, conn *domain.Connection) error {
	if _, ok := f.byID[conn.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *conn
	f.byID[conn.ID] = &cp
	return nil
}

func (f *fakeConnectionRepo) Delete(_ context.Context, id string) error {
	if _, ok := f.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeConnectionRepo) DeleteByPatient(_ context.Context, patientID string) (int64, error) {
	var removed int64
	for id, c := range f.byID {
		if c.PatientID == patientID {
			delete(f.byID, id)
			removed++
		}
	}
	return removed, nil
}

type fakeSessionRepo struct {
	byHash map[string]*domain.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byHash: make(map[string]*domain.Session)}
}

func (f *fakeSessionRepo) Create(_ context.Context, accountID, role, tokenHash string, expiresAt time.Time) error {
	f.byHash[tokenHash] = &domain.Session{
		ID:        tokenHash,
		AccountID: accountID,
		Role:      role,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (f *fakeSessionRepo) GetByHash(_ context.Context, tokenHash string) (*domain.Session, error) {
	if s, ok := f.byHash[tokenHash]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSessionRepo) Revoke(_ context.Context, tokenHash string) error {
	s, ok := f.byHash[tokenHash]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	s.RevokedAt = &now
	return nil
}

func (f *fakeSessionRepo) RevokeByAccountID(_ context.Context, accountID string) error {
	now := time.Now().UTC()
	for _, s := range f.byHash {
		if s.AccountID == accountID && s.RevokedAt == nil {
			s.RevokedAt = &now
		}
	}
	return nil
}

func (f *fakeSessionRepo) activeCount(accountID string) int {
	n := 0
	for _, s := range f.byHash {
		if s.AccountID == accountID && s.RevokedAt == nil {
			n++
		}
	}
	return n
}

type fakeVerificationRepo struct {
	docs map[string]*domain.Verification
}

func newFakeVerificationRepo() *fakeVerificationRepo {
	return &fakeVerificationRepo{docs: make(map[string]*domain.Verification)}
}

func verifKey(accountID, purpose string) string { return accountID + "/" + purpose }

func (f *fakeVerificationRepo) Upsert(_ context.Context, v *domain.Verification) error {
	cp := *v
	f.docs[verifKey(v.AccountID, v.Purpose)] = &cp
	return nil
}

func (f *fakeVerificationRepo) GetByAccountID(_ context.Context, accountID, purpose string) (*domain.Verification, error) {
	if v, ok := f.docs[verifKey(accountID, purpose)]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeVerificationRepo) Update(_ context.Context, v *domain.Verification) error {
	if _, ok := f.docs[verifKey(v.AccountID, v.Purpose)]; !ok {
		return repository.ErrNotFound
	}
	cp := *v
	f.docs[verifKey(v.AccountID, v.Purpose)] = &cp
	return nil
}

func (f *fakeVerificationRepo) Delete(_ context.Context, accountID, purpose string) error {
	delete(f.docs, verifKey(accountID, purpose))
	return nil
}

type fakeMoodLogRepo struct {
	logs []domain.MoodLog
}

func newFakeMoodLogRepo() *fakeMoodLogRepo { return &fakeMoodLogRepo{} }

func (f *fakeMoodLogRepo) Create(_ context.Context, log *domain.MoodLog) error {
	for _, l := range f.logs {
		if l.AccountID == log.AccountID && l.LogDate == log.LogDate {
			return repository.ErrDuplicate
		}
	}
	f.logs = append(f.logs, *log)
	return nil
}

func (f *fakeMoodLogRepo) ExistsForDate(_ context.Context, accountID, logDate string) (bool, error) {
	for _, l := range f.logs {
		if l.AccountID == accountID && l.LogDate == logDate {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMoodLogRepo) ListByAccount(_ context.Context, accountID string, limit, offset int) ([]domain.MoodLog, int64, error) {
	var all []domain.MoodLog
	for _, l := range f.logs {
		if l.AccountID == accountID {
			all = append(all, l)
		}
	}
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// --- Scripted mocks ---

// collidingAccountRepo wraps fakeAccountRepo and fails the next n Update
// calls with ErrDuplicate, simulating a lost unique index race.
type collidingAccountRepo struct {
	*fakeAccountRepo
	collisions int
}

func (r *collidingAccountRepo) Update(ctx context.Context, account *domain.Account) error {
	if r.collisions > 0 {
		r.collisions--
		return repository.ErrDuplicate
	}
	return r.fakeAccountRepo.Update(ctx, account)
}

type mockSessionRepository struct {
	mock.Mock
}

func (m *mockSessionRepository) Create(ctx context.Context, accountID, role, tokenHash string, expiresAt time.Time) error {
	args := m.Called(ctx, accountID, role, tokenHash, expiresAt)
	return args.Error(0)
}

func (m *mockSessionRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *mockSessionRepository) Revoke(ctx context.Context, tokenHash string) error {
	args := m.Called(ctx, tokenHash)
	return args.Error(0)
}

func (m *mockSessionRepository) RevokeByAccountID(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

// --- Test helpers ---

type testEnv struct {
	patients    *fakeAccountRepo
	clinicians  *fakeAccountRepo
	admins      *fakeAccountRepo
	stores      repository.AccountStores
	sessions    *fakeSessionRepo
	connections *fakeConnectionRepo
	verifRepo   *fakeVerificationRepo
	codes       *verification.Service
	links       *token.LinkTokenizer
	revocations *token.MemoryRevocationList
	accounts    *AccountService
	conns       *ConnectionService
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEventProducer() *event.Producer {
	logger := newTestLogger()
	cfg := pkgkafka.DefaultProducerConfig([]string{"localhost:9092"})
	// Async so tests never wait on a broker.
	cfg.Async = true
	return event.NewProducer(pkgkafka.NewProducer(cfg, logger), logger)
}

// newTestLimiter points at an unreachable Redis with tiny timeouts; the
// limiter fails open so login flows proceed.
func newTestLimiter() *ratelimit.Limiter {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: time.Millisecond,
		MaxRetries:  -1,
	})
	return ratelimit.NewLimiter(client, "test", 10, time.Minute)
}

func newTestEnv() *testEnv {
	env := &testEnv{
		patients:    newFakeAccountRepo(),
		clinicians:  newFakeAccountRepo(),
		admins:      newFakeAccountRepo(),
		sessions:    newFakeSessionRepo(),
		connections: newFakeConnectionRepo(),
		verifRepo:   newFakeVerificationRepo(),
	}
	env.stores = repository.AccountStores{
		domain.RolePatient:   env.patients,
		domain.RoleClinician: env.clinicians,
		domain.RoleAdmin:     env.admins,
	}

	logger := newTestLogger()
	producer := newTestEventProducer()
	dir := directory.New(env.stores)
	env.codes = verification.NewService(env.verifRepo)
	env.links = token.NewLinkTokenizer("test-link-secret")
	env.revocations = token.NewMemoryRevocationList()

	env.accounts = NewAccountService(
		env.stores,
		env.sessions,
		env.connections,
		dir,
		credential.NewHasher("test-pepper"),
		token.NewSessionManager("test-session-secret", 15*time.Minute, 7*24*time.Hour),
		env.links,
		env.codes,
		identity.NewAllocator(env.stores),
		newTestLimiter(),
		env.revocations,
		producer,
		logger,
	)
	// Rejection delays are covered explicitly; everything else should not
	// wait on them.
	env.accounts.sleep = func(time.Duration) {}
	env.conns = NewConnectionService(env.connections, dir, producer, logger)
	return env
}

// registerVerified pushes an account through register and verify and returns
// its stored state.
func (env *testEnv) registerVerified(ctx context.Context, email, password, role string) (*domain.Account, error) {
	result, err := env.accounts.Register(ctx, RegisterInput{
		Email:     email,
		Password:  password,
		Role:      role,
		FirstName: "Test",
		LastName:  "Account",
	})
	if err != nil {
		return nil, err
	}

	code, err := env.codes.Resend(ctx, result.AccountID, token.PurposeVerifyEmail)
	if err != nil {
		return nil, err
	}
	return env.accounts.VerifyEmail(ctx, VerifyEmailInput{Email: email, Code: code})
}
