package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rNLKJA/moodist-server/internal/domain"
	"github.com/rNLKJA/moodist-server/internal/repository"
)

// AccountStore is the MongoDB-backed AccountRepository for one role
// partition.
type AccountStore struct {
	c *mongo.Collection
}

// NewAccountStore creates an account store over the collection backing the
// given role.
func NewAccountStore(db *mongo.Database, role string) *AccountStore {
	return &AccountStore{c: db.Collection(domain.PartitionForRole(role))}
}

// NewAccountStores builds the full partition map, one store per role.
func NewAccountStores(db *mongo.Database) repository.AccountStores {
	stores := make(repository.AccountStores, len(domain.ValidRoles()))
	for _, role := range domain.ValidRoles() {
		stores[role] = NewAccountStore(db, role)
	}
	return stores
}

// EnsureAccountIndexes creates the unique email and sparse unique_id indexes
// on every partition.
func EnsureAccountIndexes(ctx context.Context, db *mongo.Database) error {
	for _, role := range domain.ValidRoles() {
		c := db.Collection(domain.PartitionForRole(role))
		_, err := c.Indexes().CreateMany(ctx, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "unique_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
		})
		if err != nil {
			return fmt.Errorf("create %s indexes: %w", domain.PartitionForRole(role), err)
		}
	}
	return nil
}

// Create inserts a new account document.
func (s *AccountStore) Create(ctx context.Context, account *domain.Account) error {
	account.Email = normalizeEmail(account.Email)
	if _, err := s.c.InsertOne(ctx, account); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert account: %w", repository.ErrDuplicate)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByID loads an account by document id.
func (s *AccountStore) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetByEmail loads an account by normalized e-mail.
func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.findOne(ctx, bson.M{"email": normalizeEmail(email)})
}

// GetByUniqueID loads an account by its short public identifier.
func (s *AccountStore) GetByUniqueID(ctx context.Context, uniqueID string) (*domain.Account, error) {
	return s.findOne(ctx, bson.M{"unique_id": uniqueID})
}

// Update replaces the account document. A unique index collision, which can
// happen when a freshly allocated unique_id races another verification,
// surfaces as ErrDuplicate so callers can re-allocate.
func (s *AccountStore) Update(ctx context.Context, account *domain.Account) error {
	account.UpdatedAt = time.Now().UTC()
	res, err := s.c.ReplaceOne(ctx, bson.M{"_id": account.ID}, account)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("update account: %w", repository.ErrDuplicate)
		}
		return fmt.Errorf("update account: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes the account document.
func (s *AccountStore) Delete(ctx context.Context, id string) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// IDInUse checks both the document id and the unique_id field: legacy
// documents used the short identifier as their _id.
func (s *AccountStore) IDInUse(ctx context.Context, shortID string) (bool, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{
		"$or": bson.A{
			bson.M{"_id": shortID},
			bson.M{"unique_id": shortID},
		},
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check id in use: %w", err)
	}
	return n > 0, nil
}

func (s *AccountStore) findOne(ctx context.Context, filter bson.M) (*domain.Account, error) {
	var a domain.Account
	if err := s.c.FindOne(ctx, filter).Decode(&a); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &a, nil
}

// normalizeEmail lowercases and trims an e-mail for storage and lookup.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
