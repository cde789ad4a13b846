package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rNLKJA/moodist-server/internal/domain"
	"github.com/rNLKJA/moodist-server/internal/repository"
)

// VerificationStore is the MongoDB-backed VerificationRepository.
type VerificationStore struct {
	c *mongo.Collection
}

// NewVerificationStore creates a verification store over the verifications
// collection.
func NewVerificationStore(db *mongo.Database) *VerificationStore {
	return &VerificationStore{c: db.Collection("verifications")}
}

// EnsureVerificationIndexes creates the account+purpose lookup index and a
// TTL index that clears stale codes an hour after expiry.
func EnsureVerificationIndexes(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("verifications")
	_, err := c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "purpose", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(3600),
		},
	})
	if err != nil {
		return fmt.Errorf("create verification indexes: %w", err)
	}
	return nil
}

// Upsert stores the verification, replacing any pending one for the same
// account and purpose.
func (s *VerificationStore) Upsert(ctx context.Context, v *domain.Verification) error {
	filter := bson.M{"account_id": v.AccountID, "purpose": v.Purpose}
	if _, err := s.c.ReplaceOne(ctx, filter, v, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert verification: %w", err)
	}
	return nil
}

// GetByAccountID loads the pending verification for the account and purpose.
func (s *VerificationStore) GetByAccountID(ctx context.Context, accountID, purpose string) (*domain.Verification, error) {
	var v domain.Verification
	filter := bson.M{"account_id": accountID, "purpose": purpose}
	if err := s.c.FindOne(ctx, filter).Decode(&v); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find verification: %w", err)
	}
	return &v, nil
}

// Update replaces the verification document.
func (s *VerificationStore) Update(ctx context.Context, v *domain.Verification) error {
	res, err := s.c.ReplaceOne(ctx, bson.M{"_id": v.ID}, v)
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes the verification for the account and purpose.
func (s *VerificationStore) Delete(ctx context.Context, accountID, purpose string) error {
	if _, err := s.c.DeleteOne(ctx, bson.M{"account_id": accountID, "purpose": purpose}); err != nil {
		return fmt.Errorf("delete verification: %w", err)
	}
	return nil
}
