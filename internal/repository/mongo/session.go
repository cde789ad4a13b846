package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rNLKJA/moodist-server/internal/domain"
	"github.com/rNLKJA/moodist-server/internal/repository"
)

// SessionStore is the MongoDB-backed SessionRepository.
type SessionStore struct {
	c *mongo.Collection
}

// NewSessionStore creates a session store over the sessions collection.
func NewSessionStore(db *mongo.Database) *SessionStore {
	return &SessionStore{c: db.Collection("sessions")}
}

// EnsureSessionIndexes creates the token hash lookup index and a TTL index so
// expired sessions age out of the collection.
func EnsureSessionIndexes(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("sessions")
	_, err := c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "account_id", Value: 1}}},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return fmt.Errorf("create session indexes: %w", err)
	}
	return nil
}

// Create stores a new session row.
func (s *SessionStore) Create(ctx context.Context, accountID, role, tokenHash string, expiresAt time.Time) error {
	session := domain.Session{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Role:      role,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.c.InsertOne(ctx, session); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByHash loads a session by token hash.
func (s *SessionStore) GetByHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var session domain.Session
	if err := s.c.FindOne(ctx, bson.M{"token_hash": tokenHash}).Decode(&session); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &session, nil
}

// Revoke marks the session with the given token hash as revoked.
func (s *SessionStore) Revoke(ctx context.Context, tokenHash string) error {
	now := time.Now().UTC()
	res, err := s.c.UpdateOne(ctx,
		bson.M{"token_hash": tokenHash},
		bson.M{"$set": bson.M{"revoked_at": now}},
	)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RevokeByAccountID revokes every live session of the account.
func (s *SessionStore) RevokeByAccountID(ctx context.Context, accountID string) error {
	now := time.Now().UTC()
	_, err := s.c.UpdateMany(ctx,
		bson.M{"account_id": accountID, "revoked_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"revoked_at": now}},
	)
	if err != nil {
		return fmt.Errorf("revoke sessions by account: %w", err)
	}
	return nil
}
