package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rNLKJA/moodist-server/internal/domain"
	"github.com/rNLKJA/moodist-server/internal/repository"
)

// MoodLogStore is the MongoDB-backed MoodLogRepository.
type MoodLogStore struct {
	c *mongo.Collection
}

// NewMoodLogStore creates a mood log store over the mood_logs collection.
func NewMoodLogStore(db *mongo.Database) *MoodLogStore {
	return &MoodLogStore{c: db.Collection("mood_logs")}
}

// EnsureMoodLogIndexes creates the one-log-per-day unique index.
func EnsureMoodLogIndexes(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("mood_logs")
	_, err := c.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "log_date", Value: -1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create mood log indexes: %w", err)
	}
	return nil
}

// Create inserts a new mood log.
func (s *MoodLogStore) Create(ctx context.Context, log *domain.MoodLog) error {
	if _, err := s.c.InsertOne(ctx, log); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert mood log: %w", repository.ErrDuplicate)
		}
		return fmt.Errorf("insert mood log: %w", err)
	}
	return nil
}

// ExistsForDate reports whether the account already logged on the given day.
func (s *MoodLogStore) ExistsForDate(ctx context.Context, accountID, logDate string) (bool, error) {
	n, err := s.c.CountDocuments(ctx,
		bson.M{"account_id": accountID, "log_date": logDate},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("check mood log for date: %w", err)
	}
	return n > 0, nil
}

// ListByAccount returns the account's logs newest first with the total count.
func (s *MoodLogStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]domain.MoodLog, int64, error) {
	filter := bson.M{"account_id": accountID}

	total, err := s.c.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count mood logs: %w", err)
	}

	cur, err := s.c.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "log_date", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list mood logs: %w", err)
	}
	defer cur.Close(ctx)

	var logs []domain.MoodLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, 0, fmt.Errorf("decode mood logs: %w", err)
	}
	return logs, total, nil
}
