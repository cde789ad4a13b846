package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rNLKJA/moodist-server/internal/domain"
	"github.com/rNLKJA/moodist-server/internal/repository"
)

// ConnectionStore is the MongoDB-backed ConnectionRepository.
type ConnectionStore struct {
	c *mongo.Collection
}

// NewConnectionStore creates a connection store over the connections
// collection.
func NewConnectionStore(db *mongo.Database) *ConnectionStore {
	return &ConnectionStore{c: db.Collection("connections")}
}

// EnsureConnectionIndexes creates the pair and per-party lookup indexes.
func EnsureConnectionIndexes(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("connections")
	_, err := c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "clinician_id", Value: 1}, {Key: "patient_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "patient_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create connection indexes: %w", err)
	}
	return nil
}

// Create inserts a new connection document.
func (s *ConnectionStore) Create(ctx context.Context, conn *domain.Connection) error {
	if _, err := s.c.InsertOne(ctx, conn); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert connection: %w", repository.ErrDuplicate)
		}
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

// GetByID loads a connection by document id.
func (s *ConnectionStore) GetByID(ctx context.Context, id string) (*domain.Connection, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetByPair loads the active connection between a clinician and a patient.
func (s *ConnectionStore) GetByPair(ctx context.Context, clinicianID, patientID string) (*domain.Connection, error) {
	return s.findOne(ctx, bson.M{
		"clinician_id": clinicianID,
		"patient_id":   patientID,
		"status":       domain.ConnectionActive,
	})
}

// ListByClinician returns all connections for the clinician.
func (s *ConnectionStore) ListByClinician(ctx context.Context, clinicianID string) ([]domain.Connection, error) {
	return s.list(ctx, bson.M{"clinician_id": clinicianID})
}

// ListByPatient returns all connections for the patient.
func (s *ConnectionStore) ListByPatient(ctx context.Context, patientID string) ([]domain.Connection, error) {
	return s.list(ctx, bson.M{"patient_id": patientID})
}

// Update replaces the connection document.
func (s *ConnectionStore) Update(ctx context.Context, conn *domain.Connection) error {
	conn.UpdatedAt = time.Now().UTC()
	res, err := s.c.ReplaceOne(ctx, bson.M{"_id": conn.ID}, conn)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes the connection document, and with it every embedded
// reference line.
func (s *ConnectionStore) Delete(ctx context.Context, id string) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteByPatient removes every connection referencing the patient.
func (s *ConnectionStore) DeleteByPatient(ctx context.Context, patientID string) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"patient_id": patientID})
	if err != nil {
		return 0, fmt.Errorf("delete connections by patient: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *ConnectionStore) findOne(ctx context.Context, filter bson.M) (*domain.Connection, error) {
	var conn domain.Connection
	if err := s.c.FindOne(ctx, filter).Decode(&conn); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find connection: %w", err)
	}
	return &conn, nil
}

func (s *ConnectionStore) list(ctx context.Context, filter bson.M) ([]domain.Connection, error) {
	cur, err := s.c.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer cur.Close(ctx)

	var conns []domain.Connection
	if err := cur.All(ctx, &conns); err != nil {
		return nil, fmt.Errorf("decode connections: %w", err)
	}
	return conns, nil
}
