package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/rNLKJA/moodist-server/pkg/errors"

	"github.com/rNLKJA/moodist-server/internal/directory"
	"github.com/rNLKJA/moodist-server/internal/domain"
	"github.com/rNLKJA/moodist-server/internal/event"
	"github.com/rNLKJA/moodist-server/internal/repository"
)

// ConnectionService manages clinician-patient connections and their
// reference lines.
type ConnectionService struct {
	connections repository.ConnectionRepository
	directory   *directory.Directory
	producer    *event.Producer
	logger      *slog.Logger
}

// NewConnectionService creates a new connection service.
func NewConnectionService(
	connections repository.ConnectionRepository,
	dir *directory.Directory,
	producer *event.Producer,
	logger *slog.Logger,
) *ConnectionService {
	return &ConnectionService{
		connections: connections,
		directory:   dir,
		producer:    producer,
		logger:      logger,
	}
}

// AddReferenceInput holds the parameters for adding a reference line.
// Datetime is optional RFC3339; empty means now.
type AddReferenceInput struct {
	Description string
	Datetime    string
}

// Connect links the clinician to the patient behind the given public
// identifier. The patient must exist and be verified, and the pair must not
// already be connected.
func (s *ConnectionService) Connect(ctx context.Context, clinicianID, patientUniqueID string) (*domain.Connection, error) {
	if patientUniqueID == "" {
		return nil, apperrors.InvalidInput("patient unique id is required")
	}

	patient, role, err := s.directory.FindByUniqueID(ctx, patientUniqueID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, apperrors.NotFound("patient", patientUniqueID)
		}
		return nil, fmt.Errorf("find patient: %w", err)
	}
	if role != domain.RolePatient {
		return nil, apperrors.NotFound("patient", patientUniqueID)
	}
	if !patient.IsVerified {
		return nil, apperrors.ForbiddenCode("EMAIL_NOT_VERIFIED", "patient has not verified their email")
	}

	if existing, err := s.connections.GetByPair(ctx, clinicianID, patient.ID); err == nil && existing != nil {
		return nil, apperrors.Conflict("CONNECTION_EXISTS", "already connected to this patient")
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check existing connection: %w", err)
	}

	now := time.Now().UTC()
	conn := &domain.Connection{
		ID:              uuid.New().String(),
		ClinicianID:     clinicianID,
		PatientID:       patient.ID,
		PatientUniqueID: patient.UniqueID,
		Status:          domain.ConnectionActive,
		ReferenceLines:  []domain.ReferenceLine{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.connections.Create(ctx, conn); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Conflict("CONNECTION_EXISTS", "already connected to this patient")
		}
		return nil, fmt.Errorf("create connection: %w", err)
	}

	if err := s.producer.PublishConnectionCreated(ctx, event.ConnectionData{
		ConnectionID:    conn.ID,
		ClinicianID:     clinicianID,
		PatientID:       patient.ID,
		PatientEmail:    patient.Email,
		PatientUniqueID: patient.UniqueID,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish connection.created event",
			slog.String("connection_id", conn.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "connection created",
		slog.String("connection_id", conn.ID),
		slog.String("clinician_id", clinicianID),
		slog.String("patient_id", patient.ID),
	)

	return conn, nil
}

// Disconnect removes the connection. Reference lines are embedded in the
// document so they are removed with it. Either party may disconnect.
func (s *ConnectionService) Disconnect(ctx context.Context, accountID, connectionID string) error {
	conn, err := s.getOwned(ctx, accountID, connectionID)
	if err != nil {
		return err
	}

	if err := s.connections.Delete(ctx, conn.ID); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}

	if err := s.producer.PublishConnectionRemoved(ctx, event.ConnectionData{
		ConnectionID:    conn.ID,
		ClinicianID:     conn.ClinicianID,
		PatientID:       conn.PatientID,
		PatientUniqueID: conn.PatientUniqueID,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish connection.removed event",
			slog.String("connection_id", conn.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "connection removed",
		slog.String("connection_id", conn.ID),
	)

	return nil
}

// List returns the caller's connections, from whichever side they are on.
func (s *ConnectionService) List(ctx context.Context, accountID, role string) ([]domain.Connection, error) {
	switch role {
	case domain.RoleClinician:
		conns, err := s.connections.ListByClinician(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("list connections: %w", err)
		}
		return conns, nil
	case domain.RolePatient:
		conns, err := s.connections.ListByPatient(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("list connections: %w", err)
		}
		return conns, nil
	default:
		return nil, apperrors.Forbidden("only patients and clinicians have connections")
	}
}

// Status reports whether the clinician is connected to the patient behind
// the given public identifier.
func (s *ConnectionService) Status(ctx context.Context, clinicianID, patientUniqueID string) (*domain.Connection, bool, error) {
	patient, role, err := s.directory.FindByUniqueID(ctx, patientUniqueID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, false, apperrors.NotFound("patient", patientUniqueID)
		}
		return nil, false, fmt.Errorf("find patient: %w", err)
	}
	if role != domain.RolePatient {
		return nil, false, apperrors.NotFound("patient", patientUniqueID)
	}

	conn, err := s.connections.GetByPair(ctx, clinicianID, patient.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("check connection: %w", err)
	}
	return conn, true, nil
}

// GetConnectedPatient returns the patient behind the given public identifier
// provided the clinician is connected to them.
func (s *ConnectionService) GetConnectedPatient(ctx context.Context, clinicianID, patientUniqueID string) (*domain.Account, error) {
	patient, role, err := s.directory.FindByUniqueID(ctx, patientUniqueID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, apperrors.NotFound("patient", patientUniqueID)
		}
		return nil, fmt.Errorf("find patient: %w", err)
	}
	if role != domain.RolePatient {
		return nil, apperrors.NotFound("patient", patientUniqueID)
	}

	if _, err := s.connections.GetByPair(ctx, clinicianID, patient.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ForbiddenCode("NO_CONNECTION", "not connected to this patient")
		}
		return nil, fmt.Errorf("check connection: %w", err)
	}

	return patient, nil
}

// IsConnected reports whether the clinician has an active connection to the
// patient with the given account id.
func (s *ConnectionService) IsConnected(ctx context.Context, clinicianID, patientID string) (bool, error) {
	_, err := s.connections.GetByPair(ctx, clinicianID, patientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check connection: %w", err)
	}
	return true, nil
}

// AddReference appends a reference line to the connection. The assigned
// ref_id is one greater than the highest ever assigned, so deleted ids are
// never reissued.
func (s *ConnectionService) AddReference(ctx context.Context, clinicianID, connectionID string, input AddReferenceInput) (*domain.ReferenceLine, error) {
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, apperrors.InvalidInput("description is required")
	}
	if len(description) > domain.MaxReferenceDescriptionLength {
		return nil, apperrors.InvalidInput(fmt.Sprintf("description must be at most %d characters", domain.MaxReferenceDescriptionLength))
	}

	now := time.Now().UTC()
	datetime := now
	if input.Datetime != "" {
		parsed, err := time.Parse(time.RFC3339, input.Datetime)
		if err != nil {
			return nil, apperrors.InvalidInput("datetime must be RFC3339")
		}
		datetime = parsed.UTC()
	}

	conn, err := s.getOwnedByClinician(ctx, clinicianID, connectionID)
	if err != nil {
		return nil, err
	}

	line := domain.ReferenceLine{
		RefID:       conn.NextRefID(),
		Description: description,
		Datetime:    datetime,
		ClinicianID: clinicianID,
		CreatedAt:   now,
	}
	conn.AddReferenceLine(line)
	conn.UpdatedAt = now
	if err := s.connections.Update(ctx, conn); err != nil {
		return nil, fmt.Errorf("update connection: %w", err)
	}

	s.logger.InfoContext(ctx, "reference line added",
		slog.String("connection_id", conn.ID),
		slog.Int("ref_id", line.RefID),
	)

	return &line, nil
}

// UpdateReference rewrites an existing reference line's description and,
// when a datetime is supplied, its timestamp. The ref_id is stable across
// updates.
func (s *ConnectionService) UpdateReference(ctx context.Context, clinicianID, connectionID string, refID int, input AddReferenceInput) (*domain.ReferenceLine, error) {
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, apperrors.InvalidInput("description is required")
	}
	if len(description) > domain.MaxReferenceDescriptionLength {
		return nil, apperrors.InvalidInput(fmt.Sprintf("description must be at most %d characters", domain.MaxReferenceDescriptionLength))
	}

	var datetime *time.Time
	if input.Datetime != "" {
		parsed, err := time.Parse(time.RFC3339, input.Datetime)
		if err != nil {
			return nil, apperrors.InvalidInput("datetime must be RFC3339")
		}
		utc := parsed.UTC()
		datetime = &utc
	}

	conn, err := s.getOwnedByClinician(ctx, clinicianID, connectionID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := range conn.ReferenceLines {
		if conn.ReferenceLines[i].RefID == refID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperrors.NotFoundCode("REFERENCE_NOT_FOUND", fmt.Sprintf("reference line %d not found", refID))
	}

	conn.ReferenceLines[idx].Description = description
	if datetime != nil {
		conn.ReferenceLines[idx].Datetime = *datetime
	}
	conn.UpdatedAt = time.Now().UTC()
	if err := s.connections.Update(ctx, conn); err != nil {
		return nil, fmt.Errorf("update connection: %w", err)
	}

	s.logger.InfoContext(ctx, "reference line updated",
		slog.String("connection_id", conn.ID),
		slog.Int("ref_id", refID),
	)

	updated := conn.ReferenceLines[idx]
	return &updated, nil
}

// DeleteReference removes a reference line by its ref_id.
func (s *ConnectionService) DeleteReference(ctx context.Context, clinicianID, connectionID string, refID int) error {
	conn, err := s.getOwnedByClinician(ctx, clinicianID, connectionID)
	if err != nil {
		return err
	}

	kept := conn.ReferenceLines[:0]
	found := false
	for _, line := range conn.ReferenceLines {
		if line.RefID == refID {
			found = true
			continue
		}
		kept = append(kept, line)
	}
	if !found {
		return apperrors.NotFoundCode("REFERENCE_NOT_FOUND", fmt.Sprintf("reference line %d not found", refID))
	}

	conn.ReferenceLines = kept
	conn.UpdatedAt = time.Now().UTC()
	if err := s.connections.Update(ctx, conn); err != nil {
		return fmt.Errorf("update connection: %w", err)
	}

	s.logger.InfoContext(ctx, "reference line deleted",
		slog.String("connection_id", conn.ID),
		slog.Int("ref_id", refID),
	)

	return nil
}

// ListReferences returns the connection's reference lines. Both parties may
// read them.
func (s *ConnectionService) ListReferences(ctx context.Context, accountID, connectionID string) ([]domain.ReferenceLine, error) {
	conn, err := s.getOwned(ctx, accountID, connectionID)
	if err != nil {
		return nil, err
	}
	return conn.ReferenceLines, nil
}

// getOwned loads the connection and checks the caller is one of its parties.
func (s *ConnectionService) getOwned(ctx context.Context, accountID, connectionID string) (*domain.Connection, error) {
	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("connection", connectionID)
		}
		return nil, fmt.Errorf("get connection: %w", err)
	}
	if conn.ClinicianID != accountID && conn.PatientID != accountID {
		return nil, apperrors.ForbiddenCode("NO_CONNECTION", "not a party to this connection")
	}
	return conn, nil
}

// getOwnedByClinician loads the connection and checks the caller is its
// clinician. Reference lines are written by the clinician side only.
func (s *ConnectionService) getOwnedByClinician(ctx context.Context, clinicianID, connectionID string) (*domain.Connection, error) {
	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("connection", connectionID)
		}
		return nil, fmt.Errorf("get connection: %w", err)
	}
	if conn.ClinicianID != clinicianID {
		return nil, apperrors.ForbiddenCode("NO_CONNECTION", "not connected to this patient")
	}
	return conn, nil
}
