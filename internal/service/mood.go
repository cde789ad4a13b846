package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/rNLKJA/moodist-server/pkg/errors"

	"github.com/rNLKJA/moodist-server/internal/domain"
	"github.com/rNLKJA/moodist-server/internal/event"
	"github.com/rNLKJA/moodist-server/internal/repository"
)

// logDateFormat is the calendar-day key for mood logs.
const logDateFormat = "2006-01-02"

// MoodService records and reads daily mood check-ins. Days are reckoned in
// the configured reporting location so "one log per day" follows the user's
// clock, not UTC.
type MoodService struct {
	logs        repository.MoodLogRepository
	connections repository.ConnectionRepository
	location    *time.Location
	producer    *event.Producer
	logger      *slog.Logger
	now         func() time.Time
}

// NewMoodService creates a mood service reporting days in the given
// location. A nil location falls back to UTC.
func NewMoodService(
	logs repository.MoodLogRepository,
	connections repository.ConnectionRepository,
	location *time.Location,
	producer *event.Producer,
	logger *slog.Logger,
) *MoodService {
	if location == nil {
		location = time.UTC
	}
	return &MoodService{
		logs:        logs,
		connections: connections,
		location:    location,
		producer:    producer,
		logger:      logger,
		now:         time.Now,
	}
}

// Log records today's mood check-in for the account. A second log on the
// same calendar day is a conflict.
func (s *MoodService) Log(ctx context.Context, accountID string, scores domain.MoodScores) (*domain.MoodLog, error) {
	if !scores.Valid() {
		return nil, apperrors.InvalidInput("each score must be between 0 and 3")
	}

	now := s.now()
	logDate := now.In(s.location).Format(logDateFormat)

	exists, err := s.logs.ExistsForDate(ctx, accountID, logDate)
	if err != nil {
		return nil, fmt.Errorf("check existing log: %w", err)
	}
	if exists {
		return nil, apperrors.Conflict("ALREADY_LOGGED", "mood already logged today")
	}

	log := &domain.MoodLog{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		LogDate:    logDate,
		Scores:     scores,
		TotalScore: scores.Total(),
		Timestamp:  now.UTC(),
	}
	if err := s.logs.Create(ctx, log); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Conflict("ALREADY_LOGGED", "mood already logged today")
		}
		return nil, fmt.Errorf("create mood log: %w", err)
	}

	if err := s.producer.PublishMoodLogged(ctx, log); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish mood.logged event",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "mood logged",
		slog.String("account_id", accountID),
		slog.String("log_date", logDate),
		slog.Int("total_score", log.TotalScore),
	)

	return log, nil
}

// HasLoggedToday reports whether the account already logged today.
func (s *MoodService) HasLoggedToday(ctx context.Context, accountID string) (bool, error) {
	logDate := s.now().In(s.location).Format(logDateFormat)
	exists, err := s.logs.ExistsForDate(ctx, accountID, logDate)
	if err != nil {
		return false, fmt.Errorf("check existing log: %w", err)
	}
	return exists, nil
}

// List returns a patient's logs, newest first. Patients read their own logs;
// clinicians must be connected to the patient.
func (s *MoodService) List(ctx context.Context, callerID, callerRole, patientID string, limit, offset int) ([]domain.MoodLog, int64, error) {
	if callerID != patientID {
		if callerRole != domain.RoleClinician {
			return nil, 0, apperrors.Forbidden("cannot read another account's mood logs")
		}
		if _, err := s.connections.GetByPair(ctx, callerID, patientID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, 0, apperrors.ForbiddenCode("NO_CONNECTION", "not connected to this patient")
			}
			return nil, 0, fmt.Errorf("check connection: %w", err)
		}
	}

	if limit <= 0 || limit > 100 {
		limit = 30
	}
	if offset < 0 {
		offset = 0
	}

	logs, total, err := s.logs.ListByAccount(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list mood logs: %w", err)
	}
	return logs, total, nil
}
