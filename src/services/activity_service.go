package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/logging"
	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
	"github.com/rs/zerolog"
)

// ActivityService writes the audit trail of key and actor mutations
type ActivityService struct {
	repo    repositories.ActivityRepository
	enabled bool
	logger  zerolog.Logger
	now     func() time.Time
}

// NewActivityService creates a new activity service.
// With enabled=false Record is a no-op while reads still work.
func NewActivityService(repo repositories.ActivityRepository, enabled bool) *ActivityService {
	return &ActivityService{
		repo:    repo,
		enabled: enabled,
		logger:  logging.NewLogger("activity"),
		now:     time.Now,
	}
}

// Record appends an activity entry. Storage failures are logged, not returned,
// so a broken audit log never fails a completed mutation.
func (s *ActivityService) Record(ctx context.Context, actorID int64, action models.Action, format string, args ...interface{}) {
	if s == nil || !s.enabled {
		return
	}

	rec := &models.ActivityRecord{
		ActorID:   actorID,
		Action:    action,
		Details:   fmt.Sprintf(format, args...),
		Timestamp: s.now(),
	}
	if err := s.repo.Append(ctx, rec); err != nil {
		s.logger.Error().Err(err).Int64("actor_id", actorID).Str("action", string(action)).Msg("failed to append activity record")
	}
}

// Recent returns the latest records, newest first
func (s *ActivityService) Recent(ctx context.Context, limit int) ([]models.ActivityRecord, error) {
	records, err := s.repo.ListRecent(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return records, nil
}

// ForActor returns the latest records of one actor, newest first
func (s *ActivityService) ForActor(ctx context.Context, actorID int64, limit int) ([]models.ActivityRecord, error) {
	records, err := s.repo.ListByActor(ctx, actorID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list activity of actor %d: %w", actorID, err)
	}
	return records, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	}
	return limit
}
