package memory

import (
	"context"
	"sync"

	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
)

// ActivityLog is an in-memory repositories.ActivityRepository
type ActivityLog struct {
	mu      sync.RWMutex
	records []models.ActivityRecord
}

var _ repositories.ActivityRepository = (*ActivityLog)(nil)

// NewActivityLog creates an empty log
func NewActivityLog() *ActivityLog {
	return &ActivityLog{}
}

func (l *ActivityLog) Append(ctx context.Context, record *models.ActivityRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	record.ID = int64(len(l.records) + 1)
	l.records = append(l.records, *record)
	return nil
}

func (l *ActivityLog) ListRecent(ctx context.Context, limit int) ([]models.ActivityRecord, error) {
	return l.collect(limit, func(models.ActivityRecord) bool { return true }), nil
}

func (l *ActivityLog) ListByActor(ctx context.Context, actorID int64, limit int) ([]models.ActivityRecord, error) {
	return l.collect(limit, func(r models.ActivityRecord) bool { return r.ActorID == actorID }), nil
}

// collect walks the log backwards so the newest records come first
func (l *ActivityLog) collect(limit int, match func(models.ActivityRecord) bool) []models.ActivityRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.ActivityRecord
	for i := len(l.records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if match(l.records[i]) {
			out = append(out, l.records[i])
		}
	}
	return out
}
