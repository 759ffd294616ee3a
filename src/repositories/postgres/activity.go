package postgres

import (
	"context"
	"fmt"

	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActivityRepository appends audit records to PostgreSQL
type ActivityRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.ActivityRepository = (*ActivityRepository)(nil)

// NewActivityRepository creates an activity repository
func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

func (r *ActivityRepository) Append(ctx context.Context, record *models.ActivityRecord) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO activity_log (actor_id, action, details, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, record.ActorID, string(record.Action), record.Details, record.Timestamp).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

func (r *ActivityRepository) ListRecent(ctx context.Context, limit int) ([]models.ActivityRecord, error) {
	return r.query(ctx, `
		SELECT id, actor_id, action, details, created_at FROM activity_log
		ORDER BY id DESC LIMIT $1`, limit)
}

func (r *ActivityRepository) ListByActor(ctx context.Context, actorID int64, limit int) ([]models.ActivityRecord, error) {
	return r.query(ctx, `
		SELECT id, actor_id, action, details, created_at FROM activity_log
		WHERE actor_id = $2
		ORDER BY id DESC LIMIT $1`, limit, actorID)
}

func (r *ActivityRepository) query(ctx context.Context, sql string, limit int, args ...interface{}) ([]models.ActivityRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, sql, append([]interface{}{limit}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var records []models.ActivityRecord
	for rows.Next() {
		var rec models.ActivityRecord
		var action string
		if err := rows.Scan(&rec.ID, &rec.ActorID, &action, &rec.Details, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		rec.Action = models.Action(action)
		records = append(records, rec)
	}
	return records, rows.Err()
}
