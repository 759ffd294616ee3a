package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActorRepository stores chat actors in PostgreSQL
type ActorRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.ActorRepository = (*ActorRepository)(nil)

// NewActorRepository creates an actor repository
func NewActorRepository(pool *pgxpool.Pool) *ActorRepository {
	return &ActorRepository{pool: pool}
}

const actorColumns = `id, username, first_name, last_name, language_code, is_elevated, is_blocked, created_at, last_activity`

func scanActor(row pgx.Row) (*models.Actor, error) {
	var a models.Actor
	err := row.Scan(&a.ID, &a.Username, &a.FirstName, &a.LastName, &a.LanguageCode,
		&a.Elevated, &a.Blocked, &a.CreatedAt, &a.LastActivity)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *ActorRepository) Touch(ctx context.Context, p models.ActorProfile, at time.Time) (*models.Actor, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO actors (id, username, first_name, last_name, language_code, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			language_code = EXCLUDED.language_code,
			last_activity = EXCLUDED.last_activity
		RETURNING `+actorColumns,
		p.ID, p.Username, p.FirstName, p.LastName, p.LanguageCode, at)

	a, err := scanActor(row)
	if err != nil {
		return nil, fmt.Errorf("failed to touch actor %d: %w", p.ID, err)
	}
	return a, nil
}

func (r *ActorRepository) Get(ctx context.Context, actorID int64) (*models.Actor, error) {
	a, err := scanActor(r.pool.QueryRow(ctx, `SELECT `+actorColumns+` FROM actors WHERE id = $1`, actorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repositories.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get actor %d: %w", actorID, err)
	}
	return a, nil
}

func (r *ActorRepository) List(ctx context.Context) ([]models.Actor, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+actorColumns+` FROM actors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list actors: %w", err)
	}
	defer rows.Close()

	var actors []models.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan actor: %w", err)
		}
		actors = append(actors, *a)
	}
	return actors, rows.Err()
}

func (r *ActorRepository) SetBlocked(ctx context.Context, actorID int64, blocked bool) error {
	return r.setFlag(ctx, `UPDATE actors SET is_blocked = $2 WHERE id = $1`, actorID, blocked)
}

func (r *ActorRepository) SetElevated(ctx context.Context, actorID int64, elevated bool) error {
	return r.setFlag(ctx, `UPDATE actors SET is_elevated = $2 WHERE id = $1`, actorID, elevated)
}

func (r *ActorRepository) setFlag(ctx context.Context, sql string, actorID int64, value bool) error {
	tag, err := r.pool.Exec(ctx, sql, actorID, value)
	if err != nil {
		return fmt.Errorf("failed to update actor %d: %w", actorID, err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}
