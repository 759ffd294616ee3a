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

// OperatorRepository stores operator accounts in PostgreSQL
type OperatorRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.OperatorRepository = (*OperatorRepository)(nil)

// NewOperatorRepository creates an operator repository
func NewOperatorRepository(pool *pgxpool.Pool) *OperatorRepository {
	return &OperatorRepository{pool: pool}
}

func (r *OperatorRepository) Create(ctx context.Context, op *models.Operator) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO operators (id, username, password_hash, created_at, is_active)
		VALUES ($1, $2, $3, $4, $5)
	`, op.ID, op.Username, op.PasswordHash, op.CreatedAt, op.IsActive)
	if err != nil {
		return fmt.Errorf("failed to create operator: %w", err)
	}
	return nil
}

func (r *OperatorRepository) GetByUsername(ctx context.Context, username string) (*models.Operator, error) {
	var op models.Operator
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at, last_login, is_active
		FROM operators WHERE username = $1
	`, username).Scan(&op.ID, &op.Username, &op.PasswordHash, &op.CreatedAt, &op.LastLogin, &op.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repositories.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}
	return &op, nil
}

func (r *OperatorRepository) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE operators SET last_login = $2 WHERE username = $1`, username, at)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *OperatorRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM operators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count operators: %w", err)
	}
	return n, nil
}
