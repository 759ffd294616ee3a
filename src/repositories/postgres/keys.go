// Package postgres implements the repositories on top of pgx.
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

// Sealer protects access URLs at rest. A nil *services.URLSealer stores plain text.
type Sealer interface {
	Seal(keyID, accessURL string) ([]byte, error)
	Open(keyID string, stored []byte) (string, error)
}

type plainSealer struct{}

func (plainSealer) Seal(_, accessURL string) ([]byte, error) { return []byte(accessURL), nil }
func (plainSealer) Open(_ string, stored []byte) (string, error) { return string(stored), nil }

// KeyRepository stores access keys in PostgreSQL
type KeyRepository struct {
	pool   *pgxpool.Pool
	sealer Sealer
}

var _ repositories.KeyRepository = (*KeyRepository)(nil)

// NewKeyRepository creates a key repository. Access URLs are sealed when sealer is set.
func NewKeyRepository(pool *pgxpool.Pool, sealer Sealer) *KeyRepository {
	if sealer == nil {
		sealer = plainSealer{}
	}
	return &KeyRepository{pool: pool, sealer: sealer}
}

const keyColumns = `key_id, owner_kind, owner_actor_id, owner_label, name, access_url, traffic_cap, expires_at, created_at`

func (r *KeyRepository) scanKey(row pgx.Row) (*models.AccessKey, error) {
	var (
		k       models.AccessKey
		kind    string
		actorID *int64
		label   string
		sealed  []byte
	)
	if err := row.Scan(&k.ID, &kind, &actorID, &label, &k.Name, &sealed, &k.TrafficCap, &k.ExpiresAt, &k.CreatedAt); err != nil {
		return nil, err
	}

	switch models.OwnerKind(kind) {
	case models.OwnerKindActor:
		if actorID == nil {
			return nil, fmt.Errorf("key %s: actor owner without actor id", k.ID)
		}
		k.Owner = models.ActorOwner(*actorID)
	default:
		k.Owner = models.PlaceholderOwner(k.ID, label)
	}

	url, err := r.sealer.Open(k.ID, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access url of key %s: %w", k.ID, err)
	}
	k.AccessURL = url

	return &k, nil
}

// keyArgs returns the insert arguments in keyColumns order
func (r *KeyRepository) keyArgs(key *models.AccessKey) ([]interface{}, error) {
	sealed, err := r.sealer.Seal(key.ID, key.AccessURL)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access url: %w", err)
	}

	var actorID *int64
	if key.Owner.Kind == models.OwnerKindActor {
		id := key.Owner.ActorID
		actorID = &id
	}
	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return []interface{}{key.ID, string(key.Owner.Kind), actorID, key.Owner.Label, key.Name, sealed, key.TrafficCap, key.ExpiresAt, createdAt}, nil
}

func (r *KeyRepository) Upsert(ctx context.Context, key *models.AccessKey) error {
	args, err := r.keyArgs(key)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO access_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key_id) DO UPDATE SET
			owner_kind = EXCLUDED.owner_kind,
			owner_actor_id = EXCLUDED.owner_actor_id,
			owner_label = EXCLUDED.owner_label,
			name = EXCLUDED.name,
			access_url = EXCLUDED.access_url,
			traffic_cap = EXCLUDED.traffic_cap,
			expires_at = EXCLUDED.expires_at
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert key %s: %w", key.ID, err)
	}
	return nil
}

func (r *KeyRepository) InsertIfAbsent(ctx context.Context, key *models.AccessKey) (bool, error) {
	args, err := r.keyArgs(key)
	if err != nil {
		return false, err
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO access_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key_id) DO NOTHING
	`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert key %s: %w", key.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *KeyRepository) Get(ctx context.Context, keyID string) (*models.AccessKey, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+keyColumns+` FROM access_keys WHERE key_id = $1`, keyID)
	k, err := r.scanKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repositories.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", keyID, err)
	}
	return k, nil
}

func (r *KeyRepository) Delete(ctx context.Context, keyID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM access_keys WHERE key_id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", keyID, err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *KeyRepository) List(ctx context.Context) ([]models.AccessKey, error) {
	return r.query(ctx, `SELECT `+keyColumns+` FROM access_keys ORDER BY created_at DESC, key_id DESC`)
}

func (r *KeyRepository) ListByOwner(ctx context.Context, actorID int64) ([]models.AccessKey, error) {
	return r.query(ctx, `
		SELECT `+keyColumns+` FROM access_keys
		WHERE owner_kind = 'actor' AND owner_actor_id = $1
		ORDER BY created_at DESC, key_id DESC`, actorID)
}

func (r *KeyRepository) CountByOwner(ctx context.Context, actorID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM access_keys WHERE owner_kind = 'actor' AND owner_actor_id = $1`,
		actorID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count keys of actor %d: %w", actorID, err)
	}
	return n, nil
}

func (r *KeyRepository) OwnerOf(ctx context.Context, keyID string) (*models.Owner, error) {
	k, err := r.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	return &k.Owner, nil
}

func (r *KeyRepository) UpdateName(ctx context.Context, keyID, name string) error {
	return r.exec(ctx, keyID, `UPDATE access_keys SET name = $2 WHERE key_id = $1`, name)
}

func (r *KeyRepository) UpdateAccessURL(ctx context.Context, keyID, accessURL string) error {
	sealed, err := r.sealer.Seal(keyID, accessURL)
	if err != nil {
		return fmt.Errorf("failed to encrypt access url: %w", err)
	}
	return r.exec(ctx, keyID, `UPDATE access_keys SET access_url = $2 WHERE key_id = $1`, sealed)
}

func (r *KeyRepository) UpdateTrafficCap(ctx context.Context, keyID string, bytes int64) error {
	return r.exec(ctx, keyID, `UPDATE access_keys SET traffic_cap = $2 WHERE key_id = $1`, bytes)
}

func (r *KeyRepository) SwapTrafficCap(ctx context.Context, keyID string, old, bytes int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE access_keys SET traffic_cap = $3 WHERE key_id = $1 AND traffic_cap = $2`,
		keyID, old, bytes,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update key %s: %w", keyID, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, keyID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *KeyRepository) UpdateExpiry(ctx context.Context, keyID string, expiresAt *time.Time) error {
	return r.exec(ctx, keyID, `UPDATE access_keys SET expires_at = $2 WHERE key_id = $1`, expiresAt)
}

func (r *KeyRepository) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]models.AccessKey, error) {
	return r.query(ctx, `
		SELECT `+keyColumns+` FROM access_keys
		WHERE expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at`, cutoff)
}

func (r *KeyRepository) exec(ctx context.Context, keyID, sql string, arg interface{}) error {
	tag, err := r.pool.Exec(ctx, sql, keyID, arg)
	if err != nil {
		return fmt.Errorf("failed to update key %s: %w", keyID, err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *KeyRepository) query(ctx context.Context, sql string, args ...interface{}) ([]models.AccessKey, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}
	defer rows.Close()

	var keys []models.AccessKey
	for rows.Next() {
		k, err := r.scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}
