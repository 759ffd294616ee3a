package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// KeyRepository is the local key store. Writes are keyed by the key id.
type KeyRepository interface {
	Upsert(ctx context.Context, key *models.AccessKey) error
	// InsertIfAbsent stores key unless a row with its id exists and
	// reports whether it was inserted
	InsertIfAbsent(ctx context.Context, key *models.AccessKey) (bool, error)
	Get(ctx context.Context, keyID string) (*models.AccessKey, error)
	Delete(ctx context.Context, keyID string) error
	List(ctx context.Context) ([]models.AccessKey, error)

	// ListByOwner returns the actor's keys, newest first
	ListByOwner(ctx context.Context, actorID int64) ([]models.AccessKey, error)
	CountByOwner(ctx context.Context, actorID int64) (int, error)
	OwnerOf(ctx context.Context, keyID string) (*models.Owner, error)

	UpdateName(ctx context.Context, keyID, name string) error
	UpdateAccessURL(ctx context.Context, keyID, accessURL string) error
	UpdateTrafficCap(ctx context.Context, keyID string, bytes int64) error
	// SwapTrafficCap sets the cap only while it still equals old and
	// reports whether it did
	SwapTrafficCap(ctx context.Context, keyID string, old, bytes int64) (bool, error)
	UpdateExpiry(ctx context.Context, keyID string, expiresAt *time.Time) error

	// ListExpiringBefore returns keys with an expiry earlier than the cutoff
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]models.AccessKey, error)
}

// ActorRepository stores chat actors
type ActorRepository interface {
	// Touch inserts the actor or refreshes its profile and last activity.
	// Elevated and blocked flags are never changed by Touch.
	Touch(ctx context.Context, profile models.ActorProfile, at time.Time) (*models.Actor, error)
	Get(ctx context.Context, actorID int64) (*models.Actor, error)
	List(ctx context.Context) ([]models.Actor, error)
	SetBlocked(ctx context.Context, actorID int64, blocked bool) error
	SetElevated(ctx context.Context, actorID int64, elevated bool) error
}

// ActivityRepository is the append-only audit log
type ActivityRepository interface {
	Append(ctx context.Context, record *models.ActivityRecord) error
	ListRecent(ctx context.Context, limit int) ([]models.ActivityRecord, error)
	ListByActor(ctx context.Context, actorID int64, limit int) ([]models.ActivityRecord, error)
}

// OperatorRepository stores operator API accounts
type OperatorRepository interface {
	Create(ctx context.Context, op *models.Operator) error
	GetByUsername(ctx context.Context, username string) (*models.Operator, error)
	UpdateLastLogin(ctx context.Context, username string, at time.Time) error
	Count(ctx context.Context) (int, error)
}

// RemoteKeyClient is the authoritative key inventory on the VPN server
type RemoteKeyClient interface {
	ListKeys(ctx context.Context) ([]models.RemoteKey, error)
	GetKey(ctx context.Context, keyID string) (*models.RemoteKey, error)
	CreateKey(ctx context.Context, name string) (*models.RemoteKey, error)
	DeleteKey(ctx context.Context, keyID string) error
	RenameKey(ctx context.Context, keyID, name string) error
	SetTrafficCap(ctx context.Context, keyID string, bytes int64) error
	VerifyTrafficCap(ctx context.Context, keyID string, expected int64) error
	GetUsage(ctx context.Context, keyID string) (int64, error)
}
