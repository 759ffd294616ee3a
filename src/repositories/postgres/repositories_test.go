package postgres

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/database/dbtest"
	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
	"github.com/google/uuid"
)

// reverseSealer is a visible stand-in for encryption
type reverseSealer struct{}

func (reverseSealer) Seal(_, url string) ([]byte, error) { return reverse([]byte(url)), nil }
func (reverseSealer) Open(_ string, b []byte) (string, error) { return string(reverse(b)), nil }

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func TestKeyRepository_RoundTrip(t *testing.T) {
	dbtest.WithTestDB(t, func(tdb *dbtest.TestDB) {
		ctx := context.Background()
		actors := NewActorRepository(tdb.Pool)
		keys := NewKeyRepository(tdb.Pool, reverseSealer{})

		if _, err := actors.Touch(ctx, models.ActorProfile{ID: 42, Username: "alice"}, time.Now()); err != nil {
			t.Fatalf("Touch failed: %v", err)
		}

		created := time.Now().Add(-time.Hour).Truncate(time.Microsecond)
		err := keys.Upsert(ctx, &models.AccessKey{
			ID: "7", Owner: models.ActorOwner(42), Name: "home", AccessURL: "ssconf://x", CreatedAt: created,
		})
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		err = keys.Upsert(ctx, &models.AccessKey{
			ID: "9", Owner: models.PlaceholderOwner("9", "Key_9"), Name: "Key_9", AccessURL: "ss://y", TrafficCap: 5,
		})
		if err != nil {
			t.Fatalf("Upsert placeholder failed: %v", err)
		}

		k, err := keys.Get(ctx, "7")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if k.AccessURL != "ssconf://x" {
			t.Errorf("expected decrypted url, got %q", k.AccessURL)
		}
		if !k.Owner.IsActor(42) {
			t.Errorf("expected actor owner 42, got %s", k.Owner)
		}

		var raw []byte
		if err := tdb.Pool.QueryRow(ctx, `SELECT access_url FROM access_keys WHERE key_id = '7'`).Scan(&raw); err != nil {
			t.Fatalf("raw select failed: %v", err)
		}
		if bytes.Equal(raw, []byte("ssconf://x")) {
			t.Error("expected access url to be sealed at rest")
		}

		p, err := keys.OwnerOf(ctx, "9")
		if err != nil {
			t.Fatalf("OwnerOf failed: %v", err)
		}
		if !p.IsPlaceholder() || p.Label != "Key_9" {
			t.Errorf("expected placeholder owner Key_9, got %+v", p)
		}

		n, err := keys.CountByOwner(ctx, 42)
		if err != nil || n != 1 {
			t.Errorf("expected 1 key for actor 42, got %d (%v)", n, err)
		}

		if err := keys.UpdateTrafficCap(ctx, "7", 2000000000); err != nil {
			t.Fatalf("UpdateTrafficCap failed: %v", err)
		}
		exp := time.Now().Add(48 * time.Hour).Truncate(time.Microsecond)
		if err := keys.UpdateExpiry(ctx, "7", &exp); err != nil {
			t.Fatalf("UpdateExpiry failed: %v", err)
		}
		k, _ = keys.Get(ctx, "7")
		if k.TrafficCap != 2000000000 {
			t.Errorf("expected cap 2000000000, got %d", k.TrafficCap)
		}
		if k.ExpiresAt == nil || !k.ExpiresAt.Equal(exp) {
			t.Errorf("expected expiry %v, got %v", exp, k.ExpiresAt)
		}

		expiring, err := keys.ListExpiringBefore(ctx, time.Now().Add(72*time.Hour))
		if err != nil || len(expiring) != 1 {
			t.Errorf("expected 1 expiring key, got %d (%v)", len(expiring), err)
		}

		if err := keys.Delete(ctx, "7"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := keys.Get(ctx, "7"); !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := keys.UpdateName(ctx, "7", "x"); !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("expected ErrNotFound on update of deleted key, got %v", err)
		}
	})
}

func TestKeyRepository_InsertIfAbsentKeepsExistingRow(t *testing.T) {
	dbtest.WithTestDB(t, func(tdb *dbtest.TestDB) {
		ctx := context.Background()
		actors := NewActorRepository(tdb.Pool)
		keys := NewKeyRepository(tdb.Pool, reverseSealer{})

		if _, err := actors.Touch(ctx, models.ActorProfile{ID: 42}, time.Now()); err != nil {
			t.Fatalf("Touch failed: %v", err)
		}
		if err := keys.Upsert(ctx, &models.AccessKey{ID: "9", Owner: models.ActorOwner(42), Name: "laptop", AccessURL: "ss://a"}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}

		inserted, err := keys.InsertIfAbsent(ctx, &models.AccessKey{
			ID: "9", Owner: models.PlaceholderOwner("9", "Key_9"), Name: "Key_9", AccessURL: "ss://b",
		})
		if err != nil {
			t.Fatalf("InsertIfAbsent failed: %v", err)
		}
		if inserted {
			t.Error("expected existing row to be kept")
		}
		k, err := keys.Get(ctx, "9")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !k.Owner.IsActor(42) || k.Name != "laptop" {
			t.Errorf("expected actor-owned laptop, got %s %q", k.Owner, k.Name)
		}

		inserted, err = keys.InsertIfAbsent(ctx, &models.AccessKey{
			ID: "10", Owner: models.PlaceholderOwner("10", "Key_10"), Name: "Key_10", AccessURL: "ss://c",
		})
		if err != nil || !inserted {
			t.Fatalf("expected new row inserted, got %v (%v)", inserted, err)
		}

		if err := keys.UpdateAccessURL(ctx, "9", "ss://rotated"); err != nil {
			t.Fatalf("UpdateAccessURL failed: %v", err)
		}
		k, _ = keys.Get(ctx, "9")
		if k.AccessURL != "ss://rotated" || k.Name != "laptop" {
			t.Errorf("expected only the url to change, got %+v", k)
		}
		if err := keys.UpdateAccessURL(ctx, "missing", "ss://x"); !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestKeyRepository_ListByOwnerNewestFirst(t *testing.T) {
	dbtest.WithTestDB(t, func(tdb *dbtest.TestDB) {
		ctx := context.Background()
		actors := NewActorRepository(tdb.Pool)
		keys := NewKeyRepository(tdb.Pool, nil)

		if _, err := actors.Touch(ctx, models.ActorProfile{ID: 1}, time.Now()); err != nil {
			t.Fatalf("Touch failed: %v", err)
		}
		base := time.Now().Add(-time.Hour)
		for i, id := range []string{"a", "b", "c"} {
			err := keys.Upsert(ctx, &models.AccessKey{
				ID: id, Owner: models.ActorOwner(1), AccessURL: "u", CreatedAt: base.Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				t.Fatalf("Upsert failed: %v", err)
			}
		}

		list, err := keys.ListByOwner(ctx, 1)
		if err != nil {
			t.Fatalf("ListByOwner failed: %v", err)
		}
		if len(list) != 3 || list[0].ID != "c" || list[2].ID != "a" {
			t.Errorf("expected c,b,a order, got %+v", list)
		}
	})
}

func TestActorRepository_TouchPreservesFlags(t *testing.T) {
	dbtest.WithTestDB(t, func(tdb *dbtest.TestDB) {
		ctx := context.Background()
		repo := NewActorRepository(tdb.Pool)

		if _, err := repo.Touch(ctx, models.ActorProfile{ID: 5, Username: "a"}, time.Now()); err != nil {
			t.Fatalf("Touch failed: %v", err)
		}
		if err := repo.SetBlocked(ctx, 5, true); err != nil {
			t.Fatalf("SetBlocked failed: %v", err)
		}
		a, err := repo.Touch(ctx, models.ActorProfile{ID: 5, Username: "b"}, time.Now())
		if err != nil {
			t.Fatalf("Touch failed: %v", err)
		}
		if !a.Blocked || a.Username != "b" {
			t.Errorf("expected blocked actor named b, got %+v", a)
		}
		if err := repo.SetElevated(ctx, 99, true); !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown actor, got %v", err)
		}
	})
}

func TestActivityAndOperators(t *testing.T) {
	dbtest.WithTestDB(t, func(tdb *dbtest.TestDB) {
		ctx := context.Background()
		activity := NewActivityRepository(tdb.Pool)
		operators := NewOperatorRepository(tdb.Pool)

		for _, a := range []models.Action{models.ActionKeyCreated, models.ActionKeyDeleted} {
			rec := &models.ActivityRecord{ActorID: 3, Action: a, Details: "key 7", Timestamp: time.Now()}
			if err := activity.Append(ctx, rec); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			if rec.ID == 0 {
				t.Error("expected id to be assigned")
			}
		}
		recent, err := activity.ListByActor(ctx, 3, 10)
		if err != nil || len(recent) != 2 || recent[0].Action != models.ActionKeyDeleted {
			t.Errorf("unexpected activity listing %+v (%v)", recent, err)
		}

		op := &models.Operator{ID: uuid.New(), Username: "root", PasswordHash: "h", CreatedAt: time.Now(), IsActive: true}
		if err := operators.Create(ctx, op); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		n, err := operators.Count(ctx)
		if err != nil || n != 1 {
			t.Errorf("expected 1 operator, got %d (%v)", n, err)
		}
		got, err := operators.GetByUsername(ctx, "root")
		if err != nil || got.ID != op.ID {
			t.Errorf("unexpected operator %+v (%v)", got, err)
		}
	})
}
