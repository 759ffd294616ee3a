// Package dbtest provides a PostgreSQL database for integration tests.
package dbtest

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/database"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
	cleanupMutex  sync.Mutex // Serializes cleanup to prevent concurrent TRUNCATE conflicts
)

// TestDB wraps a connection pool configured for testing
type TestDB struct {
	Pool *pgxpool.Pool
}

// databaseURL returns TEST_DATABASE_URL or starts a shared container.
// The container lives until the test binary exits.
func databaseURL(ctx context.Context) (string, error) {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url, nil
	}

	containerOnce.Do(func() {
		container, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			postgres.WithDatabase("outline_bot_test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerURL, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})

	return containerURL, containerErr
}

// New connects to the test database with migrations applied.
// It skips the test if no database is available.
func New(t *testing.T) *TestDB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	url, err := databaseURL(ctx)
	if err != nil {
		t.Skipf("Could not start test database: %v (hint: set TEST_DATABASE_URL)", err)
		return nil
	}

	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Skipf("Could not parse test database URL: %v", err)
		return nil
	}
	config.MaxConns = 5
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		t.Skipf("Could not connect to test database: %v", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("Could not ping test database: %v", err)
		return nil
	}

	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("Could not migrate test database: %v", err)
	}

	tdb := &TestDB{Pool: pool}
	tdb.Cleanup()
	t.Cleanup(func() {
		tdb.Cleanup()
		pool.Close()
	})

	return tdb
}

// Cleanup truncates all tables
func (tdb *TestDB) Cleanup() {
	cleanupMutex.Lock()
	defer cleanupMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = tdb.Pool.Exec(ctx, `TRUNCATE activity_log, access_keys, actors, operators RESTART IDENTITY CASCADE`)
}

// WithTestDB runs fn against a fresh test database
//
//	func TestSomething(t *testing.T) {
//	    dbtest.WithTestDB(t, func(tdb *dbtest.TestDB) {
//	        // Use tdb.Pool for database operations
//	    })
//	}
func WithTestDB(t *testing.T, fn func(tdb *TestDB)) {
	t.Helper()

	tdb := New(t)
	if tdb == nil {
		return
	}
	fn(tdb)
}
