package services

import (
	"context"
	"testing"

	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorService_Touch(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()

	admin := env.actor(t, 1, "Admin")
	assert.Equal(t, models.TierElevated, admin.Tier)

	alice := env.actor(t, 100, "Alice")
	assert.Equal(t, models.TierStandard, alice.Tier)
	assert.Equal(t, testNow, alice.LastActivity)

	_, err := env.actorSvc.Touch(ctx, models.ActorProfile{ID: -5})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestActorService_SetElevated(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()
	admin := env.actor(t, 1, "Admin")
	alice := env.actor(t, 100, "Alice")

	assert.ErrorIs(t, env.actorSvc.SetElevated(ctx, alice, 100, true), ErrUnauthorized)

	require.NoError(t, env.actorSvc.SetElevated(ctx, admin, 100, true))
	alice = env.actor(t, 100, "Alice")
	assert.Equal(t, models.TierElevated, alice.Tier)
	assert.Equal(t, 10, env.actorSvc.TierLimit(alice.Tier))

	// configured administrators cannot be demoted by the flag
	require.NoError(t, env.actorSvc.SetElevated(ctx, admin, 1, false))
	got, err := env.actorSvc.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.IsElevated())

	assert.ErrorIs(t, env.actorSvc.SetElevated(ctx, admin, 999, true), ErrActorNotFound)
}

func TestActorService_SetBlocked(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()
	admin := env.actor(t, 1, "Admin")
	env.actor(t, 100, "Alice")

	require.NoError(t, env.actorSvc.SetBlocked(ctx, admin, 100, true))

	// touching keeps the flag
	alice := env.actor(t, 100, "Alice")
	assert.True(t, alice.Blocked)

	_, err := env.svc.Create(ctx, alice, "home")
	assert.ErrorIs(t, err, ErrActorBlocked)

	records, err := env.log.ListByActor(ctx, 1, 10)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, models.ActionActorBlocked, records[0].Action)

	_, err = env.actorSvc.Get(ctx, 4242)
	assert.ErrorIs(t, err, ErrActorNotFound)
}

func TestOperatorActor(t *testing.T) {
	op := OperatorActor()
	assert.Equal(t, models.OperatorActorID, op.ID)
	assert.True(t, op.IsElevated())
}
