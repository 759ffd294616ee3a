package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminNotifier_KeyCreatedSkipsCreator(t *testing.T) {
	env := newRouterEnv(t)
	n := NewAdminNotifier(env.transport, env.catalog, "en", []int64{adminID, otherID}, env.svc)

	actor := &models.Actor{ID: otherID, Username: "bob"}
	key := &models.AccessKey{ID: "7", Name: "<laptop>"}
	require.NoError(t, n.NotifyKeyCreated(context.Background(), actor, key))

	require.Len(t, env.transport.sent, 1)
	msg := env.transport.sent[0]
	assert.Equal(t, adminID, msg.ChatID)
	assert.Equal(t, "🆕 @bob created key <b>&lt;laptop&gt;</b> (#7)", msg.Text)
}

func TestAdminNotifier_ExpiryDigest(t *testing.T) {
	env := newRouterEnv(t)
	n := NewAdminNotifier(env.transport, env.catalog, "en", []int64{adminID}, env.svc)

	soon := time.Date(2025, 3, 12, 23, 59, 59, 0, time.UTC)
	past := time.Date(2025, 3, 1, 23, 59, 59, 0, time.UTC)
	alerts := []services.ExpiryAlert{
		{Key: models.AccessKey{ID: "1", Name: "home", ExpiresAt: &soon}, Owner: "Alice", DaysLeft: 2},
		{Key: models.AccessKey{ID: "2", Name: "work", ExpiresAt: &past}, Owner: "Key_2", Expired: true},
	}
	require.NoError(t, n.NotifyExpiring(context.Background(), alerts))

	require.Len(t, env.transport.sent, 1)
	lines := strings.Split(env.transport.sent[0].Text, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "🟡 home (#1, Alice): until 12.03.2025, 2 days left", lines[1])
	assert.Equal(t, "🔴 work (#2, Key_2): expired 01.03.2025", lines[2])

	require.NoError(t, n.NotifyExpiring(context.Background(), nil))
	assert.Len(t, env.transport.sent, 1)
}

func TestAdminNotifier_ReportsDeliveryFailures(t *testing.T) {
	env := newRouterEnv(t)
	env.transport.sendErr = errors.New("chat not found")
	n := NewAdminNotifier(env.transport, env.catalog, "en", []int64{adminID}, env.svc)

	err := n.NotifyKeyCreated(context.Background(), &models.Actor{ID: userID}, &models.AccessKey{ID: "1", Name: "k"})
	assert.Error(t, err)
}
