package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/conversation"
	"github.com/Vafelkin/outline-tg-bot/src/messages"
	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories/memory"
	"github.com/Vafelkin/outline-tg-bot/src/repositories/mock"
	"github.com/Vafelkin/outline-tg-bot/src/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminID  int64 = 1
	userID   int64 = 2
	otherID  int64 = 3
	testChat int64 = 500
)

type sentMessage struct {
	ChatID int64
	Text   string
	KB     Keyboard
}

type editedMessage struct {
	Ref  models.MessageRef
	Text string
	KB   Keyboard
}

// fakeTransport records every outbound call
type fakeTransport struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMessage
	edits   []editedMessage
	deleted []models.MessageRef
	answers []string
	sendErr error
}

func (f *fakeTransport) Send(ctx context.Context, chatID int64, text string, kb Keyboard) (models.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return models.MessageRef{}, f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, KB: kb})
	return models.MessageRef{ChatID: chatID, MessageID: 1000 + f.nextID}, nil
}

func (f *fakeTransport) Edit(ctx context.Context, ref models.MessageRef, text string, kb Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editedMessage{Ref: ref, Text: text, KB: kb})
	return nil
}

func (f *fakeTransport) Delete(ctx context.Context, ref models.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeTransport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeTransport) lastSent(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "nothing was sent")
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) lastEdit(t *testing.T) editedMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.edits, "nothing was edited")
	return f.edits[len(f.edits)-1]
}

type denyLimiter struct{}

func (denyLimiter) AllowActor(int64) bool { return false }

type routerEnv struct {
	transport *fakeTransport
	keys      *memory.KeyStore
	remote    *mock.RemoteKeyClient
	actors    *services.ActorService
	svc       *services.KeyService
	flows     *conversation.Machine
	catalog   *messages.Catalog
	router    *Router
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()

	env := &routerEnv{
		transport: &fakeTransport{},
		keys:      memory.NewKeyStore(),
		remote:    mock.NewRemoteKeyClient(),
		flows:     conversation.New(time.Hour, conversation.PolicyReject),
		catalog:   messages.MustLoad("en"),
	}

	var mu sync.Mutex
	next := 100
	env.remote.CreateKeyFunc = func(ctx context.Context, name string) (*models.RemoteKey, error) {
		mu.Lock()
		defer mu.Unlock()
		next++
		id := strconv.Itoa(next)
		return &models.RemoteKey{ID: id, Name: name, AccessURL: "ss://vpn.example.com/" + id}, nil
	}

	activity := services.NewActivityService(memory.NewActivityLog(), true)
	env.actors = services.NewActorService(memory.NewActorStore(), activity, []int64{adminID}, services.DefaultTierLimits)
	reconciler := services.NewReconciler(env.keys, env.remote)
	env.svc = services.NewKeyService(env.keys, env.remote, env.actors, reconciler, activity)
	env.svc.SetLocation(time.UTC)
	env.router = NewRouter(env.transport, env.actors, env.svc, env.flows, env.catalog, nil, "en")
	return env
}

func (e *routerEnv) seed(t *testing.T, id string, owner int64) {
	t.Helper()
	require.NoError(t, e.keys.Upsert(context.Background(), &models.AccessKey{
		ID:        id,
		Owner:     models.ActorOwner(owner),
		Name:      "key" + id,
		AccessURL: "ss://vpn.example.com/" + id,
		CreatedAt: time.Now(),
	}))
}

func (e *routerEnv) t(key string, args ...string) string {
	return e.catalog.Get("en", key, args...)
}

func command(actorID int64, name string) Event {
	return Event{
		Kind:    EventCommand,
		Profile: models.ActorProfile{ID: actorID, FirstName: "User" + strconv.FormatInt(actorID, 10)},
		ChatID:  testChat,
		Command: name,
	}
}

func callback(actorID int64, data string, messageID int) Event {
	return Event{
		Kind:       EventCallback,
		Profile:    models.ActorProfile{ID: actorID, FirstName: "User" + strconv.FormatInt(actorID, 10)},
		ChatID:     testChat,
		Payload:    data,
		CallbackID: "cb-" + data,
		Message:    models.MessageRef{ChatID: testChat, MessageID: messageID},
	}
}

func text(actorID int64, payload string) Event {
	return Event{
		Kind:    EventText,
		Profile: models.ActorProfile{ID: actorID, FirstName: "User" + strconv.FormatInt(actorID, 10)},
		ChatID:  testChat,
		Payload: payload,
		Message: models.MessageRef{ChatID: testChat, MessageID: 9999},
	}
}

func hasButton(kb Keyboard, data string) bool {
	for _, row := range kb {
		for _, b := range row {
			if b.Data == data {
				return true
			}
		}
	}
	return false
}

func (e *routerEnv) handle(t *testing.T, ev Event) {
	t.Helper()
	require.NoError(t, e.router.Handle(context.Background(), ev))
}

func TestRouter_StartShowsMainMenu(t *testing.T) {
	env := newRouterEnv(t)

	env.handle(t, command(userID, "start"))
	msg := env.transport.lastSent(t)
	assert.Equal(t, env.t("welcome"), msg.Text)
	assert.True(t, hasButton(msg.KB, cbCreateKey))
	assert.True(t, hasButton(msg.KB, cbMyKeys))
	assert.False(t, hasButton(msg.KB, cbAllKeys))

	env.handle(t, command(adminID, "start"))
	assert.True(t, hasButton(env.transport.lastSent(t).KB, cbAllKeys))
}

func TestRouter_TextWithoutFlowShowsMenu(t *testing.T) {
	env := newRouterEnv(t)

	env.handle(t, text(userID, "hello"))
	assert.Equal(t, env.t("welcome"), env.transport.lastSent(t).Text)
}

func TestRouter_CreateKeyFlow(t *testing.T) {
	env := newRouterEnv(t)

	env.handle(t, callback(userID, cbCreateKey, 7))
	assert.Equal(t, []string{""}, env.transport.answers)
	edit := env.transport.lastEdit(t)
	assert.Equal(t, models.MessageRef{ChatID: testChat, MessageID: 7}, edit.Ref)
	assert.Equal(t, env.t("enter_key_name"), edit.Text)
	assert.True(t, hasButton(edit.KB, cbBackToMain))
	assert.Equal(t, conversation.StateAwaitingKeyName, env.flows.State(userID))

	env.handle(t, text(userID, "  laptop  "))

	assert.Equal(t, conversation.StateIdle, env.flows.State(userID))
	assert.Equal(t, []models.MessageRef{{ChatID: testChat, MessageID: 7}}, env.transport.deleted)
	msg := env.transport.lastSent(t)
	assert.Contains(t, msg.Text, "<b>laptop</b>")
	assert.Contains(t, msg.Text, "ss://vpn.example.com/101")

	keys, err := env.keys.ListByOwner(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "laptop", keys[0].Name)
}

func TestRouter_CreateKeyQuotaCheckedBeforePrompt(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, "1", userID)

	env.handle(t, callback(userID, cbCreateKey, 7))

	assert.Equal(t, env.t("max_keys_reached"), env.transport.lastSent(t).Text)
	assert.Equal(t, conversation.StateIdle, env.flows.State(userID))
	assert.Empty(t, env.transport.edits)
}

func TestRouter_InvalidInputEndsFlow(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, "1", userID)

	env.handle(t, callback(adminID, cbSetLimit+"1", 8))
	assert.Equal(t, env.t("input_limit"), env.transport.lastEdit(t).Text)
	assert.True(t, hasButton(env.transport.lastEdit(t).KB, cbKey+"1"))

	env.handle(t, text(adminID, "lots"))
	msg := env.transport.lastSent(t)
	assert.Equal(t, env.t("invalid_limit"), msg.Text)
	assert.True(t, hasButton(msg.KB, cbSetLimit+"1"))
	assert.True(t, hasButton(msg.KB, cbBackToMain))
	assert.Equal(t, conversation.StateIdle, env.flows.State(adminID))
	assert.Equal(t, []models.MessageRef{{ChatID: testChat, MessageID: 8}}, env.transport.deleted)

	// the same text again is a fresh top-level action
	env.handle(t, text(adminID, "lots"))
	assert.Equal(t, env.t("welcome"), env.transport.lastSent(t).Text)
	assert.Equal(t, 0, env.remote.CallCount("SetTrafficCap"))

	env.handle(t, callback(adminID, cbSetLimit+"1", 12))
	assert.Equal(t, conversation.StateAwaitingLimitValue, env.flows.State(adminID))

	env.handle(t, text(adminID, "2,5"))
	msg = env.transport.lastSent(t)
	assert.True(t, strings.HasPrefix(msg.Text, env.t("data_limit_set", "limit", "2.5 GB")))
	assert.Contains(t, msg.Text, "<b>Key #1</b>")
	assert.Equal(t, []interface{}{"1", int64(2_500_000_000)}, env.remote.LastCall("SetTrafficCap"))
	assert.Equal(t, conversation.StateIdle, env.flows.State(adminID))
}

func TestRouter_RejectedInputOffersRestart(t *testing.T) {
	tests := []struct {
		name    string
		start   string
		input   string
		restart string
	}{
		{"key name", cbCreateKey, strings.Repeat("x", 65), cbCreateKey},
		{"rename", cbRename + "1", strings.Repeat("x", 65), cbRename + "1"},
		{"paid until", cbSetPaid + "1", "tomorrow", cbSetPaid + "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newRouterEnv(t)
			env.seed(t, "1", adminID)

			env.handle(t, callback(adminID, tt.start, 8))
			env.handle(t, text(adminID, tt.input))

			assert.True(t, hasButton(env.transport.lastSent(t).KB, tt.restart))
			assert.Equal(t, conversation.StateIdle, env.flows.State(adminID))
		})
	}
}

func TestRouter_UnverifiedCapIsReported(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, "1", userID)
	env.remote.VerifyTrafficCapFunc = func(ctx context.Context, keyID string, expected int64) error {
		return services.ErrVerificationFailed
	}

	env.handle(t, callback(adminID, cbSetLimit+"1", 8))
	env.handle(t, text(adminID, "3"))

	assert.Contains(t, env.transport.lastSent(t).Text, env.t("data_limit_unverified", "limit", "3.0 GB"))
}

func TestRouter_SetPaidUntil(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, "1", userID)

	env.handle(t, callback(adminID, cbSetPaid+"1", 8))
	assert.Equal(t, conversation.StateAwaitingExpiryDate, env.flows.State(adminID))

	env.handle(t, text(adminID, "01.01.2000"))
	assert.Equal(t, env.t("date_in_past"), env.transport.lastSent(t).Text)
	assert.Equal(t, conversation.StateIdle, env.flows.State(adminID))

	env.handle(t, callback(adminID, cbSetPaid+"1", 9))
	env.handle(t, text(adminID, "31.12.2099"))
	msg := env.transport.lastSent(t)
	assert.Contains(t, msg.Text, env.t("paid_until_set", "date", "31.12.2099"))
	assert.True(t, hasButton(msg.KB, cbClearPaid+"1"))

	key, err := env.keys.Get(context.Background(), "1")
	require.NoError(t, err)
	require.NotNil(t, key.ExpiresAt)
}

func TestRouter_StandardActorCannotAdminister(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, "1", userID)

	env.handle(t, callback(userID, cbSetLimit+"1", 8))
	assert.Equal(t, env.t("not_admin"), env.transport.lastSent(t).Text)
	assert.Equal(t, conversation.StateIdle, env.flows.State(userID))

	env.handle(t, callback(userID, cbKey+"1", 8))
	kb := env.transport.lastEdit(t).KB
	assert.False(t, hasButton(kb, cbSetLimit+"1"))
	assert.True(t, hasButton(kb, cbDelete+"1"))
	assert.True(t, hasButton(kb, cbMyKeys))
}

func TestRouter_ForeignKeyIsHidden(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, "1", otherID)

	env.handle(t, callback(userID, cbKey+"1", 8))
	assert.Equal(t, env.t("key_not_found"), env.transport.lastSent(t).Text)
}

func TestRouter_AdminBackLeadsToAllKeys(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, "1", userID)

	env.handle(t, callback(adminID, cbKey+"1", 8))
	kb := env.transport.lastEdit(t).KB
	assert.True(t, hasButton(kb, cbAllKeys))
	assert.True(t, hasButton(kb, cbSetLimit+"1"))
}

func TestRouter_AllKeysListsOwners(t *testing.T) {
	env := newRouterEnv(t)
	_, err := env.actors.Touch(context.Background(), models.ActorProfile{ID: userID, Username: "alice"})
	require.NoError(t, err)
	env.seed(t, "1", userID)

	env.handle(t, callback(adminID, cbAllKeys, 8))
	edit := env.transport.lastEdit(t)
	assert.Equal(t, env.t("key_list_title"), edit.Text)
	require.True(t, hasButton(edit.KB, cbKey+"1"))
	assert.Equal(t, "🟢 key1 (@alice)", edit.KB[0][0].Text)

	env.handle(t, callback(userID, cbAllKeys, 8))
	assert.Equal(t, env.t("not_admin"), env.transport.lastSent(t).Text)
}

func TestRouter_MyKeysEmpty(t *testing.T) {
	env := newRouterEnv(t)

	env.handle(t, callback(userID, cbMyKeys, 8))
	edit := env.transport.lastEdit(t)
	assert.Equal(t, env.t("no_keys"), edit.Text)
	assert.True(t, hasButton(edit.KB, cbBackToMain))
}

func TestRouter_DeleteNeedsConfirmation(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, "1", userID)

	env.handle(t, callback(userID, cbDelete+"1", 8))
	edit := env.transport.lastEdit(t)
	assert.True(t, hasButton(edit.KB, cbConfirmDelete+"1"))
	assert.Equal(t, 0, env.remote.CallCount("DeleteKey"))

	env.handle(t, callback(userID, cbConfirmDelete+"1", 8))
	assert.Equal(t, env.t("key_deleted"), env.transport.lastEdit(t).Text)
	assert.Equal(t, 1, env.remote.CallCount("DeleteKey"))

	_, err := env.keys.Get(context.Background(), "1")
	assert.Error(t, err)
}

func TestRouter_RenameFlow(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, "1", userID)

	env.handle(t, callback(userID, cbRename+"1", 8))
	env.handle(t, text(userID, "phone"))

	assert.Contains(t, env.transport.lastSent(t).Text, env.t("key_renamed", "name", "phone"))
	key, err := env.keys.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "phone", key.Name)
}

func TestRouter_FlowConflictIsRejected(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, "1", adminID)

	env.handle(t, callback(adminID, cbCreateKey, 7))
	env.handle(t, callback(adminID, cbRename+"1", 8))

	assert.Equal(t, env.t("flow_in_progress"), env.transport.lastSent(t).Text)
	assert.Equal(t, conversation.StateAwaitingKeyName, env.flows.State(adminID))
	flow, ok := env.flows.Peek(adminID)
	require.True(t, ok)
	assert.Empty(t, flow.KeyID)
}

func TestRouter_CancelButtonOnKeyPrompt(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, "1", userID)

	env.handle(t, callback(adminID, cbSetPaid+"1", 8))
	env.handle(t, callback(adminID, cbKey+"1", 8))

	assert.Equal(t, conversation.StateIdle, env.flows.State(adminID))
	assert.Contains(t, env.transport.lastEdit(t).Text, "<b>Key #1</b>")
}

func TestRouter_CancelCommand(t *testing.T) {
	env := newRouterEnv(t)

	env.handle(t, command(userID, "cancel"))
	assert.Equal(t, env.t("nothing_to_cancel"), env.transport.lastSent(t).Text)

	env.handle(t, callback(userID, cbCreateKey, 7))
	env.handle(t, command(userID, "cancel"))
	assert.Equal(t, env.t("cancelled"), env.transport.lastSent(t).Text)
	assert.Equal(t, conversation.StateIdle, env.flows.State(userID))
	assert.Equal(t, []models.MessageRef{{ChatID: testChat, MessageID: 7}}, env.transport.deleted)
}

func TestRouter_BlockedActor(t *testing.T) {
	env := newRouterEnv(t)
	_, err := env.actors.Touch(context.Background(), models.ActorProfile{ID: userID})
	require.NoError(t, err)
	admin, err := env.actors.Touch(context.Background(), models.ActorProfile{ID: adminID})
	require.NoError(t, err)
	require.NoError(t, env.actors.SetBlocked(context.Background(), admin, userID, true))

	env.handle(t, callback(userID, cbCreateKey, 7))
	assert.Equal(t, env.t("blocked_notice"), env.transport.lastSent(t).Text)
	assert.Equal(t, conversation.StateIdle, env.flows.State(userID))
}

func TestRouter_Throttled(t *testing.T) {
	env := newRouterEnv(t)
	env.router.limiter = denyLimiter{}

	env.handle(t, command(userID, "start"))
	assert.Equal(t, env.t("rate_limited"), env.transport.lastSent(t).Text)

	env.handle(t, callback(userID, cbMyKeys, 7))
	assert.Equal(t, []string{env.t("rate_limited")}, env.transport.answers)

	_, err := env.actors.Get(context.Background(), userID)
	assert.ErrorIs(t, err, services.ErrActorNotFound)
}

func TestRouter_UpstreamFailure(t *testing.T) {
	env := newRouterEnv(t)
	env.remote.CreateKeyFunc = func(ctx context.Context, name string) (*models.RemoteKey, error) {
		return nil, services.ErrUpstreamUnavailable
	}

	env.handle(t, callback(userID, cbCreateKey, 7))
	env.handle(t, text(userID, "laptop"))

	assert.Equal(t, env.t("server_unavailable"), env.transport.lastSent(t).Text)
	assert.Equal(t, conversation.StateIdle, env.flows.State(userID))
}

func TestRouter_TransportFailureIsReturned(t *testing.T) {
	env := newRouterEnv(t)
	env.transport.sendErr = errors.New("telegram down")

	err := env.router.Handle(context.Background(), command(userID, "help"))
	assert.Error(t, err)
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err      error
		key      string
		expected bool
	}{
		{services.ErrQuotaExceeded, "max_keys_reached", true},
		{services.ErrDateInPast, "date_in_past", true},
		{services.ErrInvalidDate, "invalid_date", true},
		{services.ErrInvalidLimit, "invalid_limit", true},
		{services.ErrInvalidName, "invalid_name", true},
		{services.ErrKeyNotFound, "key_not_found", true},
		{services.ErrActorBlocked, "blocked_notice", true},
		{services.ErrUnauthorized, "not_admin", true},
		{services.ErrOperationInProgress, "operation_in_progress", true},
		{conversation.ErrFlowInProgress, "flow_in_progress", true},
		{services.ErrUpstreamUnavailable, "server_unavailable", true},
		{errors.New("boom"), "error", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			key, expected := errorMessage(tt.err)
			assert.Equal(t, tt.key, key)
			assert.Equal(t, tt.expected, expected)
		})
	}
}
