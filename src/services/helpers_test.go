package services

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories/memory"
	"github.com/Vafelkin/outline-tg-bot/src/repositories/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

// remoteState backs a mock remote client with an in-memory inventory
type remoteState struct {
	mu     sync.Mutex
	nextID int
	keys   map[string]models.RemoteKey
	usage  map[string]int64
}

func newRemoteState() *remoteState {
	return &remoteState{keys: make(map[string]models.RemoteKey), usage: make(map[string]int64)}
}

func (r *remoteState) put(k models.RemoteKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[k.ID] = k
}

func (r *remoteState) get(id string) (models.RemoteKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	return k, ok
}

// wire installs stateful behavior into m
func (r *remoteState) wire(m *mock.RemoteKeyClient) {
	m.ListKeysFunc = func(ctx context.Context) ([]models.RemoteKey, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		out := make([]models.RemoteKey, 0, len(r.keys))
		for _, k := range r.keys {
			out = append(out, k)
		}
		return out, nil
	}
	m.GetKeyFunc = func(ctx context.Context, id string) (*models.RemoteKey, error) {
		k, ok := r.get(id)
		if !ok {
			return nil, ErrKeyNotFound
		}
		return &k, nil
	}
	m.CreateKeyFunc = func(ctx context.Context, name string) (*models.RemoteKey, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		id := strconv.Itoa(r.nextID)
		r.nextID++
		k := models.RemoteKey{ID: id, Name: name, AccessURL: "ssconf://vpn.example.com/" + id}
		r.keys[id] = k
		return &k, nil
	}
	m.DeleteKeyFunc = func(ctx context.Context, id string) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.keys, id)
		return nil
	}
	m.RenameKeyFunc = func(ctx context.Context, id, name string) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		k, ok := r.keys[id]
		if !ok {
			return ErrKeyNotFound
		}
		k.Name = name
		r.keys[id] = k
		return nil
	}
	m.SetTrafficCapFunc = func(ctx context.Context, id string, bytes int64) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		k, ok := r.keys[id]
		if !ok {
			return ErrKeyNotFound
		}
		k.TrafficCap = bytes
		r.keys[id] = k
		return nil
	}
	m.GetUsageFunc = func(ctx context.Context, id string) (int64, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.usage[id], nil
	}
}

type testEnv struct {
	keys     *memory.KeyStore
	actors   *memory.ActorStore
	log      *memory.ActivityLog
	remote   *mock.RemoteKeyClient
	state    *remoteState
	actorSvc *ActorService
	sync     *Reconciler
	svc      *KeyService
}

func newTestEnv(t *testing.T, adminIDs ...int64) *testEnv {
	t.Helper()

	env := &testEnv{
		keys:   memory.NewKeyStore(),
		actors: memory.NewActorStore(),
		log:    memory.NewActivityLog(),
		remote: mock.NewRemoteKeyClient(),
		state:  newRemoteState(),
	}
	env.state.wire(env.remote)

	activity := NewActivityService(env.log, true)
	activity.now = func() time.Time { return testNow }
	env.actorSvc = NewActorService(env.actors, activity, adminIDs, DefaultTierLimits)
	env.actorSvc.now = func() time.Time { return testNow }
	env.sync = NewReconciler(env.keys, env.remote)
	env.sync.now = func() time.Time { return testNow }
	env.svc = NewKeyService(env.keys, env.remote, env.actorSvc, env.sync, activity)
	env.svc.now = func() time.Time { return testNow }
	env.svc.SetLocation(time.UTC)
	return env
}

func (e *testEnv) actor(t *testing.T, id int64, name string) *models.Actor {
	t.Helper()
	a, err := e.actorSvc.Touch(context.Background(), models.ActorProfile{ID: id, FirstName: name})
	require.NoError(t, err)
	return a
}

// seed stores a key owned by ownerID both remotely and locally
func (e *testEnv) seed(t *testing.T, id string, ownerID int64) {
	t.Helper()
	e.state.put(models.RemoteKey{ID: id, Name: "k" + id, AccessURL: "ssconf://vpn.example.com/" + id})
	require.NoError(t, e.keys.Upsert(context.Background(), &models.AccessKey{
		ID:        id,
		Owner:     models.ActorOwner(ownerID),
		Name:      "k" + id,
		AccessURL: "ssconf://vpn.example.com/" + id,
		CreatedAt: testNow,
	}))
}
