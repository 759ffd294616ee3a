package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
)

// ActorStore is an in-memory repositories.ActorRepository
type ActorStore struct {
	mu     sync.RWMutex
	actors map[int64]models.Actor
}

var _ repositories.ActorRepository = (*ActorStore)(nil)

// NewActorStore creates an empty actor store
func NewActorStore() *ActorStore {
	return &ActorStore{actors: make(map[int64]models.Actor)}
}

func (s *ActorStore) Touch(ctx context.Context, p models.ActorProfile, at time.Time) (*models.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.actors[p.ID]
	if !ok {
		a = models.Actor{ID: p.ID, CreatedAt: at}
	}
	a.Username = p.Username
	a.FirstName = p.FirstName
	a.LastName = p.LastName
	a.LanguageCode = p.LanguageCode
	a.LastActivity = at
	s.actors[p.ID] = a

	return &a, nil
}

func (s *ActorStore) Get(ctx context.Context, actorID int64) (*models.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[actorID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &a, nil
}

func (s *ActorStore) List(ctx context.Context) ([]models.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Actor, 0, len(s.actors))
	for _, a := range s.actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ActorStore) SetBlocked(ctx context.Context, actorID int64, blocked bool) error {
	return s.update(actorID, func(a *models.Actor) { a.Blocked = blocked })
}

func (s *ActorStore) SetElevated(ctx context.Context, actorID int64, elevated bool) error {
	return s.update(actorID, func(a *models.Actor) { a.Elevated = elevated })
}

func (s *ActorStore) update(actorID int64, fn func(a *models.Actor)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[actorID]
	if !ok {
		return repositories.ErrNotFound
	}
	fn(&a)
	s.actors[actorID] = a
	return nil
}
