// Package memory holds in-process repositories used when no database is
// configured and by service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
)

// KeyStore is an in-memory repositories.KeyRepository
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]models.AccessKey
}

var _ repositories.KeyRepository = (*KeyStore)(nil)

// NewKeyStore creates an empty key store
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]models.AccessKey)}
}

func cloneKey(k models.AccessKey) models.AccessKey {
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		k.ExpiresAt = &t
	}
	return k
}

// newestFirst orders by creation time descending, then id descending
func newestFirst(keys []models.AccessKey) {
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.After(keys[j].CreatedAt)
		}
		return keys[i].ID > keys[j].ID
	})
}

func (s *KeyStore) Upsert(ctx context.Context, key *models.AccessKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = cloneKey(*key)
	return nil
}

func (s *KeyStore) InsertIfAbsent(ctx context.Context, key *models.AccessKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return false, nil
	}
	s.keys[key.ID] = cloneKey(*key)
	return true, nil
}

func (s *KeyStore) Get(ctx context.Context, keyID string) (*models.AccessKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[keyID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	k = cloneKey(k)
	return &k, nil
}

func (s *KeyStore) Delete(ctx context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[keyID]; !ok {
		return repositories.ErrNotFound
	}
	delete(s.keys, keyID)
	return nil
}

func (s *KeyStore) List(ctx context.Context) ([]models.AccessKey, error) {
	return s.filter(func(models.AccessKey) bool { return true }), nil
}

func (s *KeyStore) ListByOwner(ctx context.Context, actorID int64) ([]models.AccessKey, error) {
	return s.filter(func(k models.AccessKey) bool { return k.Owner.IsActor(actorID) }), nil
}

func (s *KeyStore) CountByOwner(ctx context.Context, actorID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, k := range s.keys {
		if k.Owner.IsActor(actorID) {
			n++
		}
	}
	return n, nil
}

func (s *KeyStore) OwnerOf(ctx context.Context, keyID string) (*models.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[keyID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	owner := k.Owner
	return &owner, nil
}

func (s *KeyStore) UpdateName(ctx context.Context, keyID, name string) error {
	return s.update(keyID, func(k *models.AccessKey) { k.Name = name })
}

func (s *KeyStore) UpdateAccessURL(ctx context.Context, keyID, accessURL string) error {
	return s.update(keyID, func(k *models.AccessKey) { k.AccessURL = accessURL })
}

func (s *KeyStore) UpdateTrafficCap(ctx context.Context, keyID string, bytes int64) error {
	return s.update(keyID, func(k *models.AccessKey) { k.TrafficCap = bytes })
}

func (s *KeyStore) SwapTrafficCap(ctx context.Context, keyID string, old, bytes int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok {
		return false, repositories.ErrNotFound
	}
	if k.TrafficCap != old {
		return false, nil
	}
	k.TrafficCap = bytes
	s.keys[keyID] = k
	return true, nil
}

func (s *KeyStore) UpdateExpiry(ctx context.Context, keyID string, expiresAt *time.Time) error {
	return s.update(keyID, func(k *models.AccessKey) {
		if expiresAt == nil {
			k.ExpiresAt = nil
			return
		}
		t := *expiresAt
		k.ExpiresAt = &t
	})
}

func (s *KeyStore) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]models.AccessKey, error) {
	keys := s.filter(func(k models.AccessKey) bool {
		return k.ExpiresAt != nil && k.ExpiresAt.Before(cutoff)
	})
	sort.Slice(keys, func(i, j int) bool { return keys[i].ExpiresAt.Before(*keys[j].ExpiresAt) })
	return keys, nil
}

func (s *KeyStore) update(keyID string, fn func(k *models.AccessKey)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok {
		return repositories.ErrNotFound
	}
	fn(&k)
	s.keys[keyID] = k
	return nil
}

func (s *KeyStore) filter(match func(models.AccessKey) bool) []models.AccessKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AccessKey, 0, len(s.keys))
	for _, k := range s.keys {
		if match(k) {
			out = append(out, cloneKey(k))
		}
	}
	newestFirst(out)
	return out
}
