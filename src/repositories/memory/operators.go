package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
)

// OperatorStore is an in-memory repositories.OperatorRepository
type OperatorStore struct {
	mu  sync.RWMutex
	ops map[string]models.Operator
}

var _ repositories.OperatorRepository = (*OperatorStore)(nil)

// NewOperatorStore creates an empty operator store
func NewOperatorStore() *OperatorStore {
	return &OperatorStore{ops: make(map[string]models.Operator)}
}

func (s *OperatorStore) Create(ctx context.Context, op *models.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[op.Username]; ok {
		return errors.New("operator already exists")
	}
	s.ops[op.Username] = *op
	return nil
}

func (s *OperatorStore) GetByUsername(ctx context.Context, username string) (*models.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[username]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &op, nil
}

func (s *OperatorStore) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[username]
	if !ok {
		return repositories.ErrNotFound
	}
	op.LastLogin = &at
	s.ops[username] = op
	return nil
}

func (s *OperatorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ops), nil
}
