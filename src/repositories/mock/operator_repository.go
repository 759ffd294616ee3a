package mock

import (
	"context"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
)

// OperatorRepository is a mock implementation of repositories.OperatorRepository
type OperatorRepository struct {
	// Function stubs that can be overridden in tests
	CreateFunc          func(ctx context.Context, op *models.Operator) error
	GetByUsernameFunc   func(ctx context.Context, username string) (*models.Operator, error)
	UpdateLastLoginFunc func(ctx context.Context, username string, at time.Time) error
	CountFunc           func(ctx context.Context) (int, error)

	// Call tracking
	Calls map[string][]interface{}
}

// NewOperatorRepository creates a new mock operator repository
func NewOperatorRepository() *OperatorRepository {
	return &OperatorRepository{
		Calls: make(map[string][]interface{}),
	}
}

func (m *OperatorRepository) Create(ctx context.Context, op *models.Operator) error {
	m.Calls["Create"] = append(m.Calls["Create"], op)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, op)
	}
	return nil
}

func (m *OperatorRepository) GetByUsername(ctx context.Context, username string) (*models.Operator, error) {
	m.Calls["GetByUsername"] = append(m.Calls["GetByUsername"], username)
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, repositories.ErrNotFound
}

func (m *OperatorRepository) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	m.Calls["UpdateLastLogin"] = append(m.Calls["UpdateLastLogin"], username)
	if m.UpdateLastLoginFunc != nil {
		return m.UpdateLastLoginFunc(ctx, username, at)
	}
	return nil
}

func (m *OperatorRepository) Count(ctx context.Context) (int, error) {
	m.Calls["Count"] = append(m.Calls["Count"], nil)
	if m.CountFunc != nil {
		return m.CountFunc(ctx)
	}
	return 0, nil
}

// Ensure OperatorRepository implements the interface
var _ repositories.OperatorRepository = (*OperatorRepository)(nil)
