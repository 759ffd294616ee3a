package mock

import (
	"context"
	"sync"

	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
)

// RemoteKeyClient is a mock implementation of repositories.RemoteKeyClient
type RemoteKeyClient struct {
	// Function stubs that can be overridden in tests
	ListKeysFunc         func(ctx context.Context) ([]models.RemoteKey, error)
	GetKeyFunc           func(ctx context.Context, keyID string) (*models.RemoteKey, error)
	CreateKeyFunc        func(ctx context.Context, name string) (*models.RemoteKey, error)
	DeleteKeyFunc        func(ctx context.Context, keyID string) error
	RenameKeyFunc        func(ctx context.Context, keyID, name string) error
	SetTrafficCapFunc    func(ctx context.Context, keyID string, bytes int64) error
	VerifyTrafficCapFunc func(ctx context.Context, keyID string, expected int64) error
	GetUsageFunc         func(ctx context.Context, keyID string) (int64, error)

	// Call tracking
	mu    sync.Mutex
	Calls map[string][][]interface{}
}

// NewRemoteKeyClient creates a new mock remote client
func NewRemoteKeyClient() *RemoteKeyClient {
	return &RemoteKeyClient{
		Calls: make(map[string][][]interface{}),
	}
}

func (m *RemoteKeyClient) record(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[method] = append(m.Calls[method], args)
}

// CallCount returns how many times method was invoked
func (m *RemoteKeyClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls[method])
}

// LastCall returns the arguments of the latest invocation of method
func (m *RemoteKeyClient) LastCall(method string) []interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := m.Calls[method]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

func (m *RemoteKeyClient) ListKeys(ctx context.Context) ([]models.RemoteKey, error) {
	m.record("ListKeys")
	if m.ListKeysFunc != nil {
		return m.ListKeysFunc(ctx)
	}
	return nil, nil
}

func (m *RemoteKeyClient) GetKey(ctx context.Context, keyID string) (*models.RemoteKey, error) {
	m.record("GetKey", keyID)
	if m.GetKeyFunc != nil {
		return m.GetKeyFunc(ctx, keyID)
	}
	return &models.RemoteKey{ID: keyID}, nil
}

func (m *RemoteKeyClient) CreateKey(ctx context.Context, name string) (*models.RemoteKey, error) {
	m.record("CreateKey", name)
	if m.CreateKeyFunc != nil {
		return m.CreateKeyFunc(ctx, name)
	}
	return &models.RemoteKey{ID: "1", Name: name}, nil
}

func (m *RemoteKeyClient) DeleteKey(ctx context.Context, keyID string) error {
	m.record("DeleteKey", keyID)
	if m.DeleteKeyFunc != nil {
		return m.DeleteKeyFunc(ctx, keyID)
	}
	return nil
}

func (m *RemoteKeyClient) RenameKey(ctx context.Context, keyID, name string) error {
	m.record("RenameKey", keyID, name)
	if m.RenameKeyFunc != nil {
		return m.RenameKeyFunc(ctx, keyID, name)
	}
	return nil
}

func (m *RemoteKeyClient) SetTrafficCap(ctx context.Context, keyID string, bytes int64) error {
	m.record("SetTrafficCap", keyID, bytes)
	if m.SetTrafficCapFunc != nil {
		return m.SetTrafficCapFunc(ctx, keyID, bytes)
	}
	return nil
}

func (m *RemoteKeyClient) VerifyTrafficCap(ctx context.Context, keyID string, expected int64) error {
	m.record("VerifyTrafficCap", keyID, expected)
	if m.VerifyTrafficCapFunc != nil {
		return m.VerifyTrafficCapFunc(ctx, keyID, expected)
	}
	return nil
}

func (m *RemoteKeyClient) GetUsage(ctx context.Context, keyID string) (int64, error) {
	m.record("GetUsage", keyID)
	if m.GetUsageFunc != nil {
		return m.GetUsageFunc(ctx, keyID)
	}
	return 0, nil
}

// Ensure RemoteKeyClient implements the interface
var _ repositories.RemoteKeyClient = (*RemoteKeyClient)(nil)
