package credentials

import (
	"context"
	"sync"
)

// MemoryStore holds secrets in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]Secret
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]Secret)}
}

// Set stores a secret for an owner.
func (m *MemoryStore) Set(ownerID string, secret Secret) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[ownerID] = secret
}

// Delete removes an owner's secret.
func (m *MemoryStore) Delete(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, ownerID)
}

func (m *MemoryStore) GetSecret(_ context.Context, ownerID string) (*Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	secret, ok := m.secrets[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &secret, nil
}
