package users

import (
	"context"
	"fmt"
	"sync"

	"middleman/internal/apperr"
	"middleman/internal/models"
)

// MemoryStore is an in-memory user store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*models.User)}
}

func (m *MemoryStore) Upsert(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *u
	if existing, ok := m.users[u.UID]; ok {
		cp.CreatedAt = existing.CreatedAt
		u.CreatedAt = existing.CreatedAt
	}
	m.users[u.UID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, uid string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[uid]
	if !ok {
		return nil, fmt.Errorf("%w: User not found", apperr.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}
