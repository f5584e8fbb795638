package db

import (
	"context"
	"sync"

	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
)

// Memory keeps users in process and creates their entitlement records in the
// given entitlement repository.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
	ents    entitlementdb.Repository
}

func NewMemory(ents entitlementdb.Repository) *Memory {
	return &Memory{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
		ents:    ents,
	}
}

func (m *Memory) Create(ctx context.Context, user User, ent entitlementdb.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byEmail[user.Email]; taken {
		return ErrEmailTaken
	}
	if err := m.ents.Create(ctx, ent); err != nil {
		return err
	}
	m.byID[user.ID] = user
	m.byEmail[user.Email] = user.ID
	return nil
}

func (m *Memory) GetByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.byID[id], nil
}

func (m *Memory) GetByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}
