package db

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Repository. A mutex per user id serializes updates of
// the same record while leaving other records free.
type Memory struct {
	mu         sync.RWMutex
	records    map[string]Record
	byCustomer map[string]string
	locks      sync.Map // user id -> *sync.Mutex
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		records:    make(map[string]Record),
		byCustomer: make(map[string]string),
	}
}

func (m *Memory) lockFor(userID string) *sync.Mutex {
	l, _ := m.locks.LoadOrStore(userID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (m *Memory) Create(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.UserID]; ok {
		return ErrAlreadyExists
	}
	if rec.BillingCustomerRef != nil {
		if _, taken := m.byCustomer[*rec.BillingCustomerRef]; taken {
			return ErrCustomerAlreadyLinked
		}
		m.byCustomer[*rec.BillingCustomerRef] = rec.UserID
	}
	m.records[rec.UserID] = rec.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, userID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[userID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) GetByCustomerRef(ctx context.Context, customerRef string) (Record, error) {
	m.mu.RLock()
	userID, ok := m.byCustomer[customerRef]
	m.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	return m.Get(ctx, userID)
}

func (m *Memory) LinkCustomer(_ context.Context, userID, customerRef string) (string, error) {
	l := m.lockFor(userID)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return "", ErrNotFound
	}
	if rec.BillingCustomerRef != nil {
		return *rec.BillingCustomerRef, nil
	}
	if owner, taken := m.byCustomer[customerRef]; taken && owner != userID {
		return "", ErrCustomerAlreadyLinked
	}
	ref := customerRef
	rec.BillingCustomerRef = &ref
	m.records[userID] = rec
	m.byCustomer[customerRef] = userID
	return customerRef, nil
}

func (m *Memory) UpdateByUserID(_ context.Context, userID string, fn MutateFunc) (Record, error) {
	return m.update(userID, fn)
}

func (m *Memory) UpdateByCustomerRef(_ context.Context, customerRef string, fn MutateFunc) (Record, error) {
	m.mu.RLock()
	userID, ok := m.byCustomer[customerRef]
	m.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	return m.update(userID, fn)
}

func (m *Memory) update(userID string, fn MutateFunc) (Record, error) {
	l := m.lockFor(userID)
	l.Lock()
	defer l.Unlock()

	m.mu.RLock()
	stored, ok := m.records[userID]
	m.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}

	rec := stored.Clone()
	changed, err := fn(&rec)
	if err != nil {
		return Record{}, err
	}
	if !changed {
		return stored.Clone(), nil
	}

	// Same columns as the SQL update: trial and customer link stay as stored.
	next := stored.Clone()
	next.SubscriptionStatus = rec.SubscriptionStatus
	next.SubscriptionEndsAt = cloneTime(rec.SubscriptionEndsAt)
	next.BillingSubscriptionRef = cloneString(rec.BillingSubscriptionRef)

	m.mu.Lock()
	m.records[userID] = next
	m.mu.Unlock()
	return next.Clone(), nil
}

func (m *Memory) ListLapsedActive(_ context.Context, now time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, rec := range m.records {
		if rec.SubscriptionStatus == StatusActive && rec.SubscriptionEndsAt != nil && rec.SubscriptionEndsAt.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
