package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// EventStatus is the processing state of a received Stripe event.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventProcessed EventStatus = "processed"
	EventFailed    EventStatus = "failed"
)

// ErrEventNotFound is returned when marking an event that was never recorded.
var ErrEventNotFound = errors.New("billing event not found")

// Ledger records every verified webhook event id so redeliveries of an
// already processed event are acknowledged without being applied again.
type Ledger interface {
	// Begin records a delivery of eventID and reports whether a previous
	// delivery was already processed.
	Begin(ctx context.Context, eventID, eventType string) (alreadyProcessed bool, err error)
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, reason string) error
}

var (
	_ Ledger = (*PostgresLedger)(nil)
	_ Ledger = (*MemoryLedger)(nil)
)

// PostgresLedger stores events in the billing_events table.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Begin(ctx context.Context, eventID, eventType string) (bool, error) {
	var status string
	err := l.db.QueryRowContext(ctx, `
INSERT INTO billing_events (event_id, event_type, status, attempts)
VALUES ($1, $2, 'pending', 1)
ON CONFLICT (event_id) DO UPDATE SET attempts = billing_events.attempts + 1
RETURNING status`, eventID, eventType).Scan(&status)
	if err != nil {
		return false, fmt.Errorf("record billing event: %w", err)
	}
	return EventStatus(status) == EventProcessed, nil
}

func (l *PostgresLedger) MarkProcessed(ctx context.Context, eventID string) error {
	return l.mark(ctx, `
UPDATE billing_events SET status = 'processed', processed_at = now(), last_error = NULL
WHERE event_id = $1`, eventID)
}

// MarkFailed stores reason on an unprocessed event. A processed event keeps
// its status.
func (l *PostgresLedger) MarkFailed(ctx context.Context, eventID, reason string) error {
	_, err := l.db.ExecContext(ctx, `
UPDATE billing_events SET status = 'failed', last_error = $2
WHERE event_id = $1 AND status <> 'processed'`, eventID, reason)
	if err != nil {
		return fmt.Errorf("update billing event: %w", err)
	}
	return nil
}

func (l *PostgresLedger) mark(ctx context.Context, query string, args ...any) error {
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update billing event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update billing event: %w", err)
	}
	if n == 0 {
		return ErrEventNotFound
	}
	return nil
}

// LedgerEntry is the in-memory view of one billing_events row.
type LedgerEntry struct {
	EventType string
	Status    EventStatus
	Attempts  int
	LastError string
}

// MemoryLedger is an in-process Ledger for tests and local runs.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]*LedgerEntry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]*LedgerEntry)}
}

func (l *MemoryLedger) Begin(_ context.Context, eventID, eventType string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[eventID]
	if !ok {
		l.entries[eventID] = &LedgerEntry{EventType: eventType, Status: EventPending, Attempts: 1}
		return false, nil
	}
	e.Attempts++
	return e.Status == EventProcessed, nil
}

func (l *MemoryLedger) MarkProcessed(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[eventID]
	if !ok {
		return ErrEventNotFound
	}
	e.Status = EventProcessed
	e.LastError = ""
	return nil
}

func (l *MemoryLedger) MarkFailed(_ context.Context, eventID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[eventID]
	if !ok {
		return ErrEventNotFound
	}
	if e.Status != EventProcessed {
		e.Status = EventFailed
		e.LastError = reason
	}
	return nil
}

// Entry returns a copy of the stored entry for eventID.
func (l *MemoryLedger) Entry(eventID string) (LedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[eventID]
	if !ok {
		return LedgerEntry{}, false
	}
	return *e, true
}
