package db

import (
	"context"
	"time"
)

// MutateFunc edits a record in place while the caller holds its lock.
// Returning changed=false skips the write.
type MutateFunc func(rec *Record) (changed bool, err error)

// Repository stores entitlement records. Update methods serialize the
// read-modify-write of a single record; different records never block each other.
type Repository interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, userID string) (Record, error)
	GetByCustomerRef(ctx context.Context, customerRef string) (Record, error)
	// LinkCustomer sets BillingCustomerRef if it is unset and returns the
	// reference stored after the call (first write wins).
	LinkCustomer(ctx context.Context, userID, customerRef string) (string, error)
	UpdateByUserID(ctx context.Context, userID string, fn MutateFunc) (Record, error)
	UpdateByCustomerRef(ctx context.Context, customerRef string, fn MutateFunc) (Record, error)
	// ListLapsedActive returns ids of active records whose subscription ended before now.
	ListLapsedActive(ctx context.Context, now time.Time) ([]string, error)
}

var (
	_ Repository = (*Postgres)(nil)
	_ Repository = (*Memory)(nil)
)
