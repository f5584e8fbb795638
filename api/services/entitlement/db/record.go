package db

import (
	"errors"
	"time"
)

// Status is the locally stored subscription state of a user.
type Status string

const (
	StatusTrial    Status = "trial"
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusCanceled, StatusExpired, StatusInactive:
		return true
	}
	return false
}

// Record is the persisted entitlement state of one user. Optional fields are
// nil when unset.
type Record struct {
	UserID                 string
	SubscriptionStatus     Status
	TrialEndsAt            *time.Time
	SubscriptionEndsAt     *time.Time
	BillingCustomerRef     *string
	BillingSubscriptionRef *string
}

// Clone returns a deep copy so callers never share pointers with storage.
func (r Record) Clone() Record {
	out := r
	out.TrialEndsAt = cloneTime(r.TrialEndsAt)
	out.SubscriptionEndsAt = cloneTime(r.SubscriptionEndsAt)
	out.BillingCustomerRef = cloneString(r.BillingCustomerRef)
	out.BillingSubscriptionRef = cloneString(r.BillingSubscriptionRef)
	return out
}

// NewTrialRecord builds the record created together with a user account.
func NewTrialRecord(userID string, now time.Time, trial time.Duration) Record {
	ends := now.Add(trial).UTC()
	return Record{
		UserID:             userID,
		SubscriptionStatus: StatusTrial,
		TrialEndsAt:        &ends,
	}
}

var (
	// ErrNotFound is returned when no record matches the lookup key.
	ErrNotFound = errors.New("entitlement record not found")
	// ErrCustomerAlreadyLinked is returned when linking a second billing customer.
	ErrCustomerAlreadyLinked = errors.New("billing customer already linked")
	// ErrAlreadyExists is returned when creating a record for a known user.
	ErrAlreadyExists = errors.New("entitlement record already exists")
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
