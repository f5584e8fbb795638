package db

import (
	"context"
	"errors"
	"time"

	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)

// Repository stores user accounts.
type Repository interface {
	// Create stores the user together with its entitlement record; either
	// both exist afterwards or neither does.
	Create(ctx context.Context, user User, ent entitlementdb.Record) error
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
}

var (
	_ Repository = (*Postgres)(nil)
	_ Repository = (*Memory)(nil)
)
