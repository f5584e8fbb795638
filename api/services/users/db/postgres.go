package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tbeaudouin05/snapcal-api/api/database"
	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Create(ctx context.Context, user User, ent entitlementdb.Record) error {
	return database.WithTx(ctx, p.db, nil, func(ctx context.Context, tx database.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
			user.ID, user.Email, user.PasswordHash, user.CreatedAt)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return ErrEmailTaken
			}
			return fmt.Errorf("insert user: %w", err)
		}
		return entitlementdb.Insert(ctx, tx, ent)
	})
}

func (p *Postgres) GetByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(p.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`, email))
}

func (p *Postgres) GetByID(ctx context.Context, id string) (User, error) {
	return scanUser(p.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE id = $1`, id))
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}
