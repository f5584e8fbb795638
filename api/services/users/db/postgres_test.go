package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
)

var created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newPostgresWithMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestPostgres_CreateWritesUserAndEntitlementInOneTx(t *testing.T) {
	repo, mock := newPostgresWithMock(t)
	user := User{ID: "u1", Email: "a@example.com", PasswordHash: "hash", CreatedAt: created}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs("u1", "a@example.com", "hash", created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO entitlements`).
		WithArgs("u1", "trial", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), user, entitlementdb.NewTrialRecord("u1", created, 7*24*time.Hour)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateDuplicateEmailRollsBack(t *testing.T) {
	repo, mock := newPostgresWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), User{ID: "u1", Email: "a@example.com", CreatedAt: created},
		entitlementdb.NewTrialRecord("u1", created, time.Hour))
	assert.ErrorIs(t, err, ErrEmailTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetByEmail(t *testing.T) {
	repo, mock := newPostgresWithMock(t)
	mock.ExpectQuery(`SELECT id, email, password_hash, created_at FROM users WHERE email = \$1`).
		WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
			AddRow("u1", "a@example.com", "hash", created))

	u, err := repo.GetByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, User{ID: "u1", Email: "a@example.com", PasswordHash: "hash", CreatedAt: created}, u)

	mock.ExpectQuery(`WHERE id = \$1`).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}))
	_, err = repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_CreateIsAtomicWithEntitlement(t *testing.T) {
	ctx := context.Background()
	ents := entitlementdb.NewMemory()
	m := NewMemory(ents)

	require.NoError(t, m.Create(ctx, User{ID: "u1", Email: "a@example.com"}, entitlementdb.NewTrialRecord("u1", created, time.Hour)))
	_, err := ents.Get(ctx, "u1")
	require.NoError(t, err)

	err = m.Create(ctx, User{ID: "u2", Email: "a@example.com"}, entitlementdb.NewTrialRecord("u2", created, time.Hour))
	assert.ErrorIs(t, err, ErrEmailTaken)
	_, err = ents.Get(ctx, "u2")
	assert.ErrorIs(t, err, entitlementdb.ErrNotFound)

	u, err := m.GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
}
