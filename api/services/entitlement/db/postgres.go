package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tbeaudouin05/snapcal-api/api/database"
)

const selectColumns = `user_id, subscription_status, trial_ends_at, subscription_ends_at,
       billing_customer_ref, billing_subscription_ref`

// Postgres is the entitlements table repository. Per-record serialization uses
// SELECT ... FOR UPDATE inside a transaction.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a Repository backed by the given database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Insert writes a new record using q, so user registration can create the
// account and its record in one transaction.
func Insert(ctx context.Context, q database.DBTX, rec Record) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO entitlements (user_id, subscription_status, trial_ends_at, subscription_ends_at,
                          billing_customer_ref, billing_subscription_ref)
VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.UserID, string(rec.SubscriptionStatus), nullTime(rec.TrialEndsAt), nullTime(rec.SubscriptionEndsAt),
		nullString(rec.BillingCustomerRef), nullString(rec.BillingSubscriptionRef))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert entitlement: %w", err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, rec Record) error {
	return Insert(ctx, p.db, rec)
}

func (p *Postgres) Get(ctx context.Context, userID string) (Record, error) {
	return scanRecord(p.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM entitlements WHERE user_id = $1`, userID))
}

func (p *Postgres) GetByCustomerRef(ctx context.Context, customerRef string) (Record, error) {
	return scanRecord(p.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM entitlements WHERE billing_customer_ref = $1`, customerRef))
}

func (p *Postgres) LinkCustomer(ctx context.Context, userID, customerRef string) (string, error) {
	var linked sql.NullString
	err := p.db.QueryRowContext(ctx, `
UPDATE entitlements SET billing_customer_ref = $2, updated_at = now()
WHERE user_id = $1 AND billing_customer_ref IS NULL
RETURNING billing_customer_ref`, userID, customerRef).Scan(&linked)
	switch {
	case err == nil:
		return linked.String, nil
	case database.IsUniqueViolation(err):
		return "", ErrCustomerAlreadyLinked
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("link customer: %w", err)
	}

	// Either the user is unknown or a customer was linked earlier.
	err = p.db.QueryRowContext(ctx,
		`SELECT billing_customer_ref FROM entitlements WHERE user_id = $1`, userID).Scan(&linked)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read linked customer: %w", err)
	}
	return linked.String, nil
}

func (p *Postgres) UpdateByUserID(ctx context.Context, userID string, fn MutateFunc) (Record, error) {
	return p.update(ctx, `SELECT `+selectColumns+` FROM entitlements WHERE user_id = $1 FOR UPDATE`, userID, fn)
}

func (p *Postgres) UpdateByCustomerRef(ctx context.Context, customerRef string, fn MutateFunc) (Record, error) {
	return p.update(ctx, `SELECT `+selectColumns+` FROM entitlements WHERE billing_customer_ref = $1 FOR UPDATE`, customerRef, fn)
}

func (p *Postgres) update(ctx context.Context, lockQuery, key string, fn MutateFunc) (Record, error) {
	var out Record
	err := database.WithRetryTx(ctx, p.db, func(ctx context.Context, tx database.DBTX) error {
		rec, err := scanRecord(tx.QueryRowContext(ctx, lockQuery, key))
		if err != nil {
			return err
		}
		changed, err := fn(&rec)
		if err != nil {
			return err
		}
		out = rec
		if !changed {
			return nil
		}
		// trial_ends_at and billing_customer_ref are never rewritten after insert.
		_, err = tx.ExecContext(ctx, `
UPDATE entitlements
SET subscription_status = $2, subscription_ends_at = $3, billing_subscription_ref = $4, updated_at = now()
WHERE user_id = $1`,
			rec.UserID, string(rec.SubscriptionStatus), nullTime(rec.SubscriptionEndsAt), nullString(rec.BillingSubscriptionRef))
		if err != nil {
			return fmt.Errorf("update entitlement: %w", err)
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

func (p *Postgres) ListLapsedActive(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT user_id FROM entitlements
WHERE subscription_status = 'active' AND subscription_ends_at < $1
ORDER BY subscription_ends_at`, now)
	if err != nil {
		return nil, fmt.Errorf("list lapsed entitlements: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan lapsed entitlement: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanRecord(row *sql.Row) (Record, error) {
	var (
		rec                Record
		status             string
		trialEnds, subEnds sql.NullTime
		customer, sub      sql.NullString
	)
	err := row.Scan(&rec.UserID, &status, &trialEnds, &subEnds, &customer, &sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan entitlement: %w", err)
	}
	rec.SubscriptionStatus = Status(status)
	if trialEnds.Valid {
		t := trialEnds.Time.UTC()
		rec.TrialEndsAt = &t
	}
	if subEnds.Valid {
		t := subEnds.Time.UTC()
		rec.SubscriptionEndsAt = &t
	}
	if customer.Valid {
		rec.BillingCustomerRef = &customer.String
	}
	if sub.Valid {
		rec.BillingSubscriptionRef = &sub.String
	}
	return rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
