package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Add(ctx context.Context, e Entry) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO diary_entries (id, user_id, food_name, grams, calories, protein, carbs, fat, estimated, eaten_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.UserID, e.FoodName, e.Grams, e.Calories, e.Protein, e.Carbs, e.Fat, e.Estimated, e.EatenAt, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert diary entry: %w", err)
	}
	return nil
}

func (p *Postgres) ListBetween(ctx context.Context, userID string, from, to time.Time) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT id, user_id, food_name, grams, calories, protein, carbs, fat, estimated, eaten_at, created_at
FROM diary_entries
WHERE user_id = $1 AND eaten_at >= $2 AND eaten_at < $3
ORDER BY eaten_at, created_at`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list diary entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.FoodName, &e.Grams, &e.Calories, &e.Protein, &e.Carbs, &e.Fat,
			&e.Estimated, &e.EatenAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan diary entry: %w", err)
		}
		e.EatenAt = e.EatenAt.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *Postgres) Delete(ctx context.Context, userID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM diary_entries WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete diary entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete diary entry: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
