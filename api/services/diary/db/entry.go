package db

import (
	"context"
	"errors"
	"time"
)

// Entry is one logged food item.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	FoodName  string    `json:"foodName"`
	Grams     float64   `json:"grams"`
	Calories  float64   `json:"calories"`
	Protein   float64   `json:"protein"`
	Carbs     float64   `json:"carbs"`
	Fat       float64   `json:"fat"`
	Estimated bool      `json:"estimated"`
	EatenAt   time.Time `json:"eatenAt"`
	CreatedAt time.Time `json:"createdAt"`
}

var ErrNotFound = errors.New("diary entry not found")

type Repository interface {
	Add(ctx context.Context, e Entry) error
	// ListBetween returns the user's entries eaten in [from, to), oldest first.
	ListBetween(ctx context.Context, userID string, from, to time.Time) ([]Entry, error)
	// Delete removes an entry owned by userID.
	Delete(ctx context.Context, userID, id string) error
}

var (
	_ Repository = (*Postgres)(nil)
	_ Repository = (*Memory)(nil)
)
