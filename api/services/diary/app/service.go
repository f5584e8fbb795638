package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	diarydb "github.com/tbeaudouin05/snapcal-api/api/services/diary/db"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("diary entry not found")
	ErrDatabase     = errors.New("database error")
)

const dateLayout = "2006-01-02"

// AddEntryRequest logs a food portion. Missing nutrient values are estimated
// from the built-in table.
type AddEntryRequest struct {
	FoodName string     `json:"foodName"`
	Grams    float64    `json:"grams"`
	Calories *float64   `json:"calories,omitempty"`
	Protein  *float64   `json:"protein,omitempty"`
	Carbs    *float64   `json:"carbs,omitempty"`
	Fat      *float64   `json:"fat,omitempty"`
	EatenAt  *time.Time `json:"eatenAt,omitempty"`
}

type Totals struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// DayLog is one UTC day of entries with their sums.
type DayLog struct {
	Date    string          `json:"date"`
	Entries []diarydb.Entry `json:"entries"`
	Totals  Totals          `json:"totals"`
}

type Service interface {
	Add(ctx context.Context, userID string, req AddEntryRequest) (diarydb.Entry, error)
	ListDay(ctx context.Context, userID, date string) (DayLog, error)
	Delete(ctx context.Context, userID, entryID string) error
}

type serviceImpl struct {
	repo diarydb.Repository
	now  func() time.Time
}

func NewService(repo diarydb.Repository, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	return serviceImpl{repo: repo, now: now}
}

func (s serviceImpl) Add(ctx context.Context, userID string, req AddEntryRequest) (diarydb.Entry, error) {
	name := strings.TrimSpace(req.FoodName)
	if name == "" {
		return diarydb.Entry{}, fmt.Errorf("%w: foodName is required", ErrInvalidInput)
	}
	if req.Grams <= 0 {
		return diarydb.Entry{}, fmt.Errorf("%w: grams must be positive", ErrInvalidInput)
	}
	for _, v := range []*float64{req.Calories, req.Protein, req.Carbs, req.Fat} {
		if v != nil && *v < 0 {
			return diarydb.Entry{}, fmt.Errorf("%w: nutrient values must not be negative", ErrInvalidInput)
		}
	}

	now := s.now().UTC()
	eatenAt := now
	if req.EatenAt != nil {
		eatenAt = req.EatenAt.UTC()
	}

	per100, known := Lookup(name)
	est := per100.Scale(req.Grams)
	e := diarydb.Entry{
		ID:        uuid.NewString(),
		UserID:    userID,
		FoodName:  name,
		Grams:     req.Grams,
		Calories:  valueOr(req.Calories, est.Calories),
		Protein:   valueOr(req.Protein, est.Protein),
		Carbs:     valueOr(req.Carbs, est.Carbs),
		Fat:       valueOr(req.Fat, est.Fat),
		Estimated: req.Calories == nil,
		EatenAt:   eatenAt,
		CreatedAt: now,
	}
	if e.Estimated && !known {
		slog.Debug("no nutrition match, using generic estimate", "food_name", name)
	}
	if err := s.repo.Add(ctx, e); err != nil {
		return diarydb.Entry{}, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return e, nil
}

// ListDay returns the entries of date (YYYY-MM-DD, UTC); an empty date means today.
func (s serviceImpl) ListDay(ctx context.Context, userID, date string) (DayLog, error) {
	var day time.Time
	if date == "" {
		day = s.now().UTC().Truncate(24 * time.Hour)
	} else {
		var err error
		day, err = time.Parse(dateLayout, date)
		if err != nil {
			return DayLog{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
		}
	}

	entries, err := s.repo.ListBetween(ctx, userID, day, day.Add(24*time.Hour))
	if err != nil {
		return DayLog{}, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	log := DayLog{Date: day.Format(dateLayout), Entries: entries}
	for _, e := range entries {
		log.Totals.Calories += e.Calories
		log.Totals.Protein += e.Protein
		log.Totals.Carbs += e.Carbs
		log.Totals.Fat += e.Fat
	}
	log.Totals = Totals{
		Calories: round1(log.Totals.Calories),
		Protein:  round1(log.Totals.Protein),
		Carbs:    round1(log.Totals.Carbs),
		Fat:      round1(log.Totals.Fat),
	}
	return log, nil
}

func (s serviceImpl) Delete(ctx context.Context, userID, entryID string) error {
	if _, err := uuid.Parse(entryID); err != nil {
		return ErrNotFound
	}
	err := s.repo.Delete(ctx, userID, entryID)
	if errors.Is(err, diarydb.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
