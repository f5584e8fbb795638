package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tbeaudouin05/snapcal-api/api/metrics"
	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
)

// Service answers access questions for the API layer.
type Service interface {
	CheckAccess(ctx context.Context, userID string) (Evaluation, error)
}

type serviceImpl struct {
	repo entitlementdb.Repository
	now  func() time.Time
}

// NewService returns the access service. A nil clock defaults to time.Now.
func NewService(repo entitlementdb.Repository, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	return serviceImpl{repo: repo, now: now}
}

// CheckAccess loads the caller's record and evaluates it against the current time.
func (s serviceImpl) CheckAccess(ctx context.Context, userID string) (Evaluation, error) {
	rec, err := s.repo.Get(ctx, userID)
	if errors.Is(err, entitlementdb.ErrNotFound) {
		slog.Warn("access check for user without entitlement record", "user_id", userID)
		return Evaluation{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	ev := Evaluate(rec, s.now().UTC())
	metrics.AccessChecks.WithLabelValues(string(ev.Status), strconv.FormatBool(ev.Entitled)).Inc()
	if !ev.Entitled {
		slog.Debug("access denied", "user_id", userID, "reason", ev.Reason)
	}
	return ev, nil
}
