package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tbeaudouin05/snapcal-api/api/metrics"
	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
)

// Sweeper expires active records whose paid period ended without a webhook
// saying so.
type Sweeper struct {
	repo     entitlementdb.Repository
	interval time.Duration
	now      func() time.Time
}

// NewSweeper creates a Sweeper that runs every interval. A nil clock defaults
// to time.Now.
func NewSweeper(repo entitlementdb.Repository, interval time.Duration, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{repo: repo, interval: interval, now: now}
}

// Run sweeps once immediately and then on every tick. It blocks until ctx is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("expiry sweeper started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	n, err := s.Sweep(ctx, s.now().UTC())
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		slog.Error("expiry sweep failed", "expired", n, "error", err)
		return
	}
	metrics.SweepRuns.WithLabelValues("ok").Inc()
}

// Sweep moves every active record whose subscriptionEndsAt is before now to
// expired and returns how many records it changed. The condition is checked
// again under the record lock, so a renewal that lands between listing and
// locking is left alone. Failures on single records do not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.ListLapsedActive(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	var (
		expired int
		errs    []error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		var transitioned bool
		_, err := s.repo.UpdateByUserID(ctx, id, func(rec *entitlementdb.Record) (bool, error) {
			if rec.SubscriptionStatus != entitlementdb.StatusActive ||
				rec.SubscriptionEndsAt == nil || !rec.SubscriptionEndsAt.Before(now) {
				return false, nil
			}
			rec.SubscriptionStatus = entitlementdb.StatusExpired
			transitioned = true
			return true, nil
		})
		switch {
		case errors.Is(err, entitlementdb.ErrNotFound):
			continue
		case err != nil:
			slog.Error("failed to expire entitlement", "user_id", id, "error", err)
			errs = append(errs, fmt.Errorf("%w: user %s: %v", ErrDatabase, id, err))
			continue
		}
		if transitioned {
			expired++
			metrics.SweepTransitions.Inc()
			slog.Info("subscription expired by sweeper", "user_id", id)
		}
	}
	if len(ids) > 0 {
		slog.Info("expiry sweep finished", "candidates", len(ids), "expired", expired)
	}
	return expired, errors.Join(errs...)
}
