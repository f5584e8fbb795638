package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var allStatuses = []entitlementdb.Status{
	entitlementdb.StatusTrial,
	entitlementdb.StatusActive,
	entitlementdb.StatusCanceled,
	entitlementdb.StatusExpired,
	entitlementdb.StatusInactive,
}

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestEvaluate_TrialWinsRegardlessOfStatus(t *testing.T) {
	for _, st := range allStatuses {
		for _, subEnd := range []*time.Time{nil, at(-time.Hour), at(90 * day)} {
			rec := entitlementdb.Record{
				SubscriptionStatus: st,
				TrialEndsAt:        at(2*day + time.Hour),
				SubscriptionEndsAt: subEnd,
			}
			ev := Evaluate(rec, now)
			assert.True(t, ev.Entitled, "status %s", st)
			assert.Equal(t, AccessTrial, ev.Status, "status %s", st)
			assert.Equal(t, 3, ev.DaysRemaining, "status %s", st)
		}
	}
}

func TestEvaluate_ActiveSubscriptionAfterTrial(t *testing.T) {
	for _, trial := range []*time.Time{nil, at(0), at(-10 * day)} {
		rec := entitlementdb.Record{
			SubscriptionStatus: entitlementdb.StatusActive,
			TrialEndsAt:        trial,
			SubscriptionEndsAt: at(30 * day),
		}
		ev := Evaluate(rec, now)
		assert.True(t, ev.Entitled)
		assert.Equal(t, AccessActive, ev.Status)
		assert.Equal(t, 30, ev.DaysRemaining)
		assert.Equal(t, ReasonSubscription, ev.Reason)
	}
}

func TestEvaluate_BothWindowsPast(t *testing.T) {
	for _, st := range allStatuses {
		rec := entitlementdb.Record{
			SubscriptionStatus: st,
			TrialEndsAt:        at(-8 * day),
			SubscriptionEndsAt: at(-time.Second),
		}
		ev := Evaluate(rec, now)
		assert.Equal(t, Evaluation{Entitled: false, Status: AccessExpired, DaysRemaining: 0, Reason: ReasonSubscriptionEnded}, ev, "status %s", st)
	}
}

func TestEvaluate_NonPaidStatusWithFutureEndIsNotEntitled(t *testing.T) {
	for _, st := range []entitlementdb.Status{entitlementdb.StatusExpired, entitlementdb.StatusInactive, entitlementdb.StatusTrial} {
		rec := entitlementdb.Record{SubscriptionStatus: st, SubscriptionEndsAt: at(10 * day)}
		ev := Evaluate(rec, now)
		assert.False(t, ev.Entitled, "status %s", st)
		assert.Equal(t, AccessExpired, ev.Status)
	}
}

func TestEvaluate_ActiveWithoutEndIsNotEntitled(t *testing.T) {
	ev := Evaluate(entitlementdb.Record{SubscriptionStatus: entitlementdb.StatusActive}, now)
	assert.False(t, ev.Entitled)
	assert.Equal(t, ReasonNoEntitlement, ev.Reason)
}

func TestEvaluate_EndBoundaryIsExclusive(t *testing.T) {
	rec := entitlementdb.Record{SubscriptionStatus: entitlementdb.StatusActive, SubscriptionEndsAt: at(0)}
	assert.False(t, Evaluate(rec, now).Entitled)

	rec = entitlementdb.Record{TrialEndsAt: at(0), SubscriptionStatus: entitlementdb.StatusInactive}
	assert.False(t, Evaluate(rec, now).Entitled)
}

func TestEvaluate_DaysRemainingRoundsUp(t *testing.T) {
	cases := []struct {
		left time.Duration
		want int
	}{
		{time.Second, 1},
		{day, 1},
		{day + time.Nanosecond, 2},
		{3 * day, 3},
		{6*day + 23*time.Hour, 7},
	}
	for _, tc := range cases {
		rec := entitlementdb.Record{TrialEndsAt: at(tc.left)}
		assert.Equal(t, tc.want, Evaluate(rec, now).DaysRemaining, "left %s", tc.left)
	}
}

func TestEvaluate_ExpiredTrialScenario(t *testing.T) {
	rec := entitlementdb.Record{TrialEndsAt: at(0), SubscriptionStatus: entitlementdb.StatusInactive}
	ev := Evaluate(rec, now)
	assert.False(t, ev.Entitled)
	assert.Equal(t, AccessExpired, ev.Status)
	assert.Equal(t, 0, ev.DaysRemaining)
}

func TestEvaluate_ThreeDayTrialScenario(t *testing.T) {
	rec := entitlementdb.Record{TrialEndsAt: at(3 * day), SubscriptionStatus: entitlementdb.StatusInactive}
	ev := Evaluate(rec, now)
	assert.True(t, ev.Entitled)
	assert.Equal(t, AccessTrial, ev.Status)
	assert.Equal(t, 3, ev.DaysRemaining)
}

func TestEvaluate_CanceledKeepsAccessUntilPeriodEnd(t *testing.T) {
	rec := entitlementdb.Record{
		TrialEndsAt:        at(-10 * day),
		SubscriptionStatus: entitlementdb.StatusCanceled,
		SubscriptionEndsAt: at(30 * day),
	}
	ev := Evaluate(rec, now)
	assert.True(t, ev.Entitled)
	assert.Equal(t, AccessActive, ev.Status)
	assert.Equal(t, 30, ev.DaysRemaining)
	assert.Equal(t, ReasonCanceledUntilEnd, ev.Reason)

	ev = Evaluate(rec, now.Add(30*day))
	assert.False(t, ev.Entitled)
	assert.Equal(t, AccessExpired, ev.Status)
}
