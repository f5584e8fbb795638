package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go"
	entitlementapp "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/app"
	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
)

func newReconciler(repo entitlementdb.Repository, g fakeGateway, discardStale bool) *Reconciler {
	return NewReconciler(repo, g, ReconcilerOptions{RefetchTimeout: time.Second, DiscardStale: discardStale})
}

func TestApply_SubscriptionUpdatedThenCanceled(t *testing.T) {
	ctx := context.Background()
	repo := entitlementdb.NewMemory()
	seedLinked(t, repo, "u1", "cus_1")
	r := newReconciler(repo, fakeGateway{}, true)
	end := t0.Add(30 * day)

	require.NoError(t, r.Apply(ctx, SubscriptionCreatedOrUpdated{
		CustomerRef: "cus_1", SubscriptionRef: "sub_1", Status: entitlementdb.StatusActive, PeriodEnd: end,
	}))
	rec := mustGet(t, repo, "u1")
	assert.Equal(t, entitlementdb.StatusActive, rec.SubscriptionStatus)
	assert.True(t, end.Equal(*rec.SubscriptionEndsAt))
	assert.Equal(t, "sub_1", *rec.BillingSubscriptionRef)

	require.NoError(t, r.Apply(ctx, SubscriptionCanceled{CustomerRef: "cus_1"}))
	rec = mustGet(t, repo, "u1")
	assert.Equal(t, entitlementdb.StatusCanceled, rec.SubscriptionStatus)
	assert.True(t, end.Equal(*rec.SubscriptionEndsAt), "cancellation keeps the paid period")

	ev := entitlementapp.Evaluate(rec, t0)
	assert.True(t, ev.Entitled)
	assert.False(t, entitlementapp.Evaluate(rec, end).Entitled)
}

func TestApply_IsIdempotentForEveryVariant(t *testing.T) {
	end := t0.Add(30 * day)
	g := fakeGateway{subs: map[string]stripe.Subscription{"sub_1": activeSub("sub_1", "cus_1", end)}}

	cases := []struct {
		name     string
		customer string
		ev       BillingEvent
	}{
		{"created or updated", "cus_1", SubscriptionCreatedOrUpdated{CustomerRef: "cus_1", SubscriptionRef: "sub_1", Status: entitlementdb.StatusActive, PeriodEnd: end}},
		{"canceled", "cus_1", SubscriptionCanceled{CustomerRef: "cus_1"}},
		{"payment succeeded", "cus_1", PaymentSucceeded{SubscriptionRef: "sub_1"}},
		{"payment failed", "cus_1", PaymentFailed{CustomerRef: "cus_1"}},
		{"checkout completed", "", CheckoutCompleted{UserID: "u1", CustomerRef: "cus_1", SubscriptionRef: "sub_1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			repo := entitlementdb.NewMemory()
			seedLinked(t, repo, "u1", tc.customer)
			r := newReconciler(repo, g, true)

			require.NoError(t, r.Apply(ctx, tc.ev))
			once := mustGet(t, repo, "u1")
			require.NoError(t, r.Apply(ctx, tc.ev))
			assert.Equal(t, once, mustGet(t, repo, "u1"))
		})
	}
}

func TestApply_OrderIndependence(t *testing.T) {
	p1 := t0.Add(30 * day)
	p2 := t0.Add(60 * day)
	g := fakeGateway{subs: map[string]stripe.Subscription{"sub_1": activeSub("sub_1", "cus_1", p2)}}
	events := []BillingEvent{
		SubscriptionCreatedOrUpdated{CustomerRef: "cus_1", SubscriptionRef: "sub_1", Status: entitlementdb.StatusInactive, PeriodEnd: p1},
		SubscriptionCreatedOrUpdated{CustomerRef: "cus_1", SubscriptionRef: "sub_1", Status: entitlementdb.StatusActive, PeriodEnd: p1},
		SubscriptionCreatedOrUpdated{CustomerRef: "cus_1", SubscriptionRef: "sub_1", Status: entitlementdb.StatusActive, PeriodEnd: p2},
		PaymentSucceeded{SubscriptionRef: "sub_1"},
	}

	for _, order := range permutations(len(events)) {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			ctx := context.Background()
			repo := entitlementdb.NewMemory()
			seedLinked(t, repo, "u1", "cus_1")
			r := newReconciler(repo, g, true)
			for _, i := range order {
				require.NoError(t, r.Apply(ctx, events[i]))
			}
			rec := mustGet(t, repo, "u1")
			assert.Equal(t, entitlementdb.StatusActive, rec.SubscriptionStatus)
			assert.True(t, p2.Equal(*rec.SubscriptionEndsAt))
		})
	}
}

func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			next := make([]int, 0, n)
			next = append(next, p[:i]...)
			next = append(next, n-1)
			next = append(next, p[i:]...)
			out = append(out, next)
		}
	}
	return out
}

func TestApply_LastWriteWinsWithoutStaleDiscard(t *testing.T) {
	ctx := context.Background()
	repo := entitlementdb.NewMemory()
	seedLinked(t, repo, "u1", "cus_1")
	r := newReconciler(repo, fakeGateway{}, false)
	p1, p2 := t0.Add(30*day), t0.Add(60*day)

	require.NoError(t, r.Apply(ctx, SubscriptionCreatedOrUpdated{CustomerRef: "cus_1", SubscriptionRef: "sub_1", Status: entitlementdb.StatusActive, PeriodEnd: p2}))
	require.NoError(t, r.Apply(ctx, SubscriptionCreatedOrUpdated{CustomerRef: "cus_1", SubscriptionRef: "sub_1", Status: entitlementdb.StatusActive, PeriodEnd: p1}))
	assert.True(t, p1.Equal(*mustGet(t, repo, "u1").SubscriptionEndsAt))
}

func TestApply_StaleDiscardOnlyForSameSubscription(t *testing.T) {
	ctx := context.Background()
	repo := entitlementdb.NewMemory()
	seedLinked(t, repo, "u1", "cus_1")
	r := newReconciler(repo, fakeGateway{}, true)
	p1, p2 := t0.Add(30*day), t0.Add(60*day)

	require.NoError(t, r.Apply(ctx, SubscriptionCreatedOrUpdated{CustomerRef: "cus_1", SubscriptionRef: "sub_old", Status: entitlementdb.StatusCanceled, PeriodEnd: p2}))
	require.NoError(t, r.Apply(ctx, SubscriptionCreatedOrUpdated{CustomerRef: "cus_1", SubscriptionRef: "sub_new", Status: entitlementdb.StatusActive, PeriodEnd: p1}))

	rec := mustGet(t, repo, "u1")
	assert.Equal(t, "sub_new", *rec.BillingSubscriptionRef)
	assert.Equal(t, entitlementdb.StatusActive, rec.SubscriptionStatus)
	assert.True(t, p1.Equal(*rec.SubscriptionEndsAt))

	// A late deletion of the replaced subscription leaves the new one alone.
	require.NoError(t, r.Apply(ctx, SubscriptionCanceled{CustomerRef: "cus_1", SubscriptionRef: "sub_old"}))
	assert.Equal(t, entitlementdb.StatusActive, mustGet(t, repo, "u1").SubscriptionStatus)
}

func TestApply_UnknownCustomerIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := entitlementdb.NewMemory()
	seedLinked(t, repo, "u1", "cus_1")
	before := mustGet(t, repo, "u1")
	r := newReconciler(repo, fakeGateway{subs: map[string]stripe.Subscription{"sub_9": activeSub("sub_9", "cus_9", t0.Add(day))}}, true)

	assert.NoError(t, r.Apply(ctx, SubscriptionCreatedOrUpdated{CustomerRef: "cus_9", SubscriptionRef: "sub_9", Status: entitlementdb.StatusActive, PeriodEnd: t0.Add(day)}))
	assert.NoError(t, r.Apply(ctx, SubscriptionCanceled{CustomerRef: "cus_9"}))
	assert.NoError(t, r.Apply(ctx, PaymentSucceeded{SubscriptionRef: "sub_9"}))
	assert.NoError(t, r.Apply(ctx, CheckoutCompleted{UserID: "ghost", CustomerRef: "cus_9"}))
	assert.Equal(t, before, mustGet(t, repo, "u1"))
}

func TestApply_PaymentSucceededRefetchFailure(t *testing.T) {
	cases := map[string]fakeGateway{
		"timeout": {block: true},
		"error":   {err: errors.New("stripe: 500")},
	}
	for name, g := range cases {
		t.Run(name, func(t *testing.T) {
			repo := entitlementdb.NewMemory()
			seedLinked(t, repo, "u1", "cus_1")
			before := mustGet(t, repo, "u1")
			r := NewReconciler(repo, g, ReconcilerOptions{RefetchTimeout: 20 * time.Millisecond, DiscardStale: true})

			err := r.Apply(context.Background(), PaymentSucceeded{SubscriptionRef: "sub_1"})
			assert.ErrorIs(t, err, ErrUpstreamUnavailable)
			assert.Equal(t, before, mustGet(t, repo, "u1"))
		})
	}
}

func TestApply_PaymentSucceededUsesAuthoritativeState(t *testing.T) {
	ctx := context.Background()
	repo := entitlementdb.NewMemory()
	seedLinked(t, repo, "u1", "cus_1")
	end := t0.Add(30 * day)
	sub := activeSub("sub_1", "cus_1", end)
	sub.Status = stripe.SubscriptionStatusPastDue
	r := newReconciler(repo, fakeGateway{subs: map[string]stripe.Subscription{"sub_1": sub}}, true)

	require.NoError(t, r.Apply(ctx, PaymentSucceeded{SubscriptionRef: "sub_1"}))
	rec := mustGet(t, repo, "u1")
	assert.Equal(t, entitlementdb.StatusInactive, rec.SubscriptionStatus)
	assert.True(t, end.Equal(*rec.SubscriptionEndsAt))
}

func TestApply_PaymentFailedDoesNotMutate(t *testing.T) {
	repo := entitlementdb.NewMemory()
	seedLinked(t, repo, "u1", "cus_1")
	before := mustGet(t, repo, "u1")
	r := newReconciler(repo, fakeGateway{}, true)

	require.NoError(t, r.Apply(context.Background(), PaymentFailed{CustomerRef: "cus_1", SubscriptionRef: "sub_1"}))
	assert.Equal(t, before, mustGet(t, repo, "u1"))
}

func TestApply_BadEvents(t *testing.T) {
	repo := entitlementdb.NewMemory()
	seedLinked(t, repo, "u1", "cus_1")
	r := newReconciler(repo, fakeGateway{}, true)

	bad := []BillingEvent{
		SubscriptionCreatedOrUpdated{CustomerRef: "cus_1", SubscriptionRef: "sub_1", Status: entitlementdb.StatusActive},
		SubscriptionCreatedOrUpdated{SubscriptionRef: "sub_1", Status: entitlementdb.StatusCanceled, PeriodEnd: t0},
		SubscriptionCreatedOrUpdated{CustomerRef: "cus_1", SubscriptionRef: "sub_1", Status: "paused", PeriodEnd: t0},
		SubscriptionCanceled{},
		PaymentSucceeded{},
		CheckoutCompleted{UserID: "u1"},
	}
	for _, ev := range bad {
		assert.ErrorIs(t, r.Apply(context.Background(), ev), ErrBadEvent, "%#v", ev)
	}
}

func TestApply_CheckoutCompletedLinksAndCatchesUp(t *testing.T) {
	ctx := context.Background()
	repo := entitlementdb.NewMemory()
	seedLinked(t, repo, "u1", "")
	end := t0.Add(30 * day)
	r := newReconciler(repo, fakeGateway{subs: map[string]stripe.Subscription{"sub_1": activeSub("sub_1", "cus_1", end)}}, true)

	require.NoError(t, r.Apply(ctx, CheckoutCompleted{UserID: "u1", CustomerRef: "cus_1", SubscriptionRef: "sub_1"}))
	rec := mustGet(t, repo, "u1")
	assert.Equal(t, "cus_1", *rec.BillingCustomerRef)
	assert.Equal(t, entitlementdb.StatusActive, rec.SubscriptionStatus)
	assert.True(t, end.Equal(*rec.SubscriptionEndsAt))

	// First write wins: a second customer never replaces the link.
	require.NoError(t, r.Apply(ctx, CheckoutCompleted{UserID: "u1", CustomerRef: "cus_2"}))
	assert.Equal(t, "cus_1", *mustGet(t, repo, "u1").BillingCustomerRef)
}

func TestApply_ConcurrentUpdatesForOneCustomer(t *testing.T) {
	ctx := context.Background()
	repo := entitlementdb.NewMemory()
	seedLinked(t, repo, "u1", "cus_1")
	r := newReconciler(repo, fakeGateway{}, true)

	var wg sync.WaitGroup
	for i := 1; i <= 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := r.Apply(ctx, SubscriptionCreatedOrUpdated{
				CustomerRef: "cus_1", SubscriptionRef: "sub_1",
				Status: entitlementdb.StatusActive, PeriodEnd: t0.Add(time.Duration(i) * day),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec := mustGet(t, repo, "u1")
	assert.Equal(t, entitlementdb.StatusActive, rec.SubscriptionStatus)
	assert.True(t, t0.Add(30*day).Equal(*rec.SubscriptionEndsAt))
}
