package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go"
	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
	gw "github.com/tbeaudouin05/snapcal-api/api/services/stripe/gateway"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fakeGateway struct {
	subs  map[string]stripe.Subscription
	err   error
	block bool
}

func (f fakeGateway) GetSubscription(ctx context.Context, id string) (stripe.Subscription, error) {
	if f.block {
		<-ctx.Done()
		return stripe.Subscription{}, ctx.Err()
	}
	if f.err != nil {
		return stripe.Subscription{}, f.err
	}
	s, ok := f.subs[id]
	if !ok {
		return stripe.Subscription{}, fmt.Errorf("no such subscription: %s", id)
	}
	return s, nil
}

func (f fakeGateway) CancelSubscription(context.Context, string) error { return f.err }

func (f fakeGateway) GetCustomer(_ context.Context, id string) (stripe.Customer, error) {
	return stripe.Customer{ID: id}, f.err
}

func (f fakeGateway) CreateCustomer(_ context.Context, email, _ string) (stripe.Customer, error) {
	return stripe.Customer{ID: "cus_new", Email: email}, f.err
}

func (f fakeGateway) CreateCheckoutSession(context.Context, gw.CheckoutSessionRequest) (stripe.CheckoutSession, error) {
	return stripe.CheckoutSession{ID: "cs_test"}, f.err
}

func activeSub(id, customer string, end time.Time) stripe.Subscription {
	return stripe.Subscription{
		ID:               id,
		Customer:         &stripe.Customer{ID: customer},
		Status:           stripe.SubscriptionStatusActive,
		CurrentPeriodEnd: end.Unix(),
	}
}

// seedLinked stores a user whose trial ended and whose Stripe customer is linked.
func seedLinked(t *testing.T, repo *entitlementdb.Memory, userID, customerRef string) {
	t.Helper()
	rec := entitlementdb.NewTrialRecord(userID, t0.Add(-10*day), 7*day)
	rec.SubscriptionStatus = entitlementdb.StatusInactive
	if customerRef != "" {
		ref := customerRef
		rec.BillingCustomerRef = &ref
	}
	require.NoError(t, repo.Create(context.Background(), rec))
}

func mustGet(t *testing.T, repo entitlementdb.Repository, userID string) entitlementdb.Record {
	t.Helper()
	rec, err := repo.Get(context.Background(), userID)
	require.NoError(t, err)
	return rec
}
