package app

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go"
	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
)

// MapSubscriptionStatus converts a Stripe subscription status to the local enum.
func MapSubscriptionStatus(s stripe.SubscriptionStatus) entitlementdb.Status {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return entitlementdb.StatusActive
	case stripe.SubscriptionStatusCanceled:
		return entitlementdb.StatusCanceled
	case stripe.SubscriptionStatusUnpaid, "incomplete_expired":
		return entitlementdb.StatusExpired
	default:
		return entitlementdb.StatusInactive
	}
}

// subscriptionUpdate builds the reconciler variant from an authoritative subscription.
func subscriptionUpdate(sub stripe.Subscription) (SubscriptionCreatedOrUpdated, error) {
	if sub.ID == "" {
		return SubscriptionCreatedOrUpdated{}, fmt.Errorf("%w: subscription ID not found", ErrBadEvent)
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return SubscriptionCreatedOrUpdated{}, fmt.Errorf("%w: customer ID not found in subscription %s", ErrBadEvent, sub.ID)
	}
	ev := SubscriptionCreatedOrUpdated{
		CustomerRef:     sub.Customer.ID,
		SubscriptionRef: sub.ID,
		Status:          MapSubscriptionStatus(sub.Status),
	}
	if sub.CurrentPeriodEnd > 0 {
		ev.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	return ev, nil
}
