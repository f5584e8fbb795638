package app

import (
	"time"

	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
)

const day = 24 * time.Hour

// Evaluate decides whether rec grants access at now. The trial window takes
// precedence over any subscription state. It has no side effects and must be
// called on every check, since time moves independently of writes.
func Evaluate(rec entitlementdb.Record, now time.Time) Evaluation {
	if rec.TrialEndsAt != nil && now.Before(*rec.TrialEndsAt) {
		return Evaluation{
			Entitled:      true,
			Status:        AccessTrial,
			DaysRemaining: daysUntil(now, *rec.TrialEndsAt),
			Reason:        ReasonTrial,
		}
	}

	// A canceled subscription is not renewed but stays paid until its period end.
	paid := rec.SubscriptionStatus == entitlementdb.StatusActive ||
		rec.SubscriptionStatus == entitlementdb.StatusCanceled
	if paid && rec.SubscriptionEndsAt != nil && now.Before(*rec.SubscriptionEndsAt) {
		reason := ReasonSubscription
		if rec.SubscriptionStatus == entitlementdb.StatusCanceled {
			reason = ReasonCanceledUntilEnd
		}
		return Evaluation{
			Entitled:      true,
			Status:        AccessActive,
			DaysRemaining: daysUntil(now, *rec.SubscriptionEndsAt),
			Reason:        reason,
		}
	}

	reason := ReasonNoEntitlement
	if rec.SubscriptionEndsAt != nil {
		reason = ReasonSubscriptionEnded
	}
	return Evaluation{Entitled: false, Status: AccessExpired, DaysRemaining: 0, Reason: reason}
}

// daysUntil rounds the remaining time up to whole days.
func daysUntil(now, end time.Time) int {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + day - 1) / day)
}
