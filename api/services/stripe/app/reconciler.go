package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tbeaudouin05/snapcal-api/api/database"
	"github.com/tbeaudouin05/snapcal-api/api/metrics"
	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
	gw "github.com/tbeaudouin05/snapcal-api/api/services/stripe/gateway"
)

const (
	outcomeApplied         = "applied"
	outcomeUnchanged       = "unchanged"
	outcomeUnknownCustomer = "unknown_customer"
	outcomeStale           = "stale"
	outcomeFailed          = "failed"
	outcomeObserved        = "observed"
)

// ReconcilerOptions tunes the Reconciler.
type ReconcilerOptions struct {
	// RefetchTimeout bounds the subscription re-fetch on payment events.
	RefetchTimeout time.Duration
	// DiscardStale drops an update for the stored subscription whose period end
	// is strictly older than the stored one.
	DiscardStale bool
}

// Reconciler applies billing events to entitlement records. Every write is an
// absolute assignment, so applying an event twice leaves the same record as
// applying it once.
type Reconciler struct {
	repo entitlementdb.Repository
	gw   gw.StripeGateway
	opts ReconcilerOptions
}

func NewReconciler(repo entitlementdb.Repository, g gw.StripeGateway, opts ReconcilerOptions) *Reconciler {
	return &Reconciler{repo: repo, gw: g, opts: opts}
}

// Apply reconciles one event. Events for customers without a local record are
// logged and skipped.
func (r *Reconciler) Apply(ctx context.Context, ev BillingEvent) error {
	var err error
	switch e := ev.(type) {
	case SubscriptionCreatedOrUpdated:
		err = r.applySubscription(ctx, e)
	case SubscriptionCanceled:
		err = r.applyCanceled(ctx, e)
	case PaymentSucceeded:
		err = r.applyPaymentSucceeded(ctx, e)
	case PaymentFailed:
		slog.Warn("invoice payment failed", "customer_ref", e.CustomerRef, "subscription_ref", e.SubscriptionRef)
		metrics.PaymentFailuresTotal.Inc()
		r.observe(e, outcomeObserved)
	case CheckoutCompleted:
		err = r.applyCheckoutCompleted(ctx, e)
	default:
		return fmt.Errorf("%w: unsupported billing event %T", ErrBadEvent, ev)
	}
	if err != nil {
		r.observe(ev, outcomeFailed)
	}
	return err
}

func (r *Reconciler) applySubscription(ctx context.Context, e SubscriptionCreatedOrUpdated) error {
	if e.CustomerRef == "" || e.SubscriptionRef == "" {
		return fmt.Errorf("%w: subscription update without customer or subscription", ErrBadEvent)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrBadEvent, e.Status)
	}
	if e.Status == entitlementdb.StatusActive && e.PeriodEnd.IsZero() {
		return fmt.Errorf("%w: active subscription %s without period end", ErrBadEvent, e.SubscriptionRef)
	}

	outcome := outcomeUnchanged
	_, err := r.repo.UpdateByCustomerRef(ctx, e.CustomerRef, func(rec *entitlementdb.Record) (bool, error) {
		if r.isStale(rec, e) {
			outcome = outcomeStale
			return false, nil
		}
		changed := false
		if rec.SubscriptionStatus != e.Status {
			rec.SubscriptionStatus = e.Status
			changed = true
		}
		if !e.PeriodEnd.IsZero() && (rec.SubscriptionEndsAt == nil || !rec.SubscriptionEndsAt.Equal(e.PeriodEnd)) {
			end := e.PeriodEnd.UTC()
			rec.SubscriptionEndsAt = &end
			changed = true
		}
		if rec.BillingSubscriptionRef == nil || *rec.BillingSubscriptionRef != e.SubscriptionRef {
			ref := e.SubscriptionRef
			rec.BillingSubscriptionRef = &ref
			changed = true
		}
		if changed {
			outcome = outcomeApplied
		}
		return changed, nil
	})
	if err != nil {
		return r.storageError(e, e.CustomerRef, err)
	}

	r.observe(e, outcome)
	switch outcome {
	case outcomeStale:
		slog.Info("discarded stale subscription update",
			"customer_ref", e.CustomerRef, "subscription_ref", e.SubscriptionRef, "period_end", e.PeriodEnd)
	case outcomeApplied:
		slog.Info("subscription reconciled",
			"customer_ref", e.CustomerRef, "subscription_ref", e.SubscriptionRef,
			"status", string(e.Status), "period_end", e.PeriodEnd)
	}
	return nil
}

// isStale reports whether e is an older view of the subscription already stored.
func (r *Reconciler) isStale(rec *entitlementdb.Record, e SubscriptionCreatedOrUpdated) bool {
	if !r.opts.DiscardStale || e.PeriodEnd.IsZero() || rec.SubscriptionEndsAt == nil {
		return false
	}
	if rec.BillingSubscriptionRef == nil || *rec.BillingSubscriptionRef != e.SubscriptionRef {
		return false
	}
	return e.PeriodEnd.Before(*rec.SubscriptionEndsAt)
}

func (r *Reconciler) applyCanceled(ctx context.Context, e SubscriptionCanceled) error {
	if e.CustomerRef == "" {
		return fmt.Errorf("%w: cancellation without customer", ErrBadEvent)
	}
	outcome := outcomeUnchanged
	_, err := r.repo.UpdateByCustomerRef(ctx, e.CustomerRef, func(rec *entitlementdb.Record) (bool, error) {
		// A late cancellation of a replaced subscription must not cancel the new one.
		if e.SubscriptionRef != "" && rec.BillingSubscriptionRef != nil && *rec.BillingSubscriptionRef != e.SubscriptionRef {
			outcome = outcomeStale
			return false, nil
		}
		if rec.SubscriptionStatus == entitlementdb.StatusCanceled {
			return false, nil
		}
		// subscriptionEndsAt stays: access continues until the paid period ends.
		rec.SubscriptionStatus = entitlementdb.StatusCanceled
		outcome = outcomeApplied
		return true, nil
	})
	if err != nil {
		return r.storageError(e, e.CustomerRef, err)
	}
	r.observe(e, outcome)
	switch outcome {
	case outcomeApplied:
		slog.Info("subscription canceled", "customer_ref", e.CustomerRef, "subscription_ref", e.SubscriptionRef)
	case outcomeStale:
		slog.Info("ignored cancellation of replaced subscription", "customer_ref", e.CustomerRef, "subscription_ref", e.SubscriptionRef)
	}
	return nil
}

func (r *Reconciler) applyPaymentSucceeded(ctx context.Context, e PaymentSucceeded) error {
	if e.SubscriptionRef == "" {
		return fmt.Errorf("%w: payment without subscription", ErrBadEvent)
	}
	update, err := r.refetch(ctx, e.SubscriptionRef)
	if err != nil {
		return err
	}
	return r.applySubscription(ctx, update)
}

func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, e CheckoutCompleted) error {
	if e.UserID == "" || e.CustomerRef == "" {
		return fmt.Errorf("%w: checkout without user or customer", ErrBadEvent)
	}
	linked, err := r.repo.LinkCustomer(ctx, e.UserID, e.CustomerRef)
	switch {
	case errors.Is(err, entitlementdb.ErrNotFound):
		slog.Warn("checkout completed for unknown user", "user_id", e.UserID, "customer_ref", e.CustomerRef)
		r.observe(e, outcomeUnknownCustomer)
		return nil
	case errors.Is(err, entitlementdb.ErrCustomerAlreadyLinked):
		slog.Error("stripe customer already linked to another user", "user_id", e.UserID, "customer_ref", e.CustomerRef)
		r.observe(e, outcomeStale)
		return nil
	case err != nil:
		return fmt.Errorf("%w: link customer: %v", ErrDatabase, err)
	}
	if linked != e.CustomerRef {
		slog.Warn("user already linked to a different stripe customer",
			"user_id", e.UserID, "linked_customer_ref", linked, "customer_ref", e.CustomerRef)
		r.observe(e, outcomeStale)
		return nil
	}
	r.observe(e, outcomeApplied)
	if e.SubscriptionRef == "" {
		return nil
	}

	// The subscription events may have arrived before the link; catch up now.
	update, err := r.refetch(ctx, e.SubscriptionRef)
	if err != nil {
		return err
	}
	return r.applySubscription(ctx, update)
}

// refetch loads the authoritative subscription state, bounded by RefetchTimeout.
func (r *Reconciler) refetch(ctx context.Context, subscriptionRef string) (SubscriptionCreatedOrUpdated, error) {
	if r.opts.RefetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RefetchTimeout)
		defer cancel()
	}
	sub, err := r.gw.GetSubscription(ctx, subscriptionRef)
	if err != nil {
		slog.Error("subscription re-fetch failed", "subscription_ref", subscriptionRef, "error", err)
		return SubscriptionCreatedOrUpdated{}, fmt.Errorf("%w: re-fetch subscription %s: %v", ErrUpstreamUnavailable, subscriptionRef, err)
	}
	if sub.ID == "" {
		sub.ID = subscriptionRef
	}
	return subscriptionUpdate(sub)
}

func (r *Reconciler) storageError(ev BillingEvent, customerRef string, err error) error {
	switch {
	case errors.Is(err, entitlementdb.ErrNotFound):
		slog.Warn("billing event for unknown customer skipped", "variant", ev.variant(), "customer_ref", customerRef)
		r.observe(ev, outcomeUnknownCustomer)
		return nil
	case errors.Is(err, database.ErrConflict):
		return fmt.Errorf("%w: customer %s: %v", ErrStorageConflict, customerRef, err)
	default:
		return fmt.Errorf("%w: customer %s: %v", ErrDatabase, customerRef, err)
	}
}

func (r *Reconciler) observe(ev BillingEvent, outcome string) {
	metrics.ReconcileOutcomes.WithLabelValues(ev.variant(), outcome).Inc()
}
