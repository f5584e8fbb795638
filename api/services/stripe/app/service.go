package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/webhook"
	"github.com/tbeaudouin05/snapcal-api/api/metrics"
	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
	stripedb "github.com/tbeaudouin05/snapcal-api/api/services/stripe/db"
	gw "github.com/tbeaudouin05/snapcal-api/api/services/stripe/gateway"
)

// Service defines the business operations for the Stripe domain.
type Service interface {
	// HandleBillingEvent verifies a raw webhook payload and reconciles it.
	// Nothing is mutated when the signature is invalid.
	HandleBillingEvent(ctx context.Context, payload []byte, signature string) error
	StartCheckout(ctx context.Context, userID, email string) (CheckoutResponse, error)
	CancelSubscription(ctx context.Context, userID string) error
}

// Deps are the collaborators of the Stripe service.
type Deps struct {
	Gateway       gw.StripeGateway
	Entitlements  entitlementdb.Repository
	Ledger        stripedb.Ledger
	Reconciler    *Reconciler
	WebhookSecret string
	Checkout      CheckoutConfig
}

type serviceImpl struct {
	gw            gw.StripeGateway
	repo          entitlementdb.Repository
	ledger        stripedb.Ledger
	reconciler    *Reconciler
	webhookSecret string
	checkout      CheckoutConfig
}

func NewService(d Deps) Service {
	return serviceImpl{
		gw:            d.Gateway,
		repo:          d.Entitlements,
		ledger:        d.Ledger,
		reconciler:    d.Reconciler,
		webhookSecret: d.WebhookSecret,
		checkout:      d.Checkout,
	}
}

func (s serviceImpl) HandleBillingEvent(ctx context.Context, payload []byte, signature string) error {
	start := time.Now()
	eventType := "unknown"
	outcome, err := s.handleBillingEvent(ctx, payload, signature, &eventType)
	metrics.WebhookRequestsTotal.WithLabelValues(eventType, outcome).Inc()
	metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	return err
}

func (s serviceImpl) handleBillingEvent(ctx context.Context, payload []byte, signature string, eventType *string) (string, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		slog.Warn("rejected stripe webhook", "error", err)
		return "invalid_signature", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	*eventType = event.Type

	ev, err := DecodeEvent(event)
	if err != nil {
		slog.Error("undecodable stripe event", "event_id", event.ID, "type", event.Type, "error", err)
		return "bad_event", err
	}
	if ev == nil {
		slog.Info("stripe webhook ignored (unhandled type)", "event_id", event.ID, "type", event.Type)
		return "ignored", nil
	}

	processed, err := s.ledger.Begin(ctx, event.ID, event.Type)
	if err != nil {
		return "error", fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if processed {
		slog.Info("stripe event already processed", "event_id", event.ID, "type", event.Type)
		return "duplicate", nil
	}

	if err := s.reconciler.Apply(ctx, ev); err != nil {
		slog.Error("stripe event processing failed", "event_id", event.ID, "type", event.Type, "error", err)
		if mErr := s.ledger.MarkFailed(context.WithoutCancel(ctx), event.ID, err.Error()); mErr != nil {
			slog.Error("failed to record billing event failure", "event_id", event.ID, "error", mErr)
		}
		return "error", err
	}
	if err := s.ledger.MarkProcessed(ctx, event.ID); err != nil {
		// The event is applied; a redelivery re-applies it harmlessly.
		slog.Error("failed to mark billing event processed", "event_id", event.ID, "error", err)
	}
	return "applied", nil
}

// StartCheckout makes sure the user has a Stripe customer and opens a
// subscription checkout session for it.
func (s serviceImpl) StartCheckout(ctx context.Context, userID, email string) (CheckoutResponse, error) {
	if s.checkout.PriceID == "" {
		return CheckoutResponse{}, ErrCheckoutNotConfigured
	}
	rec, err := s.repo.Get(ctx, userID)
	if errors.Is(err, entitlementdb.ErrNotFound) {
		return CheckoutResponse{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return CheckoutResponse{}, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	customerRef := ""
	if rec.BillingCustomerRef != nil {
		customerRef = *rec.BillingCustomerRef
	} else {
		cust, err := s.gw.CreateCustomer(ctx, email, userID)
		if err != nil {
			return CheckoutResponse{}, fmt.Errorf("%w: error creating customer: %v", ErrGateway, err)
		}
		// First write wins: a concurrent checkout may have linked another customer.
		customerRef, err = s.repo.LinkCustomer(ctx, userID, cust.ID)
		if err != nil {
			return CheckoutResponse{}, fmt.Errorf("%w: error linking customer: %v", ErrDatabase, err)
		}
		if customerRef != cust.ID {
			slog.Warn("discarding duplicate stripe customer", "user_id", userID, "customer_ref", cust.ID, "linked_customer_ref", customerRef)
		} else {
			slog.Info("linked stripe customer", "user_id", userID, "customer_ref", customerRef)
		}
	}

	sess, err := s.gw.CreateCheckoutSession(ctx, gw.CheckoutSessionRequest{
		CustomerID:        customerRef,
		ClientReferenceID: userID,
		PriceID:           s.checkout.PriceID,
		SuccessURL:        s.checkout.SuccessURL,
		CancelURL:         s.checkout.CancelURL,
	})
	if err != nil {
		return CheckoutResponse{}, fmt.Errorf("%w: error creating checkout session: %v", ErrGateway, err)
	}
	return CheckoutResponse{SessionID: sess.ID, CustomerRef: customerRef}, nil
}

// CancelSubscription asks Stripe to cancel the user's subscription. The local
// record changes only when the resulting webhook arrives.
func (s serviceImpl) CancelSubscription(ctx context.Context, userID string) error {
	rec, err := s.repo.Get(ctx, userID)
	if errors.Is(err, entitlementdb.ErrNotFound) {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if rec.BillingSubscriptionRef == nil || *rec.BillingSubscriptionRef == "" {
		return ErrNoSubscription
	}
	if err := s.gw.CancelSubscription(ctx, *rec.BillingSubscriptionRef); err != nil {
		return fmt.Errorf("%w: error canceling subscription: %v", ErrGateway, err)
	}
	slog.Info("subscription cancellation requested", "user_id", userID, "subscription_ref", *rec.BillingSubscriptionRef)
	return nil
}
