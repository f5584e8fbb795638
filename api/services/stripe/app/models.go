package app

import (
	"time"

	entitlementdb "github.com/tbeaudouin05/snapcal-api/api/services/entitlement/db"
)

// Stripe event types the reconciler understands.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
)

// BillingEvent is one of the verified billing event variants below.
type BillingEvent interface {
	variant() string
}

// SubscriptionCreatedOrUpdated carries the full subscription state.
// PeriodEnd is zero when Stripe did not send one.
type SubscriptionCreatedOrUpdated struct {
	CustomerRef     string
	SubscriptionRef string
	Status          entitlementdb.Status
	PeriodEnd       time.Time
}

// SubscriptionCanceled means the subscription will not renew. SubscriptionRef
// is optional.
type SubscriptionCanceled struct {
	CustomerRef     string
	SubscriptionRef string
}

// PaymentSucceeded only names the subscription; its state is re-fetched.
type PaymentSucceeded struct {
	SubscriptionRef string
}

type PaymentFailed struct {
	CustomerRef     string
	SubscriptionRef string
}

// CheckoutCompleted links the Stripe customer created during checkout to our user.
type CheckoutCompleted struct {
	UserID          string
	CustomerRef     string
	SubscriptionRef string
}

func (SubscriptionCreatedOrUpdated) variant() string { return "subscription_updated" }
func (SubscriptionCanceled) variant() string         { return "subscription_canceled" }
func (PaymentSucceeded) variant() string             { return "payment_succeeded" }
func (PaymentFailed) variant() string                { return "payment_failed" }
func (CheckoutCompleted) variant() string            { return "checkout_completed" }

// CheckoutResponse is returned to the client to redirect into Stripe Checkout.
type CheckoutResponse struct {
	SessionID   string `json:"sessionId"`
	CustomerRef string `json:"customerRef"`
}

// CheckoutConfig holds the checkout session settings.
type CheckoutConfig struct {
	PriceID    string
	SuccessURL string
	CancelURL  string
}
