package gateway

//go:generate mockgen -source=gateway.go -destination=mock/gateway_mock.go -package=mock

import (
	"context"

	stripe "github.com/stripe/stripe-go"
)

// StripeGateway abstracts Stripe SDK operations needed by the app layer.
// Methods return values (not pointers) to keep SDK pointers out of the domain.
type StripeGateway interface {
	GetSubscription(ctx context.Context, id string) (stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string) error
	GetCustomer(ctx context.Context, id string) (stripe.Customer, error)
	CreateCustomer(ctx context.Context, email, userID string) (stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (stripe.CheckoutSession, error)
}

// CheckoutSessionRequest describes a subscription checkout for one customer.
type CheckoutSessionRequest struct {
	CustomerID string
	// ClientReferenceID carries our user id back on checkout.session.completed.
	ClientReferenceID string
	PriceID           string
	SuccessURL        string
	CancelURL         string
}
