package stripegw

import (
	"context"

	stripe "github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/checkout/session"
	"github.com/stripe/stripe-go/customer"
	"github.com/stripe/stripe-go/sub"

	gw "github.com/tbeaudouin05/snapcal-api/api/services/stripe/gateway"
)

// SetKey configures the Stripe SDK key once during bootstrap.
func SetKey(key string) { stripe.Key = key }

// client is the Stripe SDK-backed implementation of the gateway.
type client struct{}

// New returns a StripeGateway backed by the official Stripe SDK.
func New() gw.StripeGateway { return client{} }

func (client) GetSubscription(ctx context.Context, id string) (stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	subPtr, err := sub.Get(id, params)
	if err != nil {
		return stripe.Subscription{}, err
	}
	if subPtr == nil {
		return stripe.Subscription{}, nil
	}
	return *subPtr, nil
}

func (client) CancelSubscription(ctx context.Context, id string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	_, err := sub.Cancel(id, params)
	return err
}

func (client) GetCustomer(ctx context.Context, id string) (stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	custPtr, err := customer.Get(id, params)
	if err != nil {
		return stripe.Customer{}, err
	}
	if custPtr == nil {
		return stripe.Customer{}, nil
	}
	return *custPtr, nil
}

func (client) CreateCustomer(ctx context.Context, email, userID string) (stripe.Customer, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	custPtr, err := customer.New(params)
	if err != nil {
		return stripe.Customer{}, err
	}
	return *custPtr, nil
}

func (client) CreateCheckoutSession(ctx context.Context, req gw.CheckoutSessionRequest) (stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(req.CustomerID),
		ClientReferenceID:  stripe.String(req.ClientReferenceID),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Items: []*stripe.CheckoutSessionSubscriptionDataItemsParams{
				{Plan: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
			},
		},
	}
	params.Context = ctx
	sessPtr, err := session.New(params)
	if err != nil {
		return stripe.CheckoutSession{}, err
	}
	return *sessPtr, nil
}
