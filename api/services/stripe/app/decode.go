package app

import (
	"encoding/json"
	"fmt"

	stripe "github.com/stripe/stripe-go"
)

// DecodeEvent turns a verified Stripe event into a BillingEvent. It returns a
// nil event for types the reconciler does not handle.
func DecodeEvent(event stripe.Event) (BillingEvent, error) {
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", ErrBadEvent, event.ID)
	}
	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: error unmarshaling into Subscription: %v", ErrBadEvent, err)
		}
		return subscriptionUpdate(sub)

	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: error unmarshaling into Subscription: %v", ErrBadEvent, err)
		}
		if sub.Customer == nil || sub.Customer.ID == "" {
			return nil, fmt.Errorf("%w: customer ID not found in Subscription", ErrBadEvent)
		}
		return SubscriptionCanceled{CustomerRef: sub.Customer.ID, SubscriptionRef: sub.ID}, nil

	case EventPaymentSucceeded:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: error unmarshaling into Invoice: %v", ErrBadEvent, err)
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			// One-off invoices carry no subscription state.
			return nil, nil
		}
		return PaymentSucceeded{SubscriptionRef: inv.Subscription.ID}, nil

	case EventPaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: error unmarshaling into Invoice: %v", ErrBadEvent, err)
		}
		ev := PaymentFailed{}
		if inv.Customer != nil {
			ev.CustomerRef = inv.Customer.ID
		}
		if inv.Subscription != nil {
			ev.SubscriptionRef = inv.Subscription.ID
		}
		return ev, nil

	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: error unmarshaling into CheckoutSession: %v", ErrBadEvent, err)
		}
		if session.ClientReferenceID == "" {
			return nil, fmt.Errorf("%w: client reference ID not found in CheckoutSession", ErrBadEvent)
		}
		if session.Customer == nil || session.Customer.ID == "" {
			return nil, fmt.Errorf("%w: customer ID not found in CheckoutSession", ErrBadEvent)
		}
		ev := CheckoutCompleted{UserID: session.ClientReferenceID, CustomerRef: session.Customer.ID}
		if session.Subscription != nil {
			ev.SubscriptionRef = session.Subscription.ID
		}
		return ev, nil
	}
	return nil, nil
}
