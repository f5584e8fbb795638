package app

import "errors"

// Typed errors for the Stripe app layer. These enable HTTP mapping without
// relying on SDK-specific error types at the transport layer.
var (
	// ErrBadEvent indicates the incoming event payload is invalid or missing required fields.
	ErrBadEvent = errors.New("bad event")
	// ErrInvalidSignature indicates the webhook payload failed Stripe signature verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrDatabase indicates a database-related failure.
	ErrDatabase = errors.New("database error")
	// ErrStorageConflict indicates concurrent writers kept winning after local retries.
	ErrStorageConflict = errors.New("storage conflict")
	// ErrGateway indicates a failure from the Stripe gateway / API calls.
	ErrGateway = errors.New("gateway error")
	// ErrUpstreamUnavailable indicates the subscription re-fetch failed or timed out;
	// the event is left for redelivery.
	ErrUpstreamUnavailable = errors.New("billing upstream unavailable")
	// ErrNotFound indicates the user has no entitlement record.
	ErrNotFound = errors.New("entitlement not found")
	// ErrNoSubscription indicates the user has no Stripe subscription to act on.
	ErrNoSubscription = errors.New("no subscription")
	// ErrCheckoutNotConfigured indicates no price is configured for checkout sessions.
	ErrCheckoutNotConfigured = errors.New("checkout not configured")
)
