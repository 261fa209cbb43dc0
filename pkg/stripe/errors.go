package stripe

import "errors"

var (
	// ErrNotConfigured is returned when the processor is missing a required collaborator
	ErrNotConfigured = errors.New("stripe processor not configured")

	// ErrMissingSignature is returned when the Stripe-Signature header is absent
	ErrMissingSignature = errors.New("missing signature header")

	// ErrInvalidSignature is returned when the payload fails signature verification
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUserNotResolved is returned when no user id can be found for an event
	ErrUserNotResolved = errors.New("could not resolve user for event")
)
