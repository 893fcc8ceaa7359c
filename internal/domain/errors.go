package domain

import "errors"

// Error kinds surfaced by the gateway. Components wrap them with %w.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrDeliveryFailure    = errors.New("delivery failure")
	ErrSessionClosed      = errors.New("session closed")
)
