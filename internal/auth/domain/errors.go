package domain

import "errors"

var (
	// ErrInvalidToken covers every client-input token rejection. The
	// specific reason travels in the ValidationResult.
	ErrInvalidToken = errors.New("invalid_token")

	// ErrRefreshReuse is a security incident, not a plain rejection: by
	// the time a caller sees it, the whole rotation chain has already
	// been revoked.
	ErrRefreshReuse = errors.New("refresh_reuse_detected")

	// ErrStateNotFound covers never-issued, already-consumed, and expired
	// OAuth state alike. Deliberately undifferentiated.
	ErrStateNotFound = errors.New("invalid_or_expired_state")

	// ErrExchangeFailed is returned when the provider token exchange
	// exhausted its retries.
	ErrExchangeFailed = errors.New("provider_exchange_failed")

	// ErrServiceUnavailable signals a store or signing failure. Never
	// retried inside the core; masking a store outage during validation
	// would silently disable replay and revocation enforcement.
	ErrServiceUnavailable = errors.New("service_unavailable")
)
