package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these standard errors;
// business code branches with errors.Is instead of inspecting messages.
var (
	// Sync-fatal errors: any of these aborts the whole sync attempt.
	ErrUnsupportedBroker  = errors.New("unsupported broker")
	ErrNotFound           = errors.New("resource not found")
	ErrNoRefreshToken     = errors.New("no refresh token stored for connection")
	ErrTokenRefreshFailed = errors.New("broker rejected token refresh")
	ErrFetchFailed        = errors.New("broker trade fetch failed")

	// Record-scoped errors: the offending record is skipped, the batch continues.
	ErrValidation     = errors.New("trade failed validation")
	ErrDuplicateEntry = errors.New("record already exists")

	// Broker transport errors.
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("broker authentication failed (check credentials)")

	// Database errors.
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")

	// Configuration errors.
	ErrConfigurationError = errors.New("invalid or missing configuration")
)
