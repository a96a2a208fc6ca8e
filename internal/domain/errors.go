package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrProviderFailure = errors.New("provider failure")
	ErrStatusConflict  = errors.New("status transition conflict")
	ErrMarkerHeld      = errors.New("in-flight marker held")
)

// Stable wire-level error codes shared by handlers and the executor.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeAlreadyTerminal     = "already_terminal"
	CodeProviderError       = "provider_error"
	CodeRateLimited         = "rate_limited"
	CodeInternalError       = "internal_error"
	CodeBaseVersionNotReady = "base_version_not_ready"
)
