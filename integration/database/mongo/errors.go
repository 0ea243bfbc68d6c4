package mongo

import "errors"

// Domain-specific MongoDB errors for consistent error handling.
// Use errors.Is() to check error types for retry logic and user-facing messages.
var (
	ErrEmptyConnectionURL = errors.New("empty mongo connection URL")
	ErrMongoNotReady      = errors.New("mongo did not become ready within the given time period")
	ErrHealthcheckFailed  = errors.New("mongo healthcheck failed")
)
