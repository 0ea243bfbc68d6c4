package ratelimiter

import "errors"

// Package-level error definitions for rate limiter operations.
// A denied request is never reported as an error; these cover invalid
// input and storage failures only.
var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidTokenCount = errors.New("invalid token count")
	ErrEmptyOwnerID      = errors.New("empty owner id")
	ErrRecordNotFound    = errors.New("bucket record not found")
	ErrRecordConflict    = errors.New("bucket record conflict")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

func isNotFound(err error) bool { return errors.Is(err, ErrRecordNotFound) }

func isConflict(err error) bool { return errors.Is(err, ErrRecordConflict) }
