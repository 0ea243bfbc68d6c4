// Package logger provides slog attribute helpers shared across the module.
//
// Helpers use the empty Attr pattern for nil safety, so calls like
// log.Info("msg", logger.Error(err)) need no explicit nil checks.
package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// Returns empty Attr for nil errors, enabling safe usage without nil checks.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component tags log records with the emitting component name.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elapsed calculates and logs the duration since the start time.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}

// OwnerID tags log records with the rate-limited principal.
func OwnerID(id string) slog.Attr {
	return slog.String("owner_id", id)
}
