// Package errdefs holds the error kinds shared by the registry, the
// configuration layer and the HTTP surface. Callers wrap these sentinels
// with %w and classify with errors.Is.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks malformed properties or an unreachable store or
	// storage root during load/reconfigure.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound is returned for an unknown, expired or half-evicted result set id.
	ErrNotFound = errors.New("expired or invalid result set id")

	// ErrStore wraps backing-store and filesystem failures on the request path.
	ErrStore = errors.New("store unavailable")

	// ErrEviction wraps sweep failures. It is logged and never handed to request callers.
	ErrEviction = errors.New("eviction failed")

	// ErrInvalid marks caller input that cannot be captured or replayed.
	ErrInvalid = errors.New("invalid request")

	// ErrNotConfigured is returned when the registry is used before Load.
	ErrNotConfigured = errors.New("registry not configured")
)

// Configuration wraps err as a configuration error with a message.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// ConfigurationErr wraps err as a configuration failure of op.
func ConfigurationErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrConfiguration, op, err)
}

// Store wraps err as a transient store error.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

// NotFound builds a lookup failure for id.
func NotFound(id string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, id)
}

// IsNotFound reports whether err is a lookup failure.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConfiguration reports whether err is a configuration failure.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsStore reports whether err is a transient store failure.
func IsStore(err error) bool { return errors.Is(err, ErrStore) }
