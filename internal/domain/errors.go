package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned for invalid or mismatched configuration,
	// such as querying with a different embedding model than ingestion used.
	// Not retryable.
	ErrConfiguration = errors.New("configuration error")
	// ErrProvider is returned when an external provider call fails after
	// retries are exhausted.
	ErrProvider = errors.New("provider error")
	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConsistency is returned when a write would violate referential
	// integrity or a transaction could not complete atomically.
	ErrConsistency = errors.New("consistency error")
)

// ConfigurationErrorf wraps ErrConfiguration with a formatted message.
func ConfigurationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// ProviderErrorf wraps ErrProvider with a formatted message and cause.
func ProviderErrorf(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrProvider, fmt.Sprintf(format, args...), err)
}
