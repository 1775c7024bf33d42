package errors

import (
	"errors"
	"fmt"
)

// Common error types for the auth client
var (
	// Storage errors
	ErrEmptyKey       = errors.New("empty storage key")
	ErrCorruptSession = errors.New("persisted session is corrupt")
	ErrDecryptFailed  = errors.New("failed to decrypt credential file")

	// Provider errors
	ErrProviderUnavailable = errors.New("auth provider unavailable")
	ErrMissingIssuer       = errors.New("issuer URL is required")
	ErrMissingClientID     = errors.New("client ID is required")

	// Event errors
	ErrUnknownEvent = errors.New("unknown event")

	// General errors
	ErrNotFound = errors.New("not found")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
