package errors

import (
	"errors"
	"fmt"
)

// Common error types for the console
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingStoreID     = errors.New("store admin account has no store id")
	ErrLoginFailed        = errors.New("login failed")
	ErrNotLoggedIn        = errors.New("not logged in")

	// Token errors
	ErrRefreshFailed     = errors.New("token refresh failed")
	ErrSignatureInvalid  = errors.New("token signature invalid")
	ErrMalformedToken    = errors.New("malformed token")
	ErrMissingTokenClaim = errors.New("token claim missing")

	// Backend errors
	ErrUnexpectedEnvelope = errors.New("unexpected response envelope")

	// Notification stream errors
	ErrStreamRejected = errors.New("notification stream rejected")

	// Storage errors
	ErrNotFound     = errors.New("not found")
	ErrCorruptStore = errors.New("corrupt session store")

	// General errors
	ErrInternal = errors.New("internal error")
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
