package errors

import (
	"errors"
	"fmt"
)

// Common error types for the habit API client
var (
	// Session errors
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrSessionExpired = errors.New("session expired")
	ErrUnauthorized   = errors.New("unauthorized")

	// Token errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrNotJWT              = errors.New("token is not a jwt")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// Login errors
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidNonce        = errors.New("invalid nonce")

	// Storage errors
	ErrNotFound = errors.New("not found")
	ErrCorrupt  = errors.New("storage corrupt")

	// General errors
	ErrInvalidRequest = errors.New("invalid request")
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

// Join returns an error that wraps the given errors
func Join(errs ...error) error {
	return errors.Join(errs...)
}
