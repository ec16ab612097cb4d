// Package storage persists small string values (tokens, cookies) for the client.
package storage

import (
	apperrors "github.com/jrsteele09/go-habit-client/internal/errors"
)

// Well-known keys used by the client.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyCookies      = "cookies"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = apperrors.ErrNotFound

// Storage is a key/value backend for credentials.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}
