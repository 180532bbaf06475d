// Package apperr holds the error kinds shared by the chat core. Stores and
// services wrap these with fmt.Errorf("%w") so callers can branch with
// errors.Is at the HTTP and socket boundaries.
package apperr

import "errors"

var (
	// ErrNotFound means the referenced chat, message or user is absent, or
	// is not visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means an authorization rule was violated.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation means a required field is missing or malformed.
	ErrValidation = errors.New("validation failed")

	// ErrDecryption is absorbed by the view layer and never reaches a client.
	ErrDecryption = errors.New("decryption failed")

	// ErrPersistence wraps storage errors.
	ErrPersistence = errors.New("persistence failed")
)
