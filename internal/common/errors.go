// Package common defines shared constants and sentinel errors used across
// the chatkeeper client core. Callers should use errors.Is to match these
// values; concrete failures are wrapped with fmt.Errorf("...: %w", ...).
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Auth errors.
	ErrorUnauthorized        = errors.New("unauthorized")
	ErrInvalidToken          = errors.New("invalid token")
	ErrLocalDataNotAvailable = errors.New("local data unavailable")
	ErrAlreadyInitialized    = errors.New("already initialized")

	// ErrDecryptionFailure reports that a key unwrap or a content decrypt
	// failed. Key recovery treats it as fatal for the whole pipeline, message
	// reads skip the affected item.
	ErrDecryptionFailure = errors.New("decryption failure")

	// ErrPrecondition reports an operation invoked before its required state
	// exists (no storage, no authenticated account, no personal key pair).
	ErrPrecondition = errors.New("precondition failed")

	// ErrProtocol reports a pairing step invoked out of order, an unexpected
	// status value or a poll that ran out of time.
	ErrProtocol = errors.New("protocol error")
)
