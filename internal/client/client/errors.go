package client

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrorKind classifies a TransportError.
type ErrorKind int

const (
	// KindNetwork is a failure to reach the service.
	KindNetwork ErrorKind = iota
	// KindRemote is an error answered by the service.
	KindRemote
	// KindUnauthorized means the credentials were rejected.
	KindUnauthorized
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRemote:
		return "remote"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TransportError is the typed failure of a transport operation.
type TransportError struct {
	Kind ErrorKind
	// Op is the operation name, e.g. "listConversationIds".
	Op string
	// Retryable is set when repeating the call may succeed: always for
	// network failures and, after a credential refresh, for unauthorized
	// ones.
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transport %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transport %s error in %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap exposes the matching sentinel and the cause.
func (e *TransportError) Unwrap() []error {
	switch e.Kind {
	case KindUnauthorized:
		return []error{ErrUnauthorized, e.Err}
	case KindNetwork:
		return []error{ErrUnavailable, e.Err}
	default:
		return []error{e.Err}
	}
}

// IsUnauthorized reports whether err is an unauthorized TransportError.
func IsUnauthorized(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindUnauthorized
}

// IsRetryable reports whether err is a TransportError worth retrying.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}
