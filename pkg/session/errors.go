package session

import (
	"errors"
	"fmt"
)

// Common errors for session operations.
var (
	// ErrNotFound is returned when a session id or handshake artifact is
	// unknown. Absence is a normal negative result, not a failure.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyAuthenticated is returned when a handshake operation is
	// attempted on a session that no longer needs one.
	ErrAlreadyAuthenticated = errors.New("session already authenticated")
	// ErrStoreClosed is returned when operating on a closed credential store.
	ErrStoreClosed = errors.New("credential store is closed")
)

// TransportError wraps an adapter connect or communicate failure. The session
// remains destroyable and retryable; nothing here is fatal to the process.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError wraps a credential store failure. Store failures must be
// surfaced, never swallowed: silent loss would leave a session unrecoverable
// after a restart.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
