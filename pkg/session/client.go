package session

import (
	"context"
)

// EventKind identifies an adapter lifecycle event.
type EventKind string

const (
	// EventCredentialUpdated carries refreshed credential material. It may
	// arrive any number of times throughout a connection's life, not just
	// once at authentication.
	EventCredentialUpdated EventKind = "credential_updated"
	// EventVisualCodeIssued carries a freshly issued visual-code payload.
	EventVisualCodeIssued EventKind = "visual_code_issued"
	// EventOpened reports the connection is open and authenticated. It
	// fires at most once per handle.
	EventOpened EventKind = "opened"
	// EventClosed reports the connection is gone. It is terminal: no
	// further events follow it for that handle.
	EventClosed EventKind = "closed"
)

// Event is one entry in a handle's ordered, single-consumer event stream.
type Event struct {
	Kind EventKind
	// Credential is set for EventCredentialUpdated.
	Credential []byte
	// VisualCode is set for EventVisualCodeIssued.
	VisualCode string
	// Reason is set for EventClosed.
	Reason string
}

// Handle is one live connection to the remote messaging service.
type Handle interface {
	// Events returns the handle's event stream. The channel is closed
	// after the terminal EventClosed is delivered.
	Events() <-chan Event

	// RequestPairingCode asks the remote service to issue a numeric
	// pairing code for the given phone number. Returns
	// ErrAlreadyAuthenticated when the service reports the credential is
	// already registered.
	RequestPairingCode(ctx context.Context, phoneNumber string) (PairingCode, error)

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Client wraps the external messaging-protocol connection primitive.
// credential carries previously persisted material to re-establish an
// authenticated connection without repeating the handshake; nil means no
// stored credential and the remote service will begin a fresh handshake.
type Client interface {
	Connect(ctx context.Context, id string, credential []byte) (Handle, error)
}
