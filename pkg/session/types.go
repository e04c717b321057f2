// Package session manages authenticated connection sessions to the remote
// messaging service. Each session is identified by a caller-supplied opaque id
// and moves from an unauthenticated state to an authenticated, persistent state
// through one of two handshake paths: scanning a visual code or entering a
// numeric pairing code tied to a phone number.
package session

import (
	"time"
)

// State is the lifecycle state of a session.
type State string

const (
	// StateIdle means no adapter connection has been requested yet.
	StateIdle State = "idle"
	// StateConnecting means an adapter connection was requested and no
	// handshake artifact has been issued yet.
	StateConnecting State = "connecting"
	// StateAwaitingCredential means a visual code or pairing code has been
	// issued and is pending owner action.
	StateAwaitingCredential State = "awaiting_credential"
	// StateAuthenticated means the adapter reported the connection open.
	StateAuthenticated State = "authenticated"
	// StateClosed means the adapter reported close or a fatal error. The
	// record is removed from the registry once finalized.
	StateClosed State = "closed"
)

// Record is the registry's view of one live session.
// It is mutated only by the session's own state machine.
type Record struct {
	// ID is the caller-supplied session identifier.
	ID string `json:"id"`
	// State is the current lifecycle state.
	State State `json:"state"`
	// CreatedAt is when the in-memory record was created.
	CreatedAt time.Time `json:"createdAt"`
	// LastEventAt is when the session last observed an adapter event or
	// control call.
	LastEventAt time.Time `json:"lastEventAt"`
}

// VisualCode is the short-lived payload the owning device scans to
// authenticate without typing anything. It is invalidated the moment the
// session reaches the authenticated state.
type VisualCode struct {
	// Payload is the opaque scannable content.
	Payload string `json:"payload"`
	// IssuedAt is when the adapter issued the code.
	IssuedAt time.Time `json:"issuedAt"`
}

// PairingCode is the short numeric code the owner manually enters on their
// device to authenticate a session tied to a phone number. It is retained
// until superseded or the session is destroyed; ExpiresInSeconds is advisory
// metadata and nothing in this package actively invalidates an expired code.
type PairingCode struct {
	// Code is the code the owner types on the device.
	Code string `json:"code"`
	// ExpiresInSeconds is the remote service's advisory validity window.
	ExpiresInSeconds int `json:"expiresInSeconds"`
	// Method is the delivery method reported by the remote service.
	Method string `json:"method,omitempty"`
	// IssuedAt is when the adapter issued the code.
	IssuedAt time.Time `json:"issuedAt"`
}

// ArtifactKind discriminates the two handshake artifact variants.
type ArtifactKind string

const (
	// ArtifactVisualCode selects the visual-code artifact slot.
	ArtifactVisualCode ArtifactKind = "visual"
	// ArtifactPairingCode selects the pairing-code artifact slot.
	ArtifactPairingCode ArtifactKind = "pairing"
)

// Artifact is a persisted in-progress authentication attempt: either a visual
// code or a pairing code. At most one artifact of each kind is retained per
// session at a time.
type Artifact struct {
	Kind    ArtifactKind `json:"kind"`
	Visual  *VisualCode  `json:"visual,omitempty"`
	Pairing *PairingCode `json:"pairing,omitempty"`
}

// Status is the read-only health summary exposed by the control surface.
type Status struct {
	// InMemory reports whether the registry currently holds a live record
	// for the id.
	InMemory bool `json:"inMemory"`
	// HasCredential reports whether a credential bundle is persisted for
	// the id. It does not imply the live connection is currently open.
	HasCredential bool `json:"hasCredential"`
}

// CredentialExport is a persisted credential bundle in both raw and
// base64-encoded forms.
type CredentialExport struct {
	Raw    []byte `json:"-"`
	Base64 string `json:"credential"`
}
