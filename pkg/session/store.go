package session

import (
	"context"
)

// Store abstracts durable, per-session persistence of credential material and
// derived handshake artifacts. All operations are keyed by session id and
// scoped to that id's storage location; there is no cross-id visibility.
//
// Reads of a missing id report absence through the ok result, never through an
// error. Writes must be durable before the call returns so that a process
// crash between handshake completion and the next read cannot silently lose a
// credential.
//
// Implementations must be safe for concurrent use, but a given id's storage
// location must not be written by two processes: single writer per id.
type Store interface {
	// Get retrieves the credential bundle for a session id.
	Get(ctx context.Context, id string) (bundle []byte, ok bool, err error)

	// Put stores the credential bundle for a session id, replacing any
	// previous bundle. Last write wins.
	Put(ctx context.Context, id string, bundle []byte) error

	// PutArtifact stores a handshake artifact, replacing any previous
	// artifact of the same kind.
	PutArtifact(ctx context.Context, id string, artifact Artifact) error

	// GetArtifact retrieves the artifact of the given kind, if present.
	GetArtifact(ctx context.Context, id string, kind ArtifactKind) (artifact Artifact, ok bool, err error)

	// ClearArtifact removes the artifact of the given kind. Clearing an
	// absent artifact is a no-op.
	ClearArtifact(ctx context.Context, id string, kind ArtifactKind) error

	// Delete removes the session's entire storage location: credential
	// bundle and all artifacts.
	Delete(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}
