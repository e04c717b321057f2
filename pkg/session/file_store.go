package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidSessionID is returned when a session id cannot be used as a path
// component.
var ErrInvalidSessionID = errors.New("invalid session id")

// validateSessionID checks that an id is safe to use as a path component.
// It rejects empty strings, path separators, and traversal sequences.
func validateSessionID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return ErrInvalidSessionID
	}
	return nil
}

// FileStore implements Store using one directory per session id.
// Storage layout:
//
//	<baseDir>/
//	  └── <session-id>/
//	      ├── credentials.json
//	      ├── visual.json
//	      └── pairing.json
//
// Every write goes through a temp file, fsync, and atomic rename, followed by
// a directory sync, so completed writes survive a process crash.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileStore creates a file-backed credential store rooted at baseDir.
// If baseDir is empty, uses ~/.linkwire/sessions.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".linkwire", "sessions")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileStore{
		baseDir: baseDir,
	}, nil
}

// Get retrieves the credential bundle for a session id.
func (f *FileStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, false, ErrStoreClosed
	}
	if err := validateSessionID(id); err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(f.credentialPath(id)) // #nosec G304 - id validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read credentials: %w", err)
	}

	var cred credentialFile
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, false, fmt.Errorf("parse credentials: %w", err)
	}
	return cred.Bundle, true, nil
}

// Put stores the credential bundle for a session id.
func (f *FileStore) Put(ctx context.Context, id string, bundle []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStoreClosed
	}
	if err := validateSessionID(id); err != nil {
		return err
	}

	data, err := json.MarshalIndent(credentialFile{Bundle: bundle}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	return f.writeDurable(id, "credentials.json", data)
}

// PutArtifact stores a handshake artifact, replacing any previous artifact of
// the same kind.
func (f *FileStore) PutArtifact(ctx context.Context, id string, artifact Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStoreClosed
	}
	if err := validateSessionID(id); err != nil {
		return err
	}
	name, err := artifactFileName(artifact.Kind)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	return f.writeDurable(id, name, data)
}

// GetArtifact retrieves the artifact of the given kind, if present.
func (f *FileStore) GetArtifact(ctx context.Context, id string, kind ArtifactKind) (Artifact, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return Artifact{}, false, ErrStoreClosed
	}
	if err := validateSessionID(id); err != nil {
		return Artifact{}, false, err
	}
	name, err := artifactFileName(kind)
	if err != nil {
		return Artifact{}, false, err
	}

	data, err := os.ReadFile(filepath.Join(f.baseDir, id, name)) // #nosec G304 - id validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return Artifact{}, false, nil
		}
		return Artifact{}, false, fmt.Errorf("read artifact: %w", err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return Artifact{}, false, fmt.Errorf("parse artifact: %w", err)
	}
	return artifact, true, nil
}

// ClearArtifact removes the artifact of the given kind. Clearing an absent
// artifact is a no-op.
func (f *FileStore) ClearArtifact(ctx context.Context, id string, kind ArtifactKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStoreClosed
	}
	if err := validateSessionID(id); err != nil {
		return err
	}
	name, err := artifactFileName(kind)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(f.baseDir, id, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return f.syncDir(filepath.Join(f.baseDir, id))
}

// Delete removes the session's entire storage location.
func (f *FileStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStoreClosed
	}
	if err := validateSessionID(id); err != nil {
		return err
	}

	if err := os.RemoveAll(filepath.Join(f.baseDir, id)); err != nil {
		return fmt.Errorf("remove session directory: %w", err)
	}
	return f.syncDir(f.baseDir)
}

// Close releases any resources held by the store.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

// credentialFile is the on-disk envelope for a credential bundle.
type credentialFile struct {
	Bundle []byte `json:"bundle"`
}

func (f *FileStore) credentialPath(id string) string {
	return filepath.Join(f.baseDir, id, "credentials.json")
}

func artifactFileName(kind ArtifactKind) (string, error) {
	switch kind {
	case ArtifactVisualCode:
		return "visual.json", nil
	case ArtifactPairingCode:
		return "pairing.json", nil
	default:
		return "", fmt.Errorf("unknown artifact kind: %q", kind)
	}
}

// writeDurable writes data into the session's directory through a temp file,
// fsync, and rename, then syncs the directory. Caller must hold the write lock.
func (f *FileStore) writeDurable(id, name string, data []byte) error {
	dir := filepath.Join(f.baseDir, id)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return f.syncDir(dir)
}

// syncDir flushes directory metadata so a rename or remove survives a crash.
func (f *FileStore) syncDir(dir string) error {
	d, err := os.Open(dir) // #nosec G304 - path built from validated components
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open directory: %w", err)
	}
	defer func() { _ = d.Close() }()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}
