package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, dir
}

func TestFileStoreCredentialRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	bundle := []byte(`{"noise_key":"abc123"}`)
	if err := store.Put(ctx, "alice", bundle); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if !bytes.Equal(got, bundle) {
		t.Errorf("Get() = %q, want %q", got, bundle)
	}
}

func TestFileStoreGetAbsent(t *testing.T) {
	store, _ := newTestStore(t)

	got, ok, err := store.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get() error = %v, want nil for absent id", err)
	}
	if ok {
		t.Errorf("Get() ok = true, want false; got %q", got)
	}
}

func TestFileStorePutOverwrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "alice", []byte("first")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, "alice", []byte("second")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, _, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Get() = %q, want %q", got, "second")
	}
}

func TestFileStoreArtifacts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	visual := Artifact{
		Kind:   ArtifactVisualCode,
		Visual: &VisualCode{Payload: "2@abc,def", IssuedAt: now},
	}
	pairing := Artifact{
		Kind:    ArtifactPairingCode,
		Pairing: &PairingCode{Code: "ABCD1234", ExpiresInSeconds: 120, Method: "sms", IssuedAt: now},
	}

	if err := store.PutArtifact(ctx, "alice", visual); err != nil {
		t.Fatalf("PutArtifact(visual) error = %v", err)
	}
	if err := store.PutArtifact(ctx, "alice", pairing); err != nil {
		t.Fatalf("PutArtifact(pairing) error = %v", err)
	}

	got, ok, err := store.GetArtifact(ctx, "alice", ArtifactVisualCode)
	if err != nil || !ok {
		t.Fatalf("GetArtifact(visual) = ok %v, err %v", ok, err)
	}
	if got.Visual == nil || got.Visual.Payload != "2@abc,def" {
		t.Errorf("unexpected visual artifact: %+v", got)
	}

	got, ok, err = store.GetArtifact(ctx, "alice", ArtifactPairingCode)
	if err != nil || !ok {
		t.Fatalf("GetArtifact(pairing) = ok %v, err %v", ok, err)
	}
	if got.Pairing == nil || got.Pairing.Code != "ABCD1234" || got.Pairing.ExpiresInSeconds != 120 {
		t.Errorf("unexpected pairing artifact: %+v", got)
	}

	// Clearing one kind must not touch the other.
	if err := store.ClearArtifact(ctx, "alice", ArtifactVisualCode); err != nil {
		t.Fatalf("ClearArtifact() error = %v", err)
	}
	if _, ok, _ := store.GetArtifact(ctx, "alice", ArtifactVisualCode); ok {
		t.Error("visual artifact still readable after clear")
	}
	if _, ok, _ := store.GetArtifact(ctx, "alice", ArtifactPairingCode); !ok {
		t.Error("pairing artifact gone after clearing visual")
	}
}

func TestFileStoreClearAbsentArtifact(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.ClearArtifact(context.Background(), "alice", ArtifactVisualCode); err != nil {
		t.Errorf("ClearArtifact() on absent artifact error = %v, want nil", err)
	}
}

func TestFileStoreDelete(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "alice", []byte("bundle")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Delete(ctx, "alice"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, ok, _ := store.Get(ctx, "alice"); ok {
		t.Error("credential still readable after Delete")
	}
	if _, err := os.Stat(filepath.Join(dir, "alice")); !os.IsNotExist(err) {
		t.Errorf("session directory still exists after Delete: %v", err)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := store.Put(ctx, "alice", []byte("durable")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() reopen error = %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, ok, err := reopened.Get(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("Get() after reopen = ok %v, err %v", ok, err)
	}
	if string(got) != "durable" {
		t.Errorf("Get() after reopen = %q, want %q", got, "durable")
	}
}

func TestFileStoreRejectsUnsafeIDs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		id   string
	}{
		{name: "empty", id: ""},
		{name: "path separator", id: "a/b"},
		{name: "backslash", id: `a\b`},
		{name: "traversal", id: ".."},
		{name: "embedded traversal", id: "a..b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Put(ctx, tt.id, []byte("x"))
			if !errors.Is(err, ErrInvalidSessionID) {
				t.Errorf("Put(%q) error = %v, want ErrInvalidSessionID", tt.id, err)
			}
		})
	}
}

func TestFileStoreClosed(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := store.Put(ctx, "alice", []byte("x")); err != ErrStoreClosed {
		t.Errorf("Put() after Close error = %v, want ErrStoreClosed", err)
	}
	if _, _, err := store.Get(ctx, "alice"); err != ErrStoreClosed {
		t.Errorf("Get() after Close error = %v, want ErrStoreClosed", err)
	}
}
