package session

import (
	"context"
	"encoding/base64"
	"errors"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/linkwire-dev/linkwire/pkg/observability"
)

// Service is the control surface consumed by the HTTP/CLI layer. It exposes
// every operation unconditionally and trusts that the caller has already
// authorized the request; authorization is external to this core.
type Service struct {
	store    Store
	registry *Registry
	sweeper  *cron.Cron
}

// Options configures a Service.
type Options struct {
	// SweepSchedule is the cron spec for the closed-session sweep.
	// Defaults to "@every 30s". Empty string uses the default; use
	// SweepDisabled to turn the janitor off (tests drive Sweep directly).
	SweepSchedule string
	// SweepDisabled turns the background janitor off.
	SweepDisabled bool
}

// DefaultSweepSchedule is the janitor cadence when none is configured.
const DefaultSweepSchedule = "@every 30s"

// NewService creates the control surface over a fresh registry.
func NewService(store Store, client Client, opts Options) (*Service, error) {
	s := &Service{
		store:    store,
		registry: NewRegistry(store, client),
	}

	if !opts.SweepDisabled {
		schedule := opts.SweepSchedule
		if schedule == "" {
			schedule = DefaultSweepSchedule
		}
		s.sweeper = cron.New()
		if _, err := s.sweeper.AddFunc(schedule, func() {
			if n := s.registry.Sweep(); n > 0 {
				log.Printf("session janitor: released %d closed sessions", n)
			}
		}); err != nil {
			return nil, err
		}
		s.sweeper.Start()
	}
	return s, nil
}

// Registry exposes the underlying registry, mainly for status endpoints and
// tests.
func (s *Service) Registry() *Registry {
	return s.registry
}

// StartResult reports the outcome of StartSession.
type StartResult struct {
	Ok      bool   `json:"ok"`
	Message string `json:"message"`
}

// StartSession brings the session for id into memory, restoring any persisted
// credential and connecting to the remote service. Idempotent: starting an
// already-started session performs no new connect and reports success.
func (s *Service) StartSession(ctx context.Context, id string) (StartResult, error) {
	rec, err := s.registry.GetOrCreate(ctx, id)
	if err != nil {
		return StartResult{}, err
	}
	observability.RecordSessionStart(string(rec.State))
	return StartResult{Ok: true, Message: "session " + string(rec.State)}, nil
}

// GetVisualCode returns the pending visual-code artifact for id. Read-only;
// returns ErrNotFound once the session authenticates or when no code was ever
// issued.
func (s *Service) GetVisualCode(ctx context.Context, id string) (VisualCode, error) {
	artifact, ok, err := s.store.GetArtifact(ctx, id, ArtifactVisualCode)
	if err != nil {
		return VisualCode{}, &PersistenceError{Op: "read visual code", Err: err}
	}
	if !ok || artifact.Visual == nil {
		return VisualCode{}, ErrNotFound
	}
	return *artifact.Visual, nil
}

// RequestPairingCode asks the remote service for a numeric pairing code tied
// to phoneNumber, starting the session first if it is not in memory yet.
// Returns ErrAlreadyAuthenticated when a credential already marks the session
// as registered; in that case no artifact is written.
func (s *Service) RequestPairingCode(ctx context.Context, id, phoneNumber string) (PairingCode, error) {
	if phoneNumber == "" {
		return PairingCode{}, errors.New("phone number cannot be empty")
	}

	if _, err := s.registry.GetOrCreate(ctx, id); err != nil {
		return PairingCode{}, err
	}
	m, ok := s.registry.lookup(id)
	if !ok {
		// Connection closed between creation and the handshake call.
		return PairingCode{}, ErrNotFound
	}
	return m.requestPairingCode(ctx, phoneNumber)
}

// GetPairingCode returns the stored pairing-code artifact for id. The
// artifact survives authentication as a historical record; it is gone only
// when superseded or when the session's storage is destroyed.
func (s *Service) GetPairingCode(ctx context.Context, id string) (PairingCode, error) {
	artifact, ok, err := s.store.GetArtifact(ctx, id, ArtifactPairingCode)
	if err != nil {
		return PairingCode{}, &PersistenceError{Op: "read pairing code", Err: err}
	}
	if !ok || artifact.Pairing == nil {
		return PairingCode{}, ErrNotFound
	}
	return *artifact.Pairing, nil
}

// GetStatus reports whether id is live in the registry and whether a
// credential bundle is persisted for it.
func (s *Service) GetStatus(ctx context.Context, id string) (Status, error) {
	_, inMemory := s.registry.Get(id)
	_, hasCredential, err := s.store.Get(ctx, id)
	if err != nil {
		return Status{}, &PersistenceError{Op: "read credential", Err: err}
	}
	return Status{InMemory: inMemory, HasCredential: hasCredential}, nil
}

// ExportCredential returns the persisted credential bundle for id in raw and
// base64-encoded forms.
func (s *Service) ExportCredential(ctx context.Context, id string) (CredentialExport, error) {
	bundle, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return CredentialExport{}, &PersistenceError{Op: "read credential", Err: err}
	}
	if !ok {
		return CredentialExport{}, ErrNotFound
	}
	return CredentialExport{
		Raw:    bundle,
		Base64: base64.StdEncoding.EncodeToString(bundle),
	}, nil
}

// DestroySession forcibly removes id from the registry, tearing down its
// connection. Persisted credentials and artifacts are left intact; use the
// store's Delete for a full wipe.
func (s *Service) DestroySession(ctx context.Context, id string) {
	s.registry.Remove(id)
}

// Close stops the janitor and tears down every live session. The store is
// owned by the caller and is not closed here.
func (s *Service) Close() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	s.registry.Close()
}
