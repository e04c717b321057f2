package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/linkwire-dev/linkwire/pkg/observability"
)

// machine is the per-session state machine. It owns the session's Record and
// is the only writer of it. Adapter events and control-surface calls are
// serialized through mu, so no two handlers ever run for the same session
// concurrently.
type machine struct {
	id     string
	store  Store
	client Client

	// onClose removes the session from the registry once the connection
	// is finalized.
	onClose func(id string)

	mu     sync.Mutex
	rec    Record
	handle Handle
}

func newMachine(id string, store Store, client Client, onClose func(string)) *machine {
	now := time.Now().UTC()
	return &machine{
		id:      id,
		store:   store,
		client:  client,
		onClose: onClose,
		rec: Record{
			ID:          id,
			State:       StateIdle,
			CreatedAt:   now,
			LastEventAt: now,
		},
	}
}

// connect restores any persisted credential and asks the adapter for a
// connection. Called exactly once per machine, by the registry. A failure
// here leaves persisted state untouched; the caller retries by requesting the
// session again.
func (m *machine) connect(ctx context.Context) error {
	bundle, _, err := m.store.Get(ctx, m.id)
	if err != nil {
		return &PersistenceError{Op: "restore credential", Err: err}
	}

	m.setState(StateConnecting)

	handle, err := m.client.Connect(ctx, m.id, bundle)
	if err != nil {
		m.setState(StateClosed)
		return &TransportError{Op: "connect", Err: err}
	}

	m.mu.Lock()
	m.handle = handle
	m.mu.Unlock()

	go m.run(handle)
	return nil
}

// run consumes the handle's event stream until it is closed. The adapter
// guarantees per-handle emission order, and this single consumer preserves it.
func (m *machine) run(handle Handle) {
	for ev := range handle.Events() {
		m.dispatch(ev)
	}
	// The stream ended. Normally a terminal EventClosed already finalized
	// the session; if the adapter dropped the channel without one, finalize
	// here so the registry never retains a dead record.
	m.finalize("event stream ended")
}

// dispatch applies one adapter event. Unexpected panics during event handling
// are contained here: the event becomes a logged no-op and the session
// continues, so a subsequent EventClosed can still finalize cleanup.
func (m *machine) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session %s: event %s handler panic: %v", m.id, ev.Kind, r)
		}
	}()

	observability.RecordSessionEvent(string(ev.Kind))

	switch ev.Kind {
	case EventCredentialUpdated:
		m.handleCredentialUpdated(ev.Credential)
	case EventVisualCodeIssued:
		m.handleVisualCodeIssued(ev.VisualCode)
	case EventOpened:
		m.handleOpened()
	case EventClosed:
		m.finalize(ev.Reason)
	default:
		log.Printf("session %s: ignoring unknown event kind %q", m.id, ev.Kind)
	}
}

// handleCredentialUpdated writes the refreshed bundle through to the store.
// Idempotent, last write wins; state is unchanged.
func (m *machine) handleCredentialUpdated(bundle []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rec.LastEventAt = time.Now().UTC()
	if err := m.store.Put(context.Background(), m.id, bundle); err != nil {
		observability.RecordStoreError("put_credential")
		log.Printf("session %s: persist credential: %v", m.id, err)
	}
}

// handleVisualCodeIssued persists the code and moves the session to
// awaiting-credential unless it is already authenticated.
func (m *machine) handleVisualCodeIssued(payload string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.rec.LastEventAt = now

	artifact := Artifact{
		Kind:   ArtifactVisualCode,
		Visual: &VisualCode{Payload: payload, IssuedAt: now},
	}
	if err := m.store.PutArtifact(context.Background(), m.id, artifact); err != nil {
		observability.RecordStoreError("put_artifact")
		log.Printf("session %s: persist visual code: %v", m.id, err)
		return
	}
	observability.RecordHandshakeArtifact(string(ArtifactVisualCode))

	if m.rec.State != StateAuthenticated {
		m.rec.State = StateAwaitingCredential
	}
}

// handleOpened marks the session authenticated and deletes any stored visual
// code, which is now meaningless. A pairing-code artifact is left intact as a
// historical record.
func (m *machine) handleOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rec.LastEventAt = time.Now().UTC()
	m.rec.State = StateAuthenticated

	if err := m.store.ClearArtifact(context.Background(), m.id, ArtifactVisualCode); err != nil {
		observability.RecordStoreError("clear_artifact")
		log.Printf("session %s: clear visual code: %v", m.id, err)
	}
}

// finalize moves the session to closed and removes it from the registry, so a
// subsequent lookup creates a fresh instance rather than reusing a dead one.
// Safe to call more than once; only the first call takes effect.
func (m *machine) finalize(reason string) {
	m.mu.Lock()
	if m.rec.State == StateClosed {
		m.mu.Unlock()
		return
	}
	m.rec.State = StateClosed
	m.rec.LastEventAt = time.Now().UTC()
	m.mu.Unlock()

	log.Printf("session %s: closed: %s", m.id, reason)
	if m.onClose != nil {
		m.onClose(m.id)
	}
}

// requestPairingCode asks the adapter for a numeric pairing code. Permitted
// only while the session is connecting or awaiting a credential, and only
// when no credential bundle marks the session as already registered.
func (m *machine) requestPairingCode(ctx context.Context, phoneNumber string) (PairingCode, error) {
	m.mu.Lock()
	state := m.rec.State
	handle := m.handle
	m.mu.Unlock()

	switch state {
	case StateConnecting, StateAwaitingCredential:
	case StateAuthenticated:
		return PairingCode{}, ErrAlreadyAuthenticated
	default:
		return PairingCode{}, &TransportError{Op: "request pairing code", Err: errStateNotPairable(state)}
	}

	_, registered, err := m.store.Get(ctx, m.id)
	if err != nil {
		return PairingCode{}, &PersistenceError{Op: "check credential", Err: err}
	}
	if registered {
		return PairingCode{}, ErrAlreadyAuthenticated
	}

	code, err := handle.RequestPairingCode(ctx, phoneNumber)
	if err != nil {
		return PairingCode{}, err
	}
	if code.IssuedAt.IsZero() {
		code.IssuedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	artifact := Artifact{Kind: ArtifactPairingCode, Pairing: &code}
	if err := m.store.PutArtifact(ctx, m.id, artifact); err != nil {
		observability.RecordStoreError("put_artifact")
		return PairingCode{}, &PersistenceError{Op: "persist pairing code", Err: err}
	}
	observability.RecordHandshakeArtifact(string(ArtifactPairingCode))

	m.rec.LastEventAt = time.Now().UTC()
	if m.rec.State == StateConnecting {
		m.rec.State = StateAwaitingCredential
	}
	return code, nil
}

func (m *machine) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec.State = s
	m.rec.LastEventAt = time.Now().UTC()
}

// record returns a snapshot of the session's current record.
func (m *machine) record() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

// teardown closes the adapter handle so a forcibly destroyed registry entry
// never leaves an orphaned connection behind.
func (m *machine) teardown() {
	m.mu.Lock()
	handle := m.handle
	m.mu.Unlock()

	if handle != nil {
		_ = handle.Close()
	}
}

type errStateNotPairable State

func (e errStateNotPairable) Error() string {
	return "session state " + string(e) + " does not accept pairing requests"
}
