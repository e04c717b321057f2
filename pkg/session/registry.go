package session

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/linkwire-dev/linkwire/pkg/observability"
)

// Registry is the process-wide mapping from session id to its live state
// machine. It is the sole entry point that can ask the adapter to connect,
// which is what enforces the invariant of at most one live connection handle
// per id at any time.
//
// Registry is safe for concurrent use. Construct one per process in normal
// operation, or one per test; there is no package-level instance.
type Registry struct {
	store  Store
	client Client

	mu       sync.Mutex
	sessions map[string]*machine
	group    singleflight.Group
}

// NewRegistry creates an empty registry backed by the given store and
// protocol client.
func NewRegistry(store Store, client Client) *Registry {
	return &Registry{
		store:    store,
		client:   client,
		sessions: make(map[string]*machine),
	}
}

// GetOrCreate returns the live record for id, creating and connecting a new
// session when none exists. Creation is single-flight: concurrent calls for
// the same id that arrive while a connect is in progress observe the same
// in-progress session rather than triggering duplicate connects.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (Record, error) {
	if err := validateSessionID(id); err != nil {
		return Record{}, err
	}

	r.mu.Lock()
	if m, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return m.record(), nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(id, func() (any, error) {
		// A session may have appeared between the fast path and the
		// single-flight slot.
		r.mu.Lock()
		if m, ok := r.sessions[id]; ok {
			r.mu.Unlock()
			return m, nil
		}
		r.mu.Unlock()

		// Register before connecting so the release callback always finds
		// the entry, even when the connection closes immediately after the
		// consumer goroutine starts.
		m := newMachine(id, r.store, r.client, r.release)
		r.mu.Lock()
		r.sessions[id] = m
		observability.SetActiveSessions(len(r.sessions))
		r.mu.Unlock()

		if err := m.connect(ctx); err != nil {
			r.release(id)
			return nil, err
		}
		return m, nil
	})
	if err != nil {
		return Record{}, err
	}
	return v.(*machine).record(), nil
}

// Get is the non-creating lookup used for read-only status checks.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	m, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return Record{}, false
	}
	return m.record(), true
}

// Remove forcibly destroys the registry entry for id and tears down its
// adapter handle so no orphaned connection is left behind. Removing an absent
// id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	m, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		observability.SetActiveSessions(len(r.sessions))
	}
	r.mu.Unlock()

	if ok {
		m.teardown()
	}
}

// Sweep garbage-collects records whose connection already closed and returns
// how many it removed. Closed sessions are normally released as soon as the
// terminal close event arrives; the sweep is the backstop pass.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	var stale []*machine
	for id, m := range r.sessions {
		if m.record().State == StateClosed {
			delete(r.sessions, id)
			stale = append(stale, m)
		}
	}
	observability.SetActiveSessions(len(r.sessions))
	r.mu.Unlock()

	for _, m := range stale {
		m.teardown()
	}
	return len(stale)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close tears down every live session. The registry remains usable, matching
// the lifecycle of a test constructing and discarding registries freely.
func (r *Registry) Close() {
	r.mu.Lock()
	machines := make([]*machine, 0, len(r.sessions))
	for id, m := range r.sessions {
		delete(r.sessions, id)
		machines = append(machines, m)
	}
	observability.SetActiveSessions(0)
	r.mu.Unlock()

	for _, m := range machines {
		m.teardown()
	}
}

// release is the machine's close callback: drop the record so a subsequent
// lookup creates a fresh instance rather than reusing a dead one.
func (r *Registry) release(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	observability.SetActiveSessions(len(r.sessions))
	r.mu.Unlock()
}

// lookup returns the live machine for id, if any. Internal to the package;
// the control surface uses it for handshake operations.
func (r *Registry) lookup(id string) (*machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[id]
	return m, ok
}
