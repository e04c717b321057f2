package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeClient implements Client for tests. Every Connect hands out a
// fakeHandle whose events the test scripts by hand.
type fakeClient struct {
	connectCount atomic.Int64
	connectDelay time.Duration
	connectErr   error
	// closeImmediately hands out handles whose stream is already terminated,
	// as if the remote service dropped the connection right after dialing.
	closeImmediately bool

	mu      sync.Mutex
	handles map[string]*fakeHandle
	// credentials records the bundle passed to the latest Connect per id.
	credentials map[string][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		handles:     make(map[string]*fakeHandle),
		credentials: make(map[string][]byte),
	}
}

func (c *fakeClient) Connect(ctx context.Context, id string, credential []byte) (Handle, error) {
	c.connectCount.Add(1)
	if c.connectDelay > 0 {
		time.Sleep(c.connectDelay)
	}
	if c.connectErr != nil {
		return nil, c.connectErr
	}

	h := newFakeHandle()
	if c.closeImmediately {
		h.emitClosed("remote closed")
	}
	c.mu.Lock()
	c.handles[id] = h
	c.credentials[id] = credential
	c.mu.Unlock()
	return h, nil
}

func (c *fakeClient) handle(id string) *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[id]
}

func (c *fakeClient) credential(id string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credentials[id]
}

type fakeHandle struct {
	events chan Event

	mu       sync.Mutex
	pairCode PairingCode
	pairErr  error
	phones   []string

	closeOnce sync.Once
	closedCh  chan struct{}
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		events:   make(chan Event, 16),
		closedCh: make(chan struct{}),
	}
}

func (h *fakeHandle) Events() <-chan Event {
	return h.events
}

func (h *fakeHandle) RequestPairingCode(ctx context.Context, phoneNumber string) (PairingCode, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.phones = append(h.phones, phoneNumber)
	if h.pairErr != nil {
		return PairingCode{}, h.pairErr
	}
	return h.pairCode, nil
}

func (h *fakeHandle) Close() error {
	h.closeOnce.Do(func() { close(h.closedCh) })
	return nil
}

func (h *fakeHandle) closed() bool {
	select {
	case <-h.closedCh:
		return true
	default:
		return false
	}
}

func (h *fakeHandle) setPairResult(code PairingCode, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pairCode = code
	h.pairErr = err
}

// emit queues one event for the consuming state machine.
func (h *fakeHandle) emit(ev Event) {
	h.events <- ev
}

// emitClosed delivers the terminal close event and ends the stream.
func (h *fakeHandle) emitClosed(reason string) {
	h.events <- Event{Kind: EventClosed, Reason: reason}
	close(h.events)
}
