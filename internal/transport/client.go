// Package transport implements the messaging-protocol client adapter over a
// WebSocket connection to the remote service. It translates the service's
// JSON frames into the ordered session event stream the state machine
// consumes.
package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/linkwire-dev/linkwire/pkg/session"
)

// Frame types exchanged with the remote service.
const (
	frameHello      = "hello"
	frameHelloAck   = "hello.ack"
	frameCredential = "credential"
	frameVisualCode = "qr"
	frameOpen       = "open"
	frameClose      = "close"
	framePair       = "pair"
	framePairAck    = "pair.ack"
)

// pairErrAlreadyRegistered is the remote service's error code for a pairing
// request against a credential it already knows.
const pairErrAlreadyRegistered = "already_authenticated"

// frame is the JSON wire shape for every message in both directions.
type frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// hello / hello.ack
	SessionID  string `json:"sessionId,omitempty"`
	Versions   []int  `json:"versions,omitempty"`
	Version    int    `json:"version,omitempty"`
	Credential string `json:"credential,omitempty"`

	// events
	Payload string `json:"payload,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// pairing
	Phone     string `json:"phone,omitempty"`
	Code      string `json:"code,omitempty"`
	ExpiresIn int    `json:"expiresIn,omitempty"`
	Method    string `json:"method,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Config configures the WebSocket client.
type Config struct {
	// URL is the remote service's WebSocket endpoint.
	URL string
	// HandshakeTimeout bounds dialing and version negotiation.
	HandshakeTimeout time.Duration
	// Versions are the protocol versions offered during negotiation,
	// preferred first.
	Versions []int
	// FallbackVersion is the pinned default used when negotiation fails.
	FallbackVersion int
	// EventBuffer is the event channel capacity per connection.
	EventBuffer int
}

func (c Config) withDefaults() Config {
	out := c
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 15 * time.Second
	}
	if len(out.Versions) == 0 {
		out.Versions = []int{2, 1}
	}
	if out.FallbackVersion == 0 {
		out.FallbackVersion = 1
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = 16
	}
	return out
}

// WSClient implements session.Client over WebSocket connections.
type WSClient struct {
	cfg    Config
	dialer *websocket.Dialer
}

// New creates a WebSocket protocol client.
func New(cfg Config) *WSClient {
	cfg = cfg.withDefaults()
	return &WSClient{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Connect dials the remote service and performs the hello exchange. Version
// negotiation is attempted once; any negotiation failure falls back to the
// pinned default version and is never fatal.
func (c *WSClient) Connect(ctx context.Context, id string, credential []byte) (session.Handle, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	hello := frame{
		Type:      frameHello,
		SessionID: id,
		Versions:  c.cfg.Versions,
	}
	if len(credential) > 0 {
		hello.Credential = base64.StdEncoding.EncodeToString(credential)
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("write hello: %w", err)
	}

	h := &wsHandle{
		sessionID: id,
		conn:      conn,
		events:    make(chan session.Event, c.cfg.EventBuffer),
		pending:   make(map[string]chan frame),
		closed:    make(chan struct{}),
		version:   c.cfg.FallbackVersion,
	}

	h.negotiate(c.cfg.HandshakeTimeout)

	go h.readLoop()
	return h, nil
}

// wsHandle is one live connection. Its event channel is single-consumer and
// preserves the remote service's emission order.
type wsHandle struct {
	sessionID string
	conn      *websocket.Conn
	events    chan session.Event
	version   int

	// deferred holds a non-ack frame consumed during negotiation; the read
	// loop replays it first so ordering is preserved.
	deferred *frame

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan frame

	opened    bool
	closeOnce sync.Once
	closed    chan struct{}
}

// negotiate waits for the hello.ack and records the agreed version. On
// timeout, a malformed reply, or an out-of-range version, the handle keeps
// the pinned fallback. A frame that is not a hello.ack is deferred for the
// read loop rather than dropped.
func (h *wsHandle) negotiate(timeout time.Duration) {
	_ = h.conn.SetReadDeadline(time.Now().Add(timeout))
	defer func() { _ = h.conn.SetReadDeadline(time.Time{}) }()

	var f frame
	if err := h.conn.ReadJSON(&f); err != nil {
		log.Printf("session %s: version negotiation failed, using v%d: %v", h.sessionID, h.version, err)
		return
	}
	if f.Type != frameHelloAck {
		h.deferred = &f
		log.Printf("session %s: no hello.ack, using v%d", h.sessionID, h.version)
		return
	}
	if f.Version > 0 {
		h.version = f.Version
	}
}

// Events returns the handle's event stream.
func (h *wsHandle) Events() <-chan session.Event {
	return h.events
}

// readLoop decodes frames until the connection dies or the remote service
// closes the session, then delivers the terminal close event and shuts the
// stream.
func (h *wsHandle) readLoop() {
	defer close(h.events)
	defer h.shutdown()

	if h.deferred != nil {
		if done := h.handleFrame(*h.deferred); done {
			return
		}
		h.deferred = nil
	}

	for {
		var f frame
		if err := h.conn.ReadJSON(&f); err != nil {
			select {
			case <-h.closed:
				h.events <- session.Event{Kind: session.EventClosed, Reason: "connection closed by client"}
			default:
				h.events <- session.Event{Kind: session.EventClosed, Reason: fmt.Sprintf("transport: %v", err)}
			}
			return
		}
		if done := h.handleFrame(f); done {
			return
		}
	}
}

// handleFrame maps one frame onto the event stream. Returns true when the
// frame was terminal.
func (h *wsHandle) handleFrame(f frame) bool {
	switch f.Type {
	case frameCredential:
		bundle, err := base64.StdEncoding.DecodeString(f.Credential)
		if err != nil {
			log.Printf("session %s: discarding malformed credential frame: %v", h.sessionID, err)
			return false
		}
		h.events <- session.Event{Kind: session.EventCredentialUpdated, Credential: bundle}

	case frameVisualCode:
		h.events <- session.Event{Kind: session.EventVisualCodeIssued, VisualCode: f.Payload}

	case frameOpen:
		// Opened fires at most once per handle.
		if !h.opened {
			h.opened = true
			h.events <- session.Event{Kind: session.EventOpened}
		}

	case frameClose:
		h.events <- session.Event{Kind: session.EventClosed, Reason: f.Reason}
		return true

	case framePairAck:
		h.resolvePending(f)

	default:
		log.Printf("session %s: ignoring unknown frame type %q", h.sessionID, f.Type)
	}
	return false
}

// RequestPairingCode sends a pairing request and waits for the matching ack.
func (h *wsHandle) RequestPairingCode(ctx context.Context, phoneNumber string) (session.PairingCode, error) {
	reqID := uuid.NewString()
	ch := make(chan frame, 1)

	h.pendingMu.Lock()
	h.pending[reqID] = ch
	h.pendingMu.Unlock()
	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, reqID)
		h.pendingMu.Unlock()
	}()

	if err := h.writeJSON(frame{Type: framePair, ID: reqID, Phone: phoneNumber}); err != nil {
		return session.PairingCode{}, fmt.Errorf("write pairing request: %w", err)
	}

	select {
	case <-ctx.Done():
		return session.PairingCode{}, ctx.Err()
	case <-h.closed:
		return session.PairingCode{}, errors.New("connection closed")
	case ack := <-ch:
		if ack.Error == pairErrAlreadyRegistered {
			return session.PairingCode{}, session.ErrAlreadyAuthenticated
		}
		if ack.Error != "" {
			return session.PairingCode{}, fmt.Errorf("pairing rejected: %s", ack.Error)
		}
		return session.PairingCode{
			Code:             ack.Code,
			ExpiresInSeconds: ack.ExpiresIn,
			Method:           ack.Method,
			IssuedAt:         time.Now().UTC(),
		}, nil
	}
}

// Close tears the connection down. Safe to call more than once.
func (h *wsHandle) Close() error {
	h.shutdown()
	return nil
}

func (h *wsHandle) shutdown() {
	h.closeOnce.Do(func() {
		close(h.closed)
		_ = h.conn.Close()
	})
}

func (h *wsHandle) writeJSON(f frame) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.conn.WriteJSON(f)
}

func (h *wsHandle) resolvePending(f frame) {
	h.pendingMu.Lock()
	ch, ok := h.pending[f.ID]
	h.pendingMu.Unlock()
	if ok {
		select {
		case ch <- f:
		default:
		}
	}
}
