package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkwire-dev/linkwire/pkg/audit"
	"github.com/linkwire-dev/linkwire/pkg/session"
)

// stubClient is a minimal session.Client for API tests. Handles stay silent
// until the test feeds them events.
type stubClient struct {
	mu      sync.Mutex
	handles map[string]*stubHandle
}

func newStubClient() *stubClient {
	return &stubClient{handles: make(map[string]*stubHandle)}
}

func (c *stubClient) Connect(ctx context.Context, id string, credential []byte) (session.Handle, error) {
	h := &stubHandle{
		events: make(chan session.Event, 16),
		closed: make(chan struct{}),
	}
	c.mu.Lock()
	c.handles[id] = h
	c.mu.Unlock()
	return h, nil
}

func (c *stubClient) handle(id string) *stubHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[id]
}

type stubHandle struct {
	events chan session.Event

	mu       sync.Mutex
	pairCode session.PairingCode
	pairErr  error

	closeOnce sync.Once
	closed    chan struct{}
}

func (h *stubHandle) Events() <-chan session.Event { return h.events }

func (h *stubHandle) RequestPairingCode(ctx context.Context, phoneNumber string) (session.PairingCode, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pairErr != nil {
		return session.PairingCode{}, h.pairErr
	}
	return h.pairCode, nil
}

func (h *stubHandle) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	return nil
}

func newTestServer(t *testing.T, apiKey string) (*Server, *stubClient, *session.FileStore) {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	client := newStubClient()
	svc, err := session.NewService(store, client, session.Options{SweepDisabled: true})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	srv := NewServer(svc, Config{APIKey: apiKey, EnableCORS: false})
	return srv, client, store
}

func do(srv *Server, method, path, apiKey string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func TestAPIKeyGate(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")

	tests := []struct {
		name       string
		key        string
		bearer     string
		wantStatus int
	}{
		{name: "missing key", wantStatus: http.StatusUnauthorized},
		{name: "wrong key", key: "nope", wantStatus: http.StatusUnauthorized},
		{name: "correct key", key: "secret", wantStatus: http.StatusOK},
		{name: "bearer token", bearer: "secret", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/alice/start", nil)
			if tt.key != "" {
				req.Header.Set("X-Api-Key", tt.key)
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			w := httptest.NewRecorder()
			srv.Engine().ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestAPIKeyGateSkipsReadEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")

	// Status is readable without a key even when the gate is on.
	w := do(srv, http.MethodGet, "/api/v1/sessions/alice/status", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartSession(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	w := do(srv, http.MethodPost, "/api/v1/sessions/alice/start", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result session.StartResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Ok)
}

func TestStartSessionInvalidID(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	w := do(srv, http.MethodPost, "/api/v1/sessions/a..b/start", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetVisualCode(t *testing.T) {
	srv, client, _ := newTestServer(t, "")

	// No session, no code.
	w := do(srv, http.MethodGet, "/api/v1/sessions/alice/qr", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/api/v1/sessions/alice/start", "", nil).Code)
	client.handle("alice").events <- session.Event{Kind: session.EventVisualCodeIssued, VisualCode: "2@abc,def"}

	require.Eventually(t, func() bool {
		return do(srv, http.MethodGet, "/api/v1/sessions/alice/qr", "", nil).Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond, "visual code never became readable")

	w = do(srv, http.MethodGet, "/api/v1/sessions/alice/qr", "", nil)
	var code session.VisualCode
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &code))
	assert.Equal(t, "2@abc,def", code.Payload)
}

func TestRequestPairingCode(t *testing.T) {
	srv, client, _ := newTestServer(t, "")

	// Body validation happens before anything touches the core.
	w := do(srv, http.MethodPost, "/api/v1/sessions/bob/pair", "", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/api/v1/sessions/bob/start", "", nil).Code)
	h := client.handle("bob")
	h.mu.Lock()
	h.pairCode = session.PairingCode{Code: "ABCD1234", ExpiresInSeconds: 160, Method: "sms"}
	h.mu.Unlock()

	w = do(srv, http.MethodPost, "/api/v1/sessions/bob/pair", "", []byte(`{"phoneNumber":"+15557654321"}`))
	require.Equal(t, http.StatusOK, w.Code)

	var code session.PairingCode
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &code))
	assert.Equal(t, "ABCD1234", code.Code)

	// The stored artifact is served by the read endpoint.
	w = do(srv, http.MethodGet, "/api/v1/sessions/bob/pair", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestPairingCodeConflict(t *testing.T) {
	srv, _, store := newTestServer(t, "")

	require.NoError(t, store.Put(context.Background(), "bob", []byte("registered")))

	w := do(srv, http.MethodPost, "/api/v1/sessions/bob/pair", "", []byte(`{"phoneNumber":"+15557654321"}`))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetStatus(t *testing.T) {
	srv, _, store := newTestServer(t, "")

	w := do(srv, http.MethodGet, "/api/v1/sessions/ghost/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status session.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.InMemory)
	assert.False(t, status.HasCredential)

	require.NoError(t, store.Put(context.Background(), "ghost", []byte("bundle")))
	w = do(srv, http.MethodGet, "/api/v1/sessions/ghost/status", "", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.InMemory)
	assert.True(t, status.HasCredential)
}

func TestExportCredential(t *testing.T) {
	srv, _, store := newTestServer(t, "")

	w := do(srv, http.MethodGet, "/api/v1/sessions/alice/credential", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, store.Put(context.Background(), "alice", []byte("bundle-bytes")))

	w = do(srv, http.MethodGet, "/api/v1/sessions/alice/credential", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var export struct {
		Base64 string `json:"base64"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &export))
	assert.NotEmpty(t, export.Base64)

	// Raw download form.
	w = do(srv, http.MethodGet, "/api/v1/sessions/alice/credential?download=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "bundle-bytes", w.Body.String())
}

func TestDestroySession(t *testing.T) {
	srv, client, _ := newTestServer(t, "")

	require.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/api/v1/sessions/alice/start", "", nil).Code)

	w := do(srv, http.MethodDelete, "/api/v1/sessions/alice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case <-client.handle("alice").closed:
	default:
		t.Error("adapter handle not closed after destroy")
	}

	var status session.Status
	w = do(srv, http.MethodGet, "/api/v1/sessions/alice/status", "", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.InMemory)
}

func TestAuditTrail(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc, err := session.NewService(store, newStubClient(), session.Options{SweepDisabled: true})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	auditLog := audit.NewMemoryLogger()
	srv := NewServer(svc, Config{APIKey: "secret", EnableCORS: false, Audit: auditLog})

	require.NoError(t, store.Put(context.Background(), "alice", []byte("bundle")))

	// Denied export, then an authorized one.
	do(srv, http.MethodGet, "/api/v1/sessions/alice/credential", "", nil)
	do(srv, http.MethodGet, "/api/v1/sessions/alice/credential", "secret", nil)

	events := auditLog.Events()
	require.Len(t, events, 2)

	assert.Equal(t, "credential.export", events[0].Action)
	assert.Equal(t, "alice", events[0].SessionID)
	assert.Equal(t, audit.ResultDenied, events[0].Result)
	assert.NotEmpty(t, events[0].RequestID)

	assert.Equal(t, audit.ResultSuccess, events[1].Result)

	// Reads are not audited.
	do(srv, http.MethodGet, "/api/v1/sessions/alice/status", "", nil)
	assert.Len(t, auditLog.Events(), 2)
}

func TestRequestIDHeader(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	w := do(srv, http.MethodGet, "/api/v1/sessions/alice/status", "", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/alice/status", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, "caller-supplied", rec.Header().Get("X-Request-ID"))
}
