// Package audit records security-relevant session operations as structured
// events. Credential exports, pairing requests, and forced destroys leave a
// trail that can be shipped to log collection.
package audit

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Event is one audit record.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	SessionID  string    `json:"session_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Result     string    `json:"result"`
	Error      string    `json:"error,omitempty"`
}

// Results of an audited operation.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// Logger records audit events.
type Logger interface {
	Log(event Event)
	Close() error
}

// JSONLogger writes one JSON object per event to w.
type JSONLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLogger creates a JSON audit logger. A nil writer logs to stdout.
func NewJSONLogger(w io.Writer) *JSONLogger {
	if w == nil {
		w = os.Stdout
	}
	return &JSONLogger{w: w}
}

func (l *JSONLogger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("audit: marshal event: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(append(data, '\n'))
}

func (l *JSONLogger) Close() error {
	return nil
}

// MemoryLogger stores events in memory, for tests.
type MemoryLogger struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (l *MemoryLogger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

// Events returns a copy of everything logged so far.
func (l *MemoryLogger) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *MemoryLogger) Close() error {
	return nil
}

// NopLogger discards every event, for deployments with auditing disabled.
type NopLogger struct{}

func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (NopLogger) Log(Event) {}

func (NopLogger) Close() error {
	return nil
}
