// Package testhelpers provides utilities shared by the package tests.
//
// It offers a recording events.Pusher for producer tests and WebSocket
// helpers for tests that drive the server over a real connection.
package testhelpers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/taptik/internal/events"
	"github.com/Tyrowin/taptik/internal/store"
	"github.com/gorilla/websocket"
)

// FailingAppends is a store.Notifications whose appends always fail with Err.
// Reads go to the embedded store.
type FailingAppends struct {
	store.Notifications
	Err error
}

// AppendNotification returns f.Err.
func (f FailingAppends) AppendNotification(context.Context, string, *store.Notification, int) error {
	return f.Err
}

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// Pushed is one event accepted by a Recorder.
type Pushed struct {
	Identity string
	Event    string
	Payload  any
}

// Recorder is an events.Pusher that records deliveries to online identities
// and drops everything else with events.ReasonOffline.
type Recorder struct {
	mu      sync.Mutex
	online  map[string]bool
	pushed  []Pushed
	dropped int
}

// NewRecorder returns a Recorder with the given identities online.
func NewRecorder(online ...string) *Recorder {
	r := &Recorder{online: make(map[string]bool)}
	for _, id := range online {
		r.online[id] = true
	}
	return r
}

// SetOnline toggles the reachability of identity.
func (r *Recorder) SetOnline(identity string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online[identity] = online
}

// Push implements events.Pusher.
func (r *Recorder) Push(identity, event string, payload any) events.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.online[identity] {
		r.dropped++
		return events.Drop(events.ReasonOffline)
	}
	r.pushed = append(r.pushed, Pushed{Identity: identity, Event: event, Payload: payload})
	return events.Delivery{Outcome: events.Delivered}
}

// For returns the events delivered to identity in order.
func (r *Recorder) For(identity string) []Pushed {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Pushed
	for _, p := range r.pushed {
		if p.Identity == identity {
			out = append(out, p)
		}
	}
	return out
}

// Events returns the names of events delivered to identity in order.
func (r *Recorder) Events(identity string) []string {
	var names []string
	for _, p := range r.For(identity) {
		names = append(names, p.Event)
	}
	return names
}

// Dropped reports how many pushes targeted an offline identity.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// WebSocketURL converts an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL, query string) string {
	u := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

// ConnectWebSocket dials url with an allowed Origin header.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendEvent writes one frame to conn.
func SendEvent(conn *websocket.Conn, event string, payload any) error {
	raw, err := events.Encode(event, payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// ReadFrame reads the next frame from conn, failing after timeout.
func ReadFrame(conn *websocket.Conn, timeout time.Duration) (events.Frame, error) {
	var frame events.Frame
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return frame, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return frame, err
	}
	err = json.Unmarshal(raw, &frame)
	return frame, err
}

// WaitForEvent reads frames until one named event arrives, skipping others.
func WaitForEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) events.Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		frame, err := ReadFrame(conn, time.Until(deadline))
		if err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}
		if frame.Event == event {
			return frame
		}
	}
	t.Fatalf("timed out waiting for %q", event)
	return events.Frame{}
}

// ExpectNoEvent fails if a frame named event arrives within timeout.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		frame, err := ReadFrame(conn, time.Until(deadline))
		if err != nil {
			return
		}
		if frame.Event == event {
			t.Fatalf("unexpected %q event: %s", event, string(frame.Data))
		}
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
