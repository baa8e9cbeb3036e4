package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/Tyrowin/taptik/internal/calls"
	"github.com/Tyrowin/taptik/internal/common"
	"github.com/Tyrowin/taptik/internal/config"
	"github.com/Tyrowin/taptik/internal/events"
	"github.com/Tyrowin/taptik/internal/messages"
	"github.com/Tyrowin/taptik/internal/server"
	"github.com/Tyrowin/taptik/internal/store"
	"github.com/Tyrowin/taptik/internal/store/memory"
	"github.com/Tyrowin/taptik/internal/testhelpers"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const timeout = 2 * time.Second

func testConfig() config.Config {
	cfg := config.Default()
	cfg.SecretKey = "app-test-secret"
	cfg.Calls.RingTimeout = time.Second
	return cfg
}

func startApp(t *testing.T, cfg config.Config) (*App, string) {
	t.Helper()
	a, err := New(cfg, memory.New(), zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	srv := testhelpers.CreateTestServer(a.Handler)
	t.Cleanup(srv.Close)
	server.StartHub(a.Hub, zaptest.NewLogger(t))
	t.Cleanup(func() {
		_ = a.Hub.Shutdown(timeout)
		_ = a.Close()
	})
	return a, srv.URL
}

func dial(t *testing.T, a *App, baseURL, identity string) *websocket.Conn {
	t.Helper()
	conn, err := testhelpers.ConnectWebSocket(testhelpers.WebSocketURL(baseURL, "userId="+identity))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool {
		_, ok := a.Hub.Lookup(identity)
		return ok
	}, timeout, 5*time.Millisecond)
	return conn
}

func payload[T any](t *testing.T, f events.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func post(t *testing.T, url, identity string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("X-User-ID", identity)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// TestNewRequiresSecret verifies that the server refuses to assemble without
// a message secret.
func TestNewRequiresSecret(t *testing.T) {
	_, err := New(config.Default(), memory.New(), zaptest.NewLogger(t), nil)
	require.ErrorIs(t, err, common.ErrConfiguration)
}

// TestOpenStoreWithoutDSN verifies the in-memory fallback.
func TestOpenStoreWithoutDSN(t *testing.T) {
	st, err := OpenStore(context.Background(), testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, st)
	assert.NoError(t, st.Close())
}

// TestMessageFlow sends a message over REST and checks that the receiver's
// socket sees the message, then its receipt notification, and that only
// ciphertext reached the store.
func TestMessageFlow(t *testing.T) {
	a, base := startApp(t, testConfig())
	bob := dial(t, a, base, "bob")

	resp := post(t, base+"/api/messages/bob", "alice", messages.Draft{Text: "secret plans"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent messages.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sent))

	live := payload[messages.View](t, testhelpers.WaitForEvent(t, bob, events.NewMessage, timeout))
	require.NotNil(t, live.Text)
	assert.Equal(t, "secret plans", *live.Text)
	assert.Equal(t, sent.ID, live.ID)

	note := payload[store.Notification](t, testhelpers.WaitForEvent(t, bob, events.NewNotification, timeout))
	assert.Equal(t, "New message from alice (@alice).", note.Message)

	stored, err := a.Store.Conversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].Ciphertext)
	assert.NotContains(t, *stored[0].Ciphertext, "secret plans")
	assert.Len(t, stored[0].IV, 32)
}

// TestCallFlow covers a busy callee, a ring timeout and the metrics exposed
// for both.
func TestCallFlow(t *testing.T) {
	a, base := startApp(t, testConfig())
	alice := dial(t, a, base, "alice")
	bob := dial(t, a, base, "bob")
	carol := dial(t, a, base, "carol")

	require.NoError(t, testhelpers.SendEvent(alice, events.CallRequest, events.Signal{To: "bob"}))
	testhelpers.WaitForEvent(t, bob, events.CallRequest, timeout)
	assert.Equal(t, calls.Outgoing, a.Relay.StateOf("alice"))

	require.NoError(t, testhelpers.SendEvent(carol, events.CallRequest, events.Signal{To: "alice"}))
	busy := payload[events.Signal](t, testhelpers.WaitForEvent(t, carol, events.CallReject, timeout))
	assert.Equal(t, calls.ReasonBusy, busy.Reason)

	expired := payload[events.Signal](t, testhelpers.WaitForEvent(t, alice, events.CallTimeout, timeout))
	assert.Equal(t, calls.ReasonTimeout, expired.Reason)
	testhelpers.WaitForEvent(t, bob, events.CallTimeout, timeout)
	assert.Equal(t, calls.Idle, a.Relay.StateOf("bob"))

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `taptik_call_outcomes_total{outcome="busy"} 1`)
	assert.Contains(t, string(body), `taptik_call_outcomes_total{outcome="timeout"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

// TestDisconnectEndsCall verifies that dropping a connection mid-call tells
// the peer and frees both parties.
func TestDisconnectEndsCall(t *testing.T) {
	cfg := testConfig()
	cfg.Calls.RingTimeout = time.Minute
	a, base := startApp(t, cfg)
	alice := dial(t, a, base, "alice")
	bob := dial(t, a, base, "bob")

	require.NoError(t, testhelpers.SendEvent(alice, events.CallRequest, events.Signal{To: "bob"}))
	testhelpers.WaitForEvent(t, bob, events.CallRequest, timeout)
	require.NoError(t, testhelpers.SendEvent(bob, events.CallAccept, events.Signal{To: "alice"}))
	testhelpers.WaitForEvent(t, alice, events.CallAccept, timeout)

	require.NoError(t, testhelpers.CloseWebSocket(alice))
	ended := payload[events.Signal](t, testhelpers.WaitForEvent(t, bob, events.CallEnded, timeout))
	assert.Equal(t, calls.ReasonDisconnected, ended.Reason)
	assert.Equal(t, "alice", ended.From)

	online := payload[[]string](t, testhelpers.WaitForEvent(t, bob, events.OnlineSnapshot, timeout))
	assert.Equal(t, []string{"bob"}, online)
	assert.Equal(t, calls.Idle, a.Relay.StateOf("bob"))
}

// TestFriendFlow sends a friend request, declines it and checks the feed of
// the requester.
func TestFriendFlow(t *testing.T) {
	a, base := startApp(t, testConfig())
	bob := dial(t, a, base, "bob")
	alice := dial(t, a, base, "alice")

	resp := post(t, base+"/api/friends/requests", "alice", map[string]string{"recipientId": "bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	req := payload[store.FriendRequest](t, testhelpers.WaitForEvent(t, bob, events.NewFriendRequest, timeout))

	raw, err := json.Marshal(map[string]string{"status": "rejected"})
	require.NoError(t, err)
	put, err := http.NewRequest(http.MethodPut, base+"/api/friends/requests/"+req.ID, bytes.NewReader(raw))
	require.NoError(t, err)
	put.Header.Set("X-User-ID", "bob")
	res, err := http.DefaultClient.Do(put)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	require.Equal(t, http.StatusOK, res.StatusCode)

	updated := payload[store.FriendRequest](t, testhelpers.WaitForEvent(t, alice, events.FriendRequestUpdated, timeout))
	assert.Equal(t, store.FriendRejected, updated.Status)

	feed, err := a.Ledger.FetchAll(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "bob (@bob) declined your friend request.", feed[0].Message)
}
