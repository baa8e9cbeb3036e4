// Package server routes events between live WebSocket connections. The Hub
// owns the connection set and the presence registry; producers ask it to
// push events to an identity without knowing which connection serves it.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/taptik/internal/events"
	"github.com/Tyrowin/taptik/internal/presence"
	"go.uber.org/zap"
)

// SignalHandler receives inbound call-* frames. calls.Relay implements it.
type SignalHandler interface {
	Handle(from, event string, sig events.Signal) error
}

// Hub manages all WebSocket client connections and routes events to them.
// Registration and unregistration run on the Run loop, which is also the
// only writer of the presence registry.
type Hub struct {
	clients      map[*Client]bool
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *Client
	mutex        sync.RWMutex
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	presence     *presence.Registry
	byConn       map[string]*Client
	signals      SignalHandler
	onDisconnect []func(identity string)
	settings     Settings
	metrics      *Metrics
	log          *zap.Logger
}

var _ events.Pusher = (*Hub)(nil)

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithSettings sets the per-connection limits.
func WithSettings(s Settings) HubOption {
	return func(h *Hub) { h.settings = sanitizeSettings(s) }
}

// WithMetrics records router metrics into m.
func WithMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a Hub ready to Run.
func NewHub(log *zap.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		presence:   presence.NewRegistry(),
		byConn:     make(map[string]*Client),
		settings:   defaultSettings(),
		log:        log.With(zap.String("component", "hub")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetSignalHandler routes inbound call-* frames to s. Call before Run.
func (h *Hub) SetSignalHandler(s SignalHandler) {
	h.signals = s
}

// OnDisconnect registers fn to run when an identity loses its presence.
// Call before Run.
func (h *Hub) OnDisconnect(fn func(identity string)) {
	h.onDisconnect = append(h.onDisconnect, fn)
}

// Attach hands a new client to the Run loop. It returns false once the hub
// has shut down.
func (h *Hub) Attach(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Detach asks the Run loop to drop client. It never blocks after shutdown.
func (h *Hub) Detach(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Online returns the sorted identities that currently have a connection.
func (h *Hub) Online() []string {
	return h.presence.Online()
}

// Lookup returns the connection handle registered for identity.
func (h *Hub) Lookup(identity string) (string, bool) {
	return h.presence.Lookup(identity)
}

// ClientCount returns the number of attached connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Push queues event for the live connection of identity. The outcome is
// Delivered or Dropped with a reason; a drop is never an error.
func (h *Hub) Push(identity, event string, payload any) events.Delivery {
	d := h.push(identity, event, payload)
	h.metrics.recordPush(event, d.Outcome.String())
	if !d.Sent() {
		h.log.Debug("push dropped",
			zap.String("identity", identity),
			zap.String("event", event),
			zap.String("reason", string(d.Reason)))
	}
	return d
}

func (h *Hub) push(identity, event string, payload any) events.Delivery {
	conn, ok := h.presence.Lookup(identity)
	if !ok {
		return events.Drop(events.ReasonOffline)
	}

	h.mutex.RLock()
	client, ok := h.byConn[conn]
	h.mutex.RUnlock()
	if !ok {
		return events.Drop(events.ReasonClosed)
	}

	raw, err := events.Encode(event, payload)
	if err != nil {
		h.log.Error("encode event", zap.String("event", event), zap.Error(err))
		return events.Drop(events.ReasonEncode)
	}

	switch h.safeSend(client, raw) {
	case sendOK:
		return events.Delivery{Outcome: events.Delivered}
	case sendFull:
		h.log.Warn("send buffer full, dropping connection",
			zap.String("conn", client.id), zap.String("identity", identity))
		go h.Detach(client)
		return events.Drop(events.ReasonBufferFull)
	default:
		return events.Drop(events.ReasonClosed)
	}
}

// Relay forwards a peer-to-peer event such as typing from one identity to
// another. The payload is passed through untouched.
func (h *Hub) Relay(from, to, event string, payload any) events.Delivery {
	d := h.Push(to, event, payload)
	if !d.Sent() {
		h.log.Debug("relay not delivered", zap.String("from", from), zap.String("to", to), zap.String("event", event))
	}
	return d
}

// Broadcast sends event to every attached connection through the Run loop.
func (h *Hub) Broadcast(event string, payload any) error {
	raw, err := events.Encode(event, payload)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- raw:
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

type sendResult int

const (
	sendOK sendResult = iota
	sendFull
	sendClosed
)

func (h *Hub) safeSend(client *Client, message []byte) (result sendResult) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("recovered from panic in safeSend", zap.Any("panic", r))
			result = sendClosed
		}
	}()

	// Hold the lock during the entire send so the channel cannot be closed underneath.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return sendClosed
	}

	select {
	case client.send <- message:
		return sendOK
	default:
		return sendFull
	}
}

// Run starts the hub's main event loop, handling client registration,
// unregistration and broadcasting. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case raw := <-h.broadcast:
			h.handleBroadcast(raw)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	h.byConn[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()
	h.metrics.setConnections(clientCount)

	h.log.Info("client registered",
		zap.String("conn", client.id),
		zap.String("addr", client.addr),
		zap.String("identity", client.identity),
		zap.Int("clients", clientCount))

	if client.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		go func() {
			defer h.wg.Done()
			client.readPump()
		}()
	}

	if client.identity == "" {
		return
	}
	online := h.presence.Register(client.identity, client.id)
	h.announce(online)
}

func (h *Hub) handleUnregister(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	delete(h.byConn, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()
	// Close the channel after releasing the lock
	close(client.send)
	h.metrics.setConnections(clientCount)

	h.log.Info("client unregistered",
		zap.String("conn", client.id),
		zap.String("addr", client.addr),
		zap.Int("clients", clientCount))

	identity, online, ok := h.presence.Unregister(client.id)
	if !ok {
		return
	}
	for _, fn := range h.onDisconnect {
		fn(identity)
	}
	h.announce(online)
}

// announce broadcasts the online snapshot. It runs on the Run loop.
func (h *Hub) announce(online []string) {
	h.metrics.setOnline(len(online))
	raw, err := events.Encode(events.OnlineSnapshot, online)
	if err != nil {
		h.log.Error("encode online snapshot", zap.Error(err))
		return
	}
	h.handleBroadcast(raw)
}

// handleBroadcast sends raw to every client and drops those whose queue is full.
func (h *Hub) handleBroadcast(raw []byte) {
	clients := h.getClientSnapshot()

	var failed []*Client
	for _, client := range clients {
		if h.safeSend(client, raw) == sendFull {
			failed = append(failed, client)
		}
	}

	h.log.Debug("broadcast", zap.Int("targets", len(clients)), zap.Int("failed", len(failed)))
	for _, client := range failed {
		h.log.Warn("client removed due to full send buffer", zap.String("conn", client.id), zap.String("addr", client.addr))
		h.handleUnregister(client)
	}
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// shutdownClients closes every connection so the pumps exit.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	clients := h.getClientSnapshot()
	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("error closing client connection", zap.String("addr", client.addr), zap.Error(err))
			}
		}
	}

	h.log.Info("closed client connections", zap.Int("count", len(clients)))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case <-h.done:
	case <-deadline.C:
		h.log.Warn("hub shutdown timeout reached, run loop did not stop")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-deadline.C:
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
