package server

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/Tyrowin/taptik/internal/calls"
	"github.com/Tyrowin/taptik/internal/common"
	"github.com/Tyrowin/taptik/internal/config"
	"github.com/Tyrowin/taptik/internal/events"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Client is one attached WebSocket connection. identity is empty for
// connections that attached without credentials; those receive broadcasts
// but are never registered in presence and may not send frames.
type Client struct {
	id             string
	identity       string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      config.RateLimitConfig
	log            *zap.Logger
}

// NewClient creates a Client for conn with a fresh connection handle. conn
// may be nil in tests; such a client is queued to but never pumped.
func NewClient(conn *websocket.Conn, hub *Hub, addr, identity string) *Client {
	cfg := hub.settings
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:             id,
		identity:       identity,
		conn:           conn,
		send:           make(chan []byte, cfg.SendBuffer),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		log:            hub.log.With(zap.String("conn", id), zap.String("addr", addr)),
	}
}

// ID returns the connection handle.
func (c *Client) ID() string { return c.id }

// Identity returns the identity the connection attached as, or "".
func (c *Client) Identity() string { return c.identity }

// GetSendChan returns the client's outbound queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs err at the right level. Every read error ends the pump.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", zap.Int64("limit", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("client connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected WebSocket close", zap.Error(err))
	default:
		c.log.Warn("WebSocket read error", zap.Error(err))
	}
}

func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("rate limit exceeded; discarding frame",
			zap.Int("burst", c.rateLimit.Burst),
			zap.Duration("refill_interval", c.rateLimit.RefillInterval))
		return false
	}
	return true
}

// processMessage decodes one inbound frame and dispatches it. Problems are
// reported back to this connection as an error event.
func (c *Client) processMessage(raw []byte) {
	var frame events.Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		c.log.Debug("invalid frame", zap.Error(err))
		c.sendError("", "malformed frame")
		return
	}
	c.hub.metrics.recordFrame(frame.Event)

	if c.identity == "" {
		c.sendError(frame.Event, "not authenticated")
		return
	}

	switch {
	case frame.Event == events.Typing || frame.Event == events.StopTyping:
		c.relayTyping(frame)
	case events.IsCall(frame.Event):
		c.relaySignal(frame)
	default:
		c.sendError(frame.Event, "unknown event")
	}
}

func (c *Client) relayTyping(frame events.Frame) {
	var in events.TypingPayload
	if err := json.Unmarshal(frame.Data, &in); err != nil || in.Receiver == "" {
		c.sendError(frame.Event, "receiver is required")
		return
	}
	c.hub.Relay(c.identity, in.Receiver, frame.Event, events.TypingPayload{Sender: c.identity})
}

func (c *Client) relaySignal(frame events.Frame) {
	if c.hub.signals == nil {
		c.sendError(frame.Event, "calls are not available")
		return
	}
	var sig events.Signal
	if err := json.Unmarshal(frame.Data, &sig); err != nil {
		c.sendError(frame.Event, "malformed call payload")
		return
	}

	err := c.hub.signals.Handle(c.identity, frame.Event, sig)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrValidation):
		c.sendError(frame.Event, err.Error())
	case errors.Is(err, calls.ErrNoSession):
		c.log.Debug("signal without session dropped", zap.String("event", frame.Event), zap.String("to", sig.To))
	default:
		c.log.Error("call signal failed", zap.String("event", frame.Event), zap.Error(err))
	}
}

func (c *Client) sendError(event, message string) {
	raw, err := events.Encode(events.Error, events.ErrorPayload{Event: event, Message: message})
	if err != nil {
		return
	}
	if c.hub.safeSend(c, raw) == sendFull {
		go c.hub.Detach(c)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Detach(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection in readPump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	case <-c.hub.ctx.Done():
		return false
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection in writePump", zap.Error(err))
	}
}

// handleMessage writes one frame and returns false if the connection should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	// One frame per WebSocket message; clients parse each message as JSON.
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error writing close message", zap.Error(err))
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("error writing ping", zap.Error(err))
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
