package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// Client is one WebSocket connection. Its read pump feeds the hub; its write
// pump drains send, which only the hub writes to and closes.
type Client struct {
	id          relay.ConnID
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	addr        string
	log         *slog.Logger
	rateLimiter *rateLimiter

	maxMessageSize int64
	pingTimeout    time.Duration
	writeWait      time.Duration
}

// NewClient wraps conn with a fresh connection id.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, cfg Config) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := relay.ConnID(uuid.NewString())

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		hub:            hub,
		addr:           addr,
		log:            hub.log.With("conn", id, "remote", addr),
		rateLimiter:    newRateLimiter(cfg.RateLimitBurst, cfg.RateLimitRefill),
		maxMessageSize: cfg.MaxMessageSize,
		pingTimeout:    cfg.PingTimeout,
		writeWait:      cfg.WriteWait,
	}
}

// ID returns the connection id the relay knows this client by.
func (c *Client) ID() relay.ConnID {
	return c.id
}

func (c *Client) pingPeriod() time.Duration {
	return c.pingTimeout * 9 / 10
}

// setupReadConnection arms the inactivity timeout; every pong re-arms it.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pingTimeout)); err != nil {
		c.log.Warn("error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pingTimeout))
	})
}

// classifyReadError logs why the read loop ended and returns the error to
// report to the relay, or nil for an orderly close.
func (c *Client) classifyReadError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.Warn("message exceeded maximum size", "limit", c.maxMessageSize)
		return err
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure) {
		c.log.Debug("client disconnected", "reason", err)
		return nil
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.log.Debug("client connection closed", "reason", err)
		return nil
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		c.log.Warn("unexpected websocket close", "code", closeErr.Code, "error", err)
		return err
	}

	c.log.Warn("websocket read error", "error", err)
	return err
}

func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("rate limit exceeded; discarding message")
		if c.hub.metrics != nil {
			c.hub.metrics.rateLimited.Inc()
		}
		return false
	}
	return true
}

// decodeEvent parses a client frame into an event envelope.
func (c *Client) decodeEvent(raw []byte) (relay.Event, bool) {
	var evt relay.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		c.reportMalformed(fmt.Errorf("%w: %v", relay.ErrMalformedPayload, err))
		return relay.Event{}, false
	}
	if evt.Name == "" {
		c.reportMalformed(fmt.Errorf("%w: missing event name", relay.ErrMalformedPayload))
		return relay.Event{}, false
	}
	return evt, true
}

func (c *Client) reportMalformed(err error) {
	c.log.Warn("invalid message", "error", err)
	if c.hub.metrics != nil {
		c.hub.metrics.Dropped("", err)
	}
}

// forward hands an inbound event to the hub. It returns false once the hub
// has stopped.
func (c *Client) forward(in inboundEvent) bool {
	select {
	case c.hub.inbound <- in:
		return true
	case <-c.hub.ctx.Done():
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if reportErr := c.classifyReadError(err); reportErr != nil {
				c.forward(inboundEvent{client: c, err: reportErr})
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pingTimeout))

		if !c.checkRateLimit() {
			continue
		}

		evt, ok := c.decodeEvent(raw)
		if !ok {
			continue
		}
		if !c.forward(inboundEvent{client: c, event: evt}) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod())
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.handleMessage(message, ok) {
				return
			}
		case <-ticker.C:
			if !c.handlePing() {
				return
			}
		}
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection", "error", err)
	}
}

// handleMessage writes one queued message, or the close frame once the hub
// closed the queue. It returns false when the pump should stop.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.log.Debug("error setting write deadline", "error", err)
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("error writing close message", "error", err)
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing message", "error", err)
		}
		return false
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.log.Debug("error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("error writing ping", "error", err)
		return false
	}
	return true
}
