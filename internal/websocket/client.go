// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package websocket

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/costboard/gateway/internal/auth"
	"github.com/costboard/gateway/internal/gateway"
	"github.com/costboard/gateway/internal/logging"
	"github.com/costboard/gateway/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB
)

// Config tunes per-connection behavior. Zero values fall back to defaults.
type Config struct {
	// SendBuffer is the outbound frame buffer per connection. A full buffer
	// drops frames rather than block the gateway.
	SendBuffer int
	// ReadLimit caps the size of inbound frames.
	ReadLimit int64
	// TypingRate and TypingBurst bound how fast one connection may emit
	// typing signals. Excess signals are silently dropped.
	TypingRate  float64
	TypingBurst int
}

const (
	defaultSendBuffer  = 256
	defaultTypingRate  = 5
	defaultTypingBurst = 10
)

// Client wraps one live socket: it owns the read and write pumps and
// translates between wire frames and gateway operations. The gateway never
// touches the socket; it only enqueues envelopes via TrySend.
type Client struct {
	id       string
	identity *auth.Identity
	endpoint string

	conn *websocket.Conn
	gw   *gateway.Gateway
	send chan *gateway.Envelope

	typing *rate.Limiter
	log    zerolog.Logger
}

// NewClient wraps an upgraded connection for a verified identity.
func NewClient(gw *gateway.Gateway, conn *websocket.Conn, identity *auth.Identity, endpoint string, cfg Config) *Client {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = maxMessageSize
	}
	if cfg.TypingRate <= 0 {
		cfg.TypingRate = defaultTypingRate
	}
	if cfg.TypingBurst <= 0 {
		cfg.TypingBurst = defaultTypingBurst
	}

	id := uuid.NewString()
	c := &Client{
		id:       id,
		identity: identity,
		endpoint: endpoint,
		conn:     conn,
		gw:       gw,
		send:     make(chan *gateway.Envelope, cfg.SendBuffer),
		typing:   rate.NewLimiter(rate.Limit(cfg.TypingRate), cfg.TypingBurst),
		log: logging.WithComponent("websocket").With().
			Str("connection_id", id).
			Str("user_id", identity.UserID).
			Str("endpoint", endpoint).
			Logger(),
	}
	conn.SetReadLimit(cfg.ReadLimit)
	return c
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string { return c.id }

// UserID returns the owning user's id.
func (c *Client) UserID() string { return c.identity.UserID }

// Endpoint returns which channel this connection serves.
func (c *Client) Endpoint() string { return c.endpoint }

// TrySend enqueues an envelope without blocking. It reports false when the
// send buffer is full; the frame is dropped for this connection only.
func (c *Client) TrySend(env *gateway.Envelope) bool {
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// Start registers the connection with the gateway and begins both pumps.
func (c *Client) Start() {
	c.gw.Connect(c)
	go c.writePump()
	go c.readPump()
}

// readPump pumps inbound frames into the command dispatcher. On any read
// error the connection is torn down; Disconnect is idempotent, so a
// duplicate close event from the transport is harmless.
func (c *Client) readPump() {
	defer func() {
		c.gw.Disconnect(c.id)
		_ = c.conn.Close()
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				metrics.WSErrors.WithLabelValues("read").Inc()
				c.log.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		c.handleCommand(data)
	}
}

// writePump serializes outbound envelopes onto the socket and keeps the
// connection alive with pings. It owns all writes; nothing else may touch
// the socket's write side.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				metrics.WSErrors.WithLabelValues("encode").Inc()
				c.log.Error().Err(err).Str("event", string(env.Event)).Msg("failed to encode frame")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				metrics.WSErrors.WithLabelValues("write").Inc()
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
