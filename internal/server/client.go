package server

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/config"
	"github.com/Tyrowin/roomrelay/internal/logging"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

// Client binds one WebSocket connection to its relay participant. The read
// pump feeds the hub; the write pump drains the participant's outbound queue.
type Client struct {
	conn        *websocket.Conn
	participant *relay.Participant
	hub         *relay.Hub
	addr        string
	cfg         config.WebSocketConfig
	log         zerolog.Logger
}

// NewClient wraps conn for participant p.
func NewClient(conn *websocket.Conn, hub *relay.Hub, p *relay.Participant, addr string, cfg config.WebSocketConfig, log zerolog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:        conn,
		participant: p,
		hub:         hub,
		addr:        addr,
		cfg:         cfg,
		log: log.With().
			Str(logging.FieldRoomID, p.RoomID()).
			Str(logging.FieldUserID, p.UserID()).
			Str(logging.FieldConnID, p.ID()).
			Str(logging.FieldRemoteAddr, addr).
			Logger(),
	}
}

// Participant returns the relay participant behind this connection.
func (c *Client) Participant() *relay.Participant {
	return c.participant
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.log.Debug().Err(err).Msg("setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.log.Debug().Err(err).Msg("setting read deadline in pong handler")
		}
		return nil
	})
}

// logReadError records why the read loop ended. Every read error is terminal
// for a gorilla connection.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.cfg.MaxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Warn().Err(err).Msg("unexpected websocket close")
	default:
		c.log.Debug().Err(err).Msg("websocket read ended")
	}
}

// readPump forwards every inbound frame to the hub until the connection ends,
// then reaps the participant. A bad frame never ends the loop.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Leave(c.participant)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if _, err := c.hub.Broadcast(ctx, c.participant, rawMessage); err != nil {
			if errors.Is(err, relay.ErrNotOpen) {
				return
			}
			// Malformed frames are logged by the hub and dropped.
			continue
		}
	}
}

// writePump writes queued envelopes, one text frame each, and keeps the
// connection alive with pings. It exits once the outbound queue is closed or
// a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	outbound := c.participant.Outbound()
	for {
		select {
		case message, ok := <-outbound:
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

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("closing connection in writePump")
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.log.Debug().Err(err).Msg("setting write deadline")
		return false
	}

	if !ok {
		c.writeCloseMessage()
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("writing message")
		}
		return false
	}
	return true
}

// writeCloseMessage tells the peer the server is going away.
func (c *Client) writeCloseMessage() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("writing close message")
	}
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.log.Debug().Err(err).Msg("setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("writing ping")
		}
		return false
	}
	return true
}
