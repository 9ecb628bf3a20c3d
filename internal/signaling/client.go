package signaling

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hirelink/interview-backend/internal/session"
)

const (
	// pingInterval and pongWait are used for heartbeat.
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	// writeWait bounds a single transport write so one stalled peer cannot
	// stall a room broadcast.
	writeWait = 10 * time.Second

	// closeInvalidSession is the close code for a connect attempt with an
	// invalid or unusable session token.
	closeInvalidSession = 4004
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Client is one websocket participant connection. Send never blocks: a full
// buffer or closed client reports failure, which upstream treats as a
// disconnect signal.
type Client struct {
	sessionID string
	peerID    string
	roomID    string

	registry *Registry
	relay    *Relay
	conn     *websocket.Conn
	send     chan Envelope
	closed   chan struct{}
	once     sync.Once
	logger   *zap.Logger
}

// Send queues an envelope for delivery. False means the connection is gone
// or its buffer is full.
func (c *Client) Send(msg Envelope) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the underlying connection.
func (c *Client) Close() {
	c.once.Do(func() { close(c.closed) })
}

// ServeWs upgrades the connection, validates the session token and peer id,
// registers the client and runs the read loop. Invalid credentials close the
// transport with code 4004; this is the only error that tears the connection
// down at connect time.
func ServeWs(registry *Registry, rooms *RoomIndex, relay *Relay, controller *session.Controller, sendBuffer int, logger *zap.Logger) gin.HandlerFunc {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		peerID := c.Query("peer_id")
		userID := c.Query("user_id")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		ctx := context.Background()
		s, err := controller.GetByToken(ctx, token)
		if err != nil || s.Status.Terminal() {
			closeWith(conn, closeInvalidSession, "invalid session token")
			return
		}
		var role string
		switch peerID {
		case "":
			closeWith(conn, closeInvalidSession, "missing peer id")
			return
		case s.CandidatePeerID:
			role = "candidate"
		case s.InterviewerPeerID:
			role = "interviewer"
		default:
			closeWith(conn, closeInvalidSession, "unknown peer id")
			return
		}

		client := &Client{
			sessionID: token + ":" + peerID,
			peerID:    peerID,
			roomID:    s.RoomID,
			registry:  registry,
			relay:     relay,
			conn:      conn,
			send:      make(chan Envelope, sendBuffer),
			closed:    make(chan struct{}),
			logger:    logger,
		}
		registry.Connect(client, client.sessionID, userID, role, peerID)
		rooms.JoinRoom(client.sessionID, s.RoomID)

		// A peer arriving after the session left connecting is coming back
		// from a drop: replay the room's cached candidates to it.
		if s.Status == session.StatusConnected || s.Status == session.StatusError {
			relay.HandleReconnection(ctx, s.RoomID, peerID)
		}

		go client.writePump()
		client.readPump()
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

func (c *Client) readPump() {
	defer func() {
		// Identity-aware: if a reconnect already replaced this client under
		// the same session id, the replacement stays registered.
		c.registry.Disconnect(c.sessionID, c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.registry.MarkPing(c.sessionID)
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := context.Background()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := Decode(raw)
		if err != nil {
			// Malformed or unknown messages get an error reply; the
			// connection itself stays up.
			reason := "malformed message"
			if errors.Is(err, ErrUnknownType) {
				reason = "unknown message type"
			}
			c.Send(stamped(Envelope{Type: TypeError, Message: reason}))
			c.logger.Debug("rejected inbound message",
				zap.String("session_id", redactSessionID(c.sessionID)), zap.Error(err))
			continue
		}

		from, ok := c.registry.Get(c.sessionID)
		if !ok {
			break
		}
		c.relay.HandleMessage(ctx, from, c.roomID, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
