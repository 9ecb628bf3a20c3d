package signaling

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sender delivers one outbound envelope to a participant. A false return
// means the transport write failed; callers treat that as a disconnect
// signal rather than an error to propagate.
type Sender interface {
	Send(msg Envelope) bool
	Close()
}

// Conn is the in-memory record of one live participant connection. Conns are
// created on connect and destroyed on disconnect; other components only read
// them.
type Conn struct {
	Sender      Sender
	SessionID   string
	UserID      string
	Role        string
	PeerID      string
	ConnectedAt time.Time
	LastPing    time.Time
}

// Stats is a point-in-time snapshot of the registry for observability.
type Stats struct {
	Connections int            `json:"connections"`
	Rooms       int            `json:"rooms"`
	Users       int            `json:"users"`
	RoomMembers map[string]int `json:"room_members"`
}

// Registry tracks live connections keyed by session id. A second Connect
// under the same session id overwrites the first (last write wins).
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	rooms  *RoomIndex
	logger *zap.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{conns: make(map[string]*Conn), logger: logger}
}

// attachRooms wires the room index so Disconnect can drop room membership.
func (r *Registry) attachRooms(rooms *RoomIndex) {
	r.rooms = rooms
}

// Connect registers a connection under sessionID, replacing any prior entry.
func (r *Registry) Connect(sender Sender, sessionID, userID, role, peerID string) {
	now := time.Now()
	r.mu.Lock()
	prev := r.conns[sessionID]
	r.conns[sessionID] = &Conn{
		Sender:      sender,
		SessionID:   sessionID,
		UserID:      userID,
		Role:        role,
		PeerID:      peerID,
		ConnectedAt: now,
		LastPing:    now,
	}
	r.mu.Unlock()

	if prev != nil {
		prev.Sender.Close()
	}
	r.logger.Debug("connection registered",
		zap.String("session_id", redactSessionID(sessionID)),
		zap.String("user_id", userID),
		zap.String("role", role))
}

// Get returns the connection for sessionID.
func (r *Registry) Get(sessionID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[sessionID]
	return c, ok
}

// Disconnect removes the connection and its room membership, broadcasting a
// user-left event to the room it was in. Idempotent. sender must be the
// currently registered one: session ids are stable across reconnects of the
// same peer, so a stale connection's teardown must not remove the
// replacement that superseded it.
func (r *Registry) Disconnect(sessionID string, sender Sender) {
	r.mu.Lock()
	conn, ok := r.conns[sessionID]
	if ok && conn.Sender != sender {
		r.mu.Unlock()
		r.logger.Debug("stale disconnect ignored", zap.String("session_id", redactSessionID(sessionID)))
		return
	}
	if ok {
		delete(r.conns, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	conn.Sender.Close()
	if r.rooms != nil {
		r.rooms.dropOnDisconnect(conn)
	}
	r.logger.Debug("connection removed", zap.String("session_id", redactSessionID(sessionID)))
}

// SendPersonal delivers a message to exactly one connection. A failed write
// disconnects the session as a self-healing side effect.
func (r *Registry) SendPersonal(sessionID string, msg Envelope) bool {
	conn, ok := r.Get(sessionID)
	if !ok {
		return false
	}
	if !conn.Sender.Send(stamped(msg)) {
		r.logger.Warn("personal send failed, disconnecting", zap.String("session_id", redactSessionID(sessionID)))
		r.Disconnect(sessionID, conn.Sender)
		return false
	}
	return true
}

// redactSessionID trims the token half of a session id for log output; the
// token is a bearer credential and must not appear in logs whole.
func redactSessionID(id string) string {
	if i := strings.IndexByte(id, ':'); i > 8 {
		return id[:8] + "..." + id[i:]
	}
	return id
}

// MarkPing records keepalive activity for a connection.
func (r *Registry) MarkPing(sessionID string) {
	r.mu.Lock()
	if c, ok := r.conns[sessionID]; ok {
		c.LastPing = time.Now()
	}
	r.mu.Unlock()
}

// Stats returns connection, room and distinct-user counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	users := make(map[string]struct{}, len(r.conns))
	for _, c := range r.conns {
		users[c.UserID] = struct{}{}
	}
	connections := len(r.conns)
	r.mu.RUnlock()

	st := Stats{
		Connections: connections,
		Users:       len(users),
		RoomMembers: map[string]int{},
	}
	if r.rooms != nil {
		st.RoomMembers = r.rooms.memberCounts()
		st.Rooms = len(st.RoomMembers)
	}
	return st
}
