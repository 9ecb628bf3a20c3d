package signaling

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Participant describes one room member for observability and peer lookup.
type Participant struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	PeerID      string    `json:"peer_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// RoomIndex groups registered connections into rooms and fans out messages.
// A session belongs to at most one room at a time.
type RoomIndex struct {
	mu         sync.RWMutex
	rooms      map[string]map[string]*Conn // roomID -> sessionID -> conn
	memberRoom map[string]string           // sessionID -> roomID
	registry   *Registry
	logger     *zap.Logger
}

// NewRoomIndex creates a room index bound to the registry.
func NewRoomIndex(registry *Registry, logger *zap.Logger) *RoomIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx := &RoomIndex{
		rooms:      make(map[string]map[string]*Conn),
		memberRoom: make(map[string]string),
		registry:   registry,
		logger:     logger,
	}
	registry.attachRooms(idx)
	return idx
}

// JoinRoom adds a registered session to a room and announces it to the other
// members. Returns false when the session has no active connection.
func (idx *RoomIndex) JoinRoom(sessionID, roomID string) bool {
	conn, ok := idx.registry.Get(sessionID)
	if !ok {
		return false
	}

	idx.mu.Lock()
	if prev, in := idx.memberRoom[sessionID]; in && prev != roomID {
		idx.removeLocked(sessionID, prev)
	}
	if idx.rooms[roomID] == nil {
		idx.rooms[roomID] = make(map[string]*Conn)
	}
	idx.rooms[roomID][sessionID] = conn
	idx.memberRoom[sessionID] = roomID
	idx.mu.Unlock()

	idx.BroadcastToRoom(roomID, Envelope{
		Type:   TypeUserJoined,
		UserID: conn.UserID,
		Role:   conn.Role,
		PeerID: conn.PeerID,
	}, sessionID)
	idx.logger.Debug("joined room", zap.String("session_id", redactSessionID(sessionID)), zap.String("room_id", roomID))
	return true
}

// LeaveRoom removes the session from the room, deleting the room when empty,
// and announces the departure to the remaining members.
func (idx *RoomIndex) LeaveRoom(sessionID, roomID string) {
	idx.mu.Lock()
	conn := idx.rooms[roomID][sessionID]
	idx.removeLocked(sessionID, roomID)
	idx.mu.Unlock()

	if conn == nil {
		return
	}
	idx.BroadcastToRoom(roomID, Envelope{
		Type:   TypeUserLeft,
		UserID: conn.UserID,
		Role:   conn.Role,
		PeerID: conn.PeerID,
	}, "")
	idx.logger.Debug("left room", zap.String("session_id", redactSessionID(sessionID)), zap.String("room_id", roomID))
}

// removeLocked drops membership bookkeeping. Caller holds idx.mu.
func (idx *RoomIndex) removeLocked(sessionID, roomID string) {
	if members, ok := idx.rooms[roomID]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(idx.rooms, roomID)
		}
	}
	if idx.memberRoom[sessionID] == roomID {
		delete(idx.memberRoom, sessionID)
	}
}

// dropOnDisconnect removes a disconnected session from its room and announces
// the departure. Called by the registry after the connection is gone.
func (idx *RoomIndex) dropOnDisconnect(conn *Conn) {
	idx.mu.Lock()
	roomID, in := idx.memberRoom[conn.SessionID]
	if in {
		idx.removeLocked(conn.SessionID, roomID)
	}
	idx.mu.Unlock()

	if !in {
		return
	}
	idx.BroadcastToRoom(roomID, Envelope{
		Type:   TypeUserLeft,
		UserID: conn.UserID,
		Role:   conn.Role,
		PeerID: conn.PeerID,
	}, "")
}

// BroadcastToRoom sends a message to every member except excludeSessionID.
// Delivery failures never abort the loop; failed sessions are disconnected
// after it completes.
func (idx *RoomIndex) BroadcastToRoom(roomID string, msg Envelope, excludeSessionID string) {
	msg = stamped(msg)

	idx.mu.RLock()
	targets := make([]*Conn, 0, len(idx.rooms[roomID]))
	for sessionID, conn := range idx.rooms[roomID] {
		if sessionID == excludeSessionID {
			continue
		}
		targets = append(targets, conn)
	}
	idx.mu.RUnlock()

	var failed []*Conn
	for _, conn := range targets {
		if !conn.Sender.Send(msg) {
			failed = append(failed, conn)
		}
	}
	for _, conn := range failed {
		idx.logger.Warn("broadcast delivery failed, disconnecting",
			zap.String("session_id", redactSessionID(conn.SessionID)), zap.String("room_id", roomID))
		idx.registry.Disconnect(conn.SessionID, conn.Sender)
	}
}

// Participants returns the current members of a room.
func (idx *RoomIndex) Participants(roomID string) []Participant {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	members := idx.rooms[roomID]
	out := make([]Participant, 0, len(members))
	for _, conn := range members {
		out = append(out, Participant{
			SessionID:   conn.SessionID,
			UserID:      conn.UserID,
			Role:        conn.Role,
			PeerID:      conn.PeerID,
			ConnectedAt: conn.ConnectedAt,
		})
	}
	return out
}

// CloseRoom removes every member of a room without per-member departure
// events. Used after a session-ended broadcast.
func (idx *RoomIndex) CloseRoom(roomID string) {
	idx.mu.Lock()
	for sessionID := range idx.rooms[roomID] {
		delete(idx.memberRoom, sessionID)
	}
	delete(idx.rooms, roomID)
	idx.mu.Unlock()
}

// memberCounts returns per-room member counts for registry stats.
func (idx *RoomIndex) memberCounts() map[string]int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]int, len(idx.rooms))
	for roomID, members := range idx.rooms {
		out[roomID] = len(members)
	}
	return out
}
