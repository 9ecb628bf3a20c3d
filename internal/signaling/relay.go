package signaling

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hirelink/interview-backend/internal/session"
	"github.com/hirelink/interview-backend/pkg/queue"
)

// Relay interprets signaling payloads and forwards them inside a room,
// mutating the session record as a side effect. Persisted state is always
// updated before the matching broadcast, so a partial broadcast failure never
// leaves the record behind what the room saw (delivery itself is
// at-most-once).
type Relay struct {
	registry *Registry
	rooms    *RoomIndex
	store    RoomStore
	sessions *session.Controller
	jobs     *queue.Queue
	logger   *zap.Logger
}

// NewRelay creates a signaling relay. jobs may be nil when no analytics
// queue is configured.
func NewRelay(registry *Registry, rooms *RoomIndex, store RoomStore, sessions *session.Controller, jobs *queue.Queue, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		registry: registry,
		rooms:    rooms,
		store:    store,
		sessions: sessions,
		jobs:     jobs,
		logger:   logger,
	}
}

// HandleMessage routes one decoded peer message. A false return means the
// message could not be applied; the sender's connection stays open either way.
func (r *Relay) HandleMessage(ctx context.Context, from *Conn, roomID string, msg Inbound) bool {
	switch m := msg.(type) {
	case Offer:
		return r.handleOffer(ctx, from, roomID, m)
	case Answer:
		return r.handleAnswer(ctx, from, roomID, m)
	case ICECandidate:
		return r.handleICECandidate(ctx, from, roomID, m)
	case ConnectionState:
		return r.handleConnectionState(ctx, from, roomID, m)
	case QualityReport:
		return r.handleQualityReport(ctx, from, roomID, m)
	case Ping:
		r.registry.MarkPing(from.SessionID)
		return r.registry.SendPersonal(from.SessionID, Envelope{Type: TypePong})
	case Chat:
		r.sessions.Touch(ctx, roomID)
		r.rooms.BroadcastToRoom(roomID, Envelope{
			Type:     TypeChat,
			FromPeer: from.PeerID,
			Text:     m.Text,
		}, from.SessionID)
		return true
	case InterviewAction:
		return r.handleInterviewAction(ctx, from, roomID, m)
	default:
		return false
	}
}

func (r *Relay) handleOffer(ctx context.Context, from *Conn, roomID string, m Offer) bool {
	if err := r.store.SetOffer(ctx, roomID, from.PeerID, m.SDP); err != nil {
		r.logger.Warn("cache offer", zap.String("room_id", roomID), zap.Error(err))
	}
	r.sessions.Touch(ctx, roomID)
	r.rooms.BroadcastToRoom(roomID, Envelope{
		Type:     TypeOffer,
		FromPeer: from.PeerID,
		SDP:      m.SDP,
	}, from.SessionID)
	return true
}

// handleAnswer delivers directly to the target peer when one is named.
// A target that is not in the room drops the answer silently, matching the
// observed handshake behavior; without a target the answer is broadcast.
func (r *Relay) handleAnswer(ctx context.Context, from *Conn, roomID string, m Answer) bool {
	r.sessions.Touch(ctx, roomID)
	env := Envelope{
		Type:     TypeAnswer,
		FromPeer: from.PeerID,
		SDP:      m.SDP,
	}
	if m.TargetPeer == "" {
		r.rooms.BroadcastToRoom(roomID, env, from.SessionID)
		return true
	}
	for _, p := range r.rooms.Participants(roomID) {
		if p.PeerID == m.TargetPeer {
			r.registry.SendPersonal(p.SessionID, env)
			return true
		}
	}
	r.logger.Debug("answer target not in room, dropped",
		zap.String("room_id", roomID), zap.String("target_peer", m.TargetPeer))
	return true
}

func (r *Relay) handleICECandidate(ctx context.Context, from *Conn, roomID string, m ICECandidate) bool {
	if err := r.store.AddCandidate(ctx, roomID, CandidateEntry{
		FromPeer:  from.PeerID,
		Candidate: m.Candidate,
	}); err != nil {
		r.logger.Warn("cache ice candidate", zap.String("room_id", roomID), zap.Error(err))
	}
	r.sessions.Touch(ctx, roomID)
	r.rooms.BroadcastToRoom(roomID, Envelope{
		Type:      TypeICECandidate,
		FromPeer:  from.PeerID,
		Candidate: m.Candidate,
	}, from.SessionID)
	return true
}

func (r *Relay) handleConnectionState(ctx context.Context, from *Conn, roomID string, m ConnectionState) bool {
	var err error
	switch m.State {
	case "connected":
		_, err = r.sessions.MarkConnected(ctx, roomID)
	case "disconnected":
		_, err = r.sessions.MarkPeerError(ctx, roomID, "")
	case "failed":
		errText := m.Error
		if errText == "" {
			errText = "peer connection failed"
		}
		_, err = r.sessions.MarkPeerError(ctx, roomID, errText)
	default:
		r.sessions.Touch(ctx, roomID)
	}
	if err != nil {
		r.logger.Warn("connection-state transition rejected",
			zap.String("room_id", roomID),
			zap.String("state", m.State),
			zap.Error(err))
		return false
	}
	r.rooms.BroadcastToRoom(roomID, Envelope{
		Type:   TypePeerConnectionState,
		PeerID: from.PeerID,
		State:  m.State,
	}, from.SessionID)
	return true
}

// handleQualityReport persists the metrics and appends to the room history;
// quality reports are not relayed to peers.
func (r *Relay) handleQualityReport(ctx context.Context, from *Conn, roomID string, m QualityReport) bool {
	if _, err := r.sessions.RecordQuality(ctx, roomID, session.QualityMetrics{
		ConnectionQuality: m.ConnectionQuality,
		AudioQuality:      m.AudioQuality,
		VideoQuality:      m.VideoQuality,
		LatencyMS:         m.LatencyMS,
	}); err != nil {
		r.logger.Warn("record quality", zap.String("room_id", roomID), zap.Error(err))
		return false
	}
	if err := r.store.AddQualitySample(ctx, roomID, QualitySample{
		FromPeer:          from.PeerID,
		ConnectionQuality: m.ConnectionQuality,
		AudioQuality:      m.AudioQuality,
		VideoQuality:      m.VideoQuality,
		LatencyMS:         m.LatencyMS,
		At:                time.Now(),
	}); err != nil {
		r.logger.Warn("append quality sample", zap.String("room_id", roomID), zap.Error(err))
	}
	return true
}

func (r *Relay) handleInterviewAction(ctx context.Context, from *Conn, roomID string, m InterviewAction) bool {
	var err error
	switch m.Action {
	case "start_recording", "resume":
		_, err = r.sessions.MarkRecording(ctx, roomID)
	case "pause", "stop_recording":
		_, err = r.sessions.MarkPaused(ctx, roomID)
	case "end":
		return r.EndSession(ctx, roomID, "completed") == nil
	default:
		return false
	}
	if err != nil {
		r.logger.Warn("interview action rejected",
			zap.String("room_id", roomID),
			zap.String("action", m.Action),
			zap.Error(err))
		return false
	}
	r.rooms.BroadcastToRoom(roomID, Envelope{
		Type:     TypeInterviewAction,
		FromPeer: from.PeerID,
		Action:   m.Action,
	}, from.SessionID)
	return true
}

// EndSession moves the session to its terminal state, notifies the room and
// tears membership and cached state down. A reason other than "completed" is
// recorded on the session as its last error.
func (r *Relay) EndSession(ctx context.Context, roomID, reason string) error {
	s, err := r.sessions.MarkEnded(ctx, roomID, reason)
	if err != nil {
		return err
	}
	if r.jobs != nil {
		if err := r.jobs.EnqueueSessionAnalytics(ctx, queue.SessionAnalyticsPayload{
			SessionID:   s.ID,
			InterviewID: s.InterviewID,
			RoomID:      roomID,
			Reason:      reason,
			EndedAt:     *s.EndedAt,
		}); err != nil {
			r.logger.Warn("enqueue session analytics", zap.String("room_id", roomID), zap.Error(err))
		}
	}
	r.rooms.BroadcastToRoom(roomID, Envelope{
		Type:   TypeSessionEnded,
		Reason: reason,
	}, "")
	r.rooms.CloseRoom(roomID)
	if err := r.store.Clear(ctx, roomID); err != nil {
		r.logger.Warn("clear room store", zap.String("room_id", roomID), zap.Error(err))
	}
	r.logger.Info("session ended", zap.String("room_id", roomID), zap.String("reason", reason))
	return nil
}

// HandleReconnection counts the attempt, moves the session back toward
// connecting and replays every cached ICE candidate the reconnecting peer did
// not itself originate.
func (r *Relay) HandleReconnection(ctx context.Context, roomID, peerID string) bool {
	if _, err := r.sessions.MarkReconnecting(ctx, roomID); err != nil {
		r.logger.Warn("mark reconnecting", zap.String("room_id", roomID), zap.Error(err))
		return false
	}
	var target *Participant
	for _, p := range r.rooms.Participants(roomID) {
		if p.PeerID == peerID {
			p := p
			target = &p
			break
		}
	}
	if target == nil {
		return false
	}
	candidates, err := r.store.Candidates(ctx, roomID)
	if err != nil {
		r.logger.Warn("load cached candidates", zap.String("room_id", roomID), zap.Error(err))
		return false
	}
	for _, c := range candidates {
		if c.FromPeer == peerID {
			continue
		}
		r.registry.SendPersonal(target.SessionID, Envelope{
			Type:      TypeICECandidate,
			FromPeer:  c.FromPeer,
			Candidate: c.Candidate,
		})
	}
	r.logger.Info("replayed cached candidates",
		zap.String("room_id", roomID),
		zap.String("peer_id", peerID),
		zap.Int("count", len(candidates)))
	return true
}

// ReapIdle force-ends sessions with no activity inside the idle window.
func (r *Relay) ReapIdle(ctx context.Context, idleFor time.Duration) {
	stale, err := r.sessions.ListIdle(ctx, idleFor)
	if err != nil {
		r.logger.Warn("list idle sessions", zap.Error(err))
		return
	}
	for _, s := range stale {
		if err := r.EndSession(ctx, s.RoomID, "timeout"); err != nil {
			r.logger.Warn("reap session", zap.String("room_id", s.RoomID), zap.Error(err))
		}
	}
}
