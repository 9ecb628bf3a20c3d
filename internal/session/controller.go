package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/hirelink/interview-backend/internal/interviews"
)

var (
	// ErrNotJoinable indicates a join attempt on a session that is not in
	// waiting or connecting state.
	ErrNotJoinable = errors.New("session is not joinable")
	// ErrInvalidTransition indicates a status change the transition table forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// RoleCandidate joins the candidate peer slot; every other role joins the
// counterpart slot.
const RoleCandidate = "candidate"

// InterviewLookup is the read-only contract on the interview store the
// controller needs: existence plus the recording flag and duration.
type InterviewLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*interviews.Interview, error)
}

// SessionConfig is the interview-derived configuration in a join descriptor.
type SessionConfig struct {
	RecordingEnabled bool `json:"recording_enabled"`
	DurationMinutes  int  `json:"duration_minutes"`
}

// JoinInfo is the descriptor returned to a peer that joined a session.
type JoinInfo struct {
	SessionID  uuid.UUID          `json:"session_id"`
	RoomID     string             `json:"room_id"`
	PeerID     string             `json:"peer_id"`
	Role       string             `json:"role"`
	ICEServers []webrtc.ICEServer `json:"ice_servers"`
	Config     SessionConfig      `json:"session_config"`
}

// lockStripes bounds the keyed-mutex table that serializes per-session transitions.
const lockStripes = 64

// Controller owns every mutation of Session records. Transitions for the same
// room are serialized through a striped lock; persistence happens inside that
// lock but never under the registry or room-index locks.
type Controller struct {
	repo       Repository
	interviews InterviewLookup
	iceServers []webrtc.ICEServer
	logger     *zap.Logger
	locks      [lockStripes]sync.Mutex
}

// NewController creates a session lifecycle controller.
func NewController(repo Repository, lookup InterviewLookup, iceServers []webrtc.ICEServer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{repo: repo, interviews: lookup, iceServers: iceServers, logger: logger}
}

func (c *Controller) lockFor(roomID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	return &c.locks[h.Sum32()%lockStripes]
}

// newSessionToken returns an opaque, unguessable url-safe token.
func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateSession creates a WAITING session for an interview. Fails when the
// interview does not exist.
func (c *Controller) CreateSession(ctx context.Context, interviewID uuid.UUID) (*Session, error) {
	if _, err := c.interviews.GetByID(ctx, interviewID); err != nil {
		return nil, err
	}
	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	s := &Session{
		InterviewID: interviewID,
		Token:       token,
		RoomID:      "room-" + uuid.NewString(),
		Status:      StatusWaiting,
	}
	if err := c.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	c.logger.Info("session created",
		zap.String("session_id", s.ID.String()),
		zap.String("room_id", s.RoomID),
		zap.String("interview_id", interviewID.String()))
	return s, nil
}

// JoinSession assigns a fresh peer id to the role's slot and returns the join
// descriptor. Only sessions in waiting or connecting state are joinable; the
// first join moves waiting to connecting.
func (c *Controller) JoinSession(ctx context.Context, token, userID, role string) (*JoinInfo, error) {
	s, err := c.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	mu := c.lockFor(s.RoomID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock so concurrent joins see each other's slot writes.
	s, err = c.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusWaiting && s.Status != StatusConnecting {
		return nil, ErrNotJoinable
	}

	peerID := "peer-" + uuid.NewString()
	if role == RoleCandidate {
		s.CandidatePeerID = peerID
	} else {
		s.InterviewerPeerID = peerID
	}
	now := time.Now()
	if s.Status == StatusWaiting {
		s.Status = StatusConnecting
		s.JoinedAt = &now
	}
	s.LastActivityAt = now
	if err := c.repo.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("persist join: %w", err)
	}

	iv, err := c.interviews.GetByID(ctx, s.InterviewID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("peer joined session",
		zap.String("room_id", s.RoomID),
		zap.String("peer_id", peerID),
		zap.String("user_id", userID),
		zap.String("role", role))
	return &JoinInfo{
		SessionID:  s.ID,
		RoomID:     s.RoomID,
		PeerID:     peerID,
		Role:       role,
		ICEServers: c.iceServers,
		Config: SessionConfig{
			RecordingEnabled: iv.RecordingEnabled,
			DurationMinutes:  iv.DurationMinutes,
		},
	}, nil
}

// mutate loads the session for roomID, applies fn under the room's lock and
// persists the result. fn returning an error aborts without persisting.
func (c *Controller) mutate(ctx context.Context, roomID string, fn func(*Session) error) (*Session, error) {
	mu := c.lockFor(roomID)
	mu.Lock()
	defer mu.Unlock()

	s, err := c.repo.GetByRoomID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	s.LastActivityAt = time.Now()
	if err := c.repo.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return s, nil
}

// transition applies a checked status change.
func (c *Controller) transition(s *Session, to Status) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	return nil
}

// MarkConnected records a successful peer connection. When the session was
// connecting, the started-at timestamp is set.
func (c *Controller) MarkConnected(ctx context.Context, roomID string) (*Session, error) {
	return c.mutate(ctx, roomID, func(s *Session) error {
		wasConnecting := s.Status == StatusConnecting
		if err := c.transition(s, StatusConnected); err != nil {
			return err
		}
		if wasConnecting && s.StartedAt == nil {
			now := time.Now()
			s.StartedAt = &now
		}
		return nil
	})
}

// MarkPeerError records a disconnected or failed peer connection state. The
// error count is incremented; failures also record the error text.
func (c *Controller) MarkPeerError(ctx context.Context, roomID, errText string) (*Session, error) {
	return c.mutate(ctx, roomID, func(s *Session) error {
		if err := c.transition(s, StatusError); err != nil {
			return err
		}
		s.ErrorCount++
		if errText != "" {
			s.LastError = errText
		}
		return nil
	})
}

// MarkRecording moves a connected or paused session into recording.
func (c *Controller) MarkRecording(ctx context.Context, roomID string) (*Session, error) {
	return c.mutate(ctx, roomID, func(s *Session) error {
		return c.transition(s, StatusRecording)
	})
}

// MarkPaused pauses a connected or recording session.
func (c *Controller) MarkPaused(ctx context.Context, roomID string) (*Session, error) {
	return c.mutate(ctx, roomID, func(s *Session) error {
		return c.transition(s, StatusPaused)
	})
}

// MarkReconnecting counts a reconnection attempt and, where the transition
// table allows it, moves the session back to connecting. Attempts are not
// capped here; the business layer may impose a cap.
func (c *Controller) MarkReconnecting(ctx context.Context, roomID string) (*Session, error) {
	return c.mutate(ctx, roomID, func(s *Session) error {
		s.ReconnectAttempts++
		if CanTransition(s.Status, StatusConnecting) {
			s.Status = StatusConnecting
		}
		return nil
	})
}

// MarkEnded moves the session to its terminal ended state. A reason other
// than "completed" is recorded as the last error. Sessions that never reached
// connected take the cancelled edge instead, since the table has no direct
// path from waiting or connecting to ended.
func (c *Controller) MarkEnded(ctx context.Context, roomID, reason string) (*Session, error) {
	return c.mutate(ctx, roomID, func(s *Session) error {
		switch {
		case CanTransition(s.Status, StatusEnded):
			s.Status = StatusEnded
		case CanTransition(s.Status, StatusCancelled):
			s.Status = StatusCancelled
		default:
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusEnded)
		}
		now := time.Now()
		s.EndedAt = &now
		if reason != "" && reason != "completed" {
			s.LastError = reason
		}
		return nil
	})
}

// CancelSession moves a not-yet-connected (or errored) session to cancelled.
func (c *Controller) CancelSession(ctx context.Context, roomID string) (*Session, error) {
	return c.mutate(ctx, roomID, func(s *Session) error {
		if err := c.transition(s, StatusCancelled); err != nil {
			return err
		}
		now := time.Now()
		s.EndedAt = &now
		return nil
	})
}

// RecordQuality persists a peer quality report, last write wins.
func (c *Controller) RecordQuality(ctx context.Context, roomID string, q QualityMetrics) (*Session, error) {
	return c.mutate(ctx, roomID, func(s *Session) error {
		s.ConnectionQuality = q.ConnectionQuality
		s.AudioQuality = q.AudioQuality
		s.VideoQuality = q.VideoQuality
		s.LatencyMS = q.LatencyMS
		return nil
	})
}

// GetByRoomID returns the session for a room.
func (c *Controller) GetByRoomID(ctx context.Context, roomID string) (*Session, error) {
	return c.repo.GetByRoomID(ctx, roomID)
}

// GetByToken returns the session for a token.
func (c *Controller) GetByToken(ctx context.Context, token string) (*Session, error) {
	return c.repo.GetByToken(ctx, token)
}

// Touch bumps the session's last-activity timestamp.
func (c *Controller) Touch(ctx context.Context, roomID string) {
	if err := c.repo.TouchActivity(ctx, roomID); err != nil && !errors.Is(err, ErrNotFound) {
		c.logger.Warn("touch activity", zap.String("room_id", roomID), zap.Error(err))
	}
}

// ListIdle returns live sessions whose last activity is older than idleFor.
func (c *Controller) ListIdle(ctx context.Context, idleFor time.Duration) ([]Session, error) {
	return c.repo.ListIdle(ctx, time.Now().Add(-idleFor))
}
