package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hirelink/interview-backend/internal/interviews"
)

type stubInterviews struct {
	byID map[uuid.UUID]*interviews.Interview
}

func (s *stubInterviews) GetByID(_ context.Context, id uuid.UUID) (*interviews.Interview, error) {
	iv, ok := s.byID[id]
	if !ok {
		return nil, interviews.ErrNotFound
	}
	return iv, nil
}

func newTestController(t *testing.T) (*Controller, uuid.UUID) {
	t.Helper()
	interviewID := uuid.New()
	lookup := &stubInterviews{byID: map[uuid.UUID]*interviews.Interview{
		interviewID: {
			ID:               interviewID,
			Title:            "Backend Engineer Screen",
			RecordingEnabled: true,
			DurationMinutes:  45,
		},
	}}
	ice := []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	return NewController(NewMemoryRepository(), lookup, ice, zap.NewNop()), interviewID
}

func TestCreateSession(t *testing.T) {
	c, interviewID := newTestController(t)
	ctx := context.Background()

	s, err := c.CreateSession(ctx, interviewID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, s.Status)
	assert.NotEmpty(t, s.Token)
	assert.NotEmpty(t, s.RoomID)

	s2, err := c.CreateSession(ctx, interviewID)
	require.NoError(t, err)
	assert.NotEqual(t, s.Token, s2.Token)
	assert.NotEqual(t, s.RoomID, s2.RoomID)
}

func TestCreateSessionUnknownInterview(t *testing.T) {
	c, _ := newTestController(t)
	_, err := c.CreateSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, interviews.ErrNotFound)
}

func TestJoinSessionAssignsSlots(t *testing.T) {
	c, interviewID := newTestController(t)
	ctx := context.Background()
	s, err := c.CreateSession(ctx, interviewID)
	require.NoError(t, err)

	cand, err := c.JoinSession(ctx, s.Token, "cand1", "candidate")
	require.NoError(t, err)
	assert.Equal(t, s.RoomID, cand.RoomID)
	assert.NotEmpty(t, cand.PeerID)
	assert.NotEmpty(t, cand.ICEServers)
	assert.True(t, cand.Config.RecordingEnabled)
	assert.Equal(t, 45, cand.Config.DurationMinutes)

	after, err := c.GetByToken(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusConnecting, after.Status)
	assert.Equal(t, cand.PeerID, after.CandidatePeerID)
	require.NotNil(t, after.JoinedAt)

	ai, err := c.JoinSession(ctx, s.Token, "ai1", "ai_interviewer")
	require.NoError(t, err)
	assert.NotEqual(t, cand.PeerID, ai.PeerID)

	after, err = c.GetByToken(ctx, s.Token)
	require.NoError(t, err)
	// Second join does not re-trigger the waiting -> connecting edge and
	// leaves the candidate slot untouched.
	assert.Equal(t, StatusConnecting, after.Status)
	assert.Equal(t, cand.PeerID, after.CandidatePeerID)
	assert.Equal(t, ai.PeerID, after.InterviewerPeerID)
}

func TestJoinSessionIssuesFreshPeerIDs(t *testing.T) {
	c, interviewID := newTestController(t)
	ctx := context.Background()
	s, _ := c.CreateSession(ctx, interviewID)

	first, err := c.JoinSession(ctx, s.Token, "cand1", "candidate")
	require.NoError(t, err)
	second, err := c.JoinSession(ctx, s.Token, "cand1", "candidate")
	require.NoError(t, err)
	assert.NotEqual(t, first.PeerID, second.PeerID)
}

func TestJoinSessionRejections(t *testing.T) {
	c, interviewID := newTestController(t)
	ctx := context.Background()

	_, err := c.JoinSession(ctx, "no-such-token", "u1", "candidate")
	assert.ErrorIs(t, err, ErrNotFound)

	s, _ := c.CreateSession(ctx, interviewID)
	_, err = c.JoinSession(ctx, s.Token, "cand1", "candidate")
	require.NoError(t, err)
	_, err = c.MarkConnected(ctx, s.RoomID)
	require.NoError(t, err)

	_, err = c.JoinSession(ctx, s.Token, "late", "interviewer")
	assert.ErrorIs(t, err, ErrNotJoinable)
}

func TestMarkConnectedSetsStartedAt(t *testing.T) {
	c, interviewID := newTestController(t)
	ctx := context.Background()
	s, _ := c.CreateSession(ctx, interviewID)
	_, err := c.JoinSession(ctx, s.Token, "cand1", "candidate")
	require.NoError(t, err)

	got, err := c.MarkConnected(ctx, s.RoomID)
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, got.Status)
	require.NotNil(t, got.StartedAt)

	// A second connected report is an invalid transition.
	_, err = c.MarkConnected(ctx, s.RoomID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkPeerError(t *testing.T) {
	c, interviewID := newTestController(t)
	ctx := context.Background()
	s, _ := c.CreateSession(ctx, interviewID)
	_, _ = c.JoinSession(ctx, s.Token, "cand1", "candidate")
	_, err := c.MarkConnected(ctx, s.RoomID)
	require.NoError(t, err)

	got, err := c.MarkPeerError(ctx, s.RoomID, "ice failure")
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, 1, got.ErrorCount)
	assert.Equal(t, "ice failure", got.LastError)
}

func TestMarkReconnecting(t *testing.T) {
	c, interviewID := newTestController(t)
	ctx := context.Background()
	s, _ := c.CreateSession(ctx, interviewID)
	_, _ = c.JoinSession(ctx, s.Token, "cand1", "candidate")
	_, _ = c.MarkConnected(ctx, s.RoomID)
	_, err := c.MarkPeerError(ctx, s.RoomID, "drop")
	require.NoError(t, err)

	got, err := c.MarkReconnecting(ctx, s.RoomID)
	require.NoError(t, err)
	assert.Equal(t, StatusConnecting, got.Status)
	assert.Equal(t, 1, got.ReconnectAttempts)

	// Attempts are uncapped: counting continues even where the table has no
	// edge back to connecting.
	_, _ = c.MarkConnected(ctx, s.RoomID)
	got, err = c.MarkReconnecting(ctx, s.RoomID)
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, got.Status)
	assert.Equal(t, 2, got.ReconnectAttempts)
}

func TestMarkEnded(t *testing.T) {
	c, interviewID := newTestController(t)
	ctx := context.Background()

	s, _ := c.CreateSession(ctx, interviewID)
	_, _ = c.JoinSession(ctx, s.Token, "cand1", "candidate")
	_, _ = c.MarkConnected(ctx, s.RoomID)

	got, err := c.MarkEnded(ctx, s.RoomID, "completed")
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, got.Status)
	assert.Empty(t, got.LastError)
	require.NotNil(t, got.EndedAt)

	_, err = c.MarkEnded(ctx, s.RoomID, "completed")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkEndedRecordsReason(t *testing.T) {
	c, interviewID := newTestController(t)
	ctx := context.Background()
	s, _ := c.CreateSession(ctx, interviewID)
	_, _ = c.JoinSession(ctx, s.Token, "cand1", "candidate")
	_, _ = c.MarkConnected(ctx, s.RoomID)

	got, err := c.MarkEnded(ctx, s.RoomID, "technical_issues")
	require.NoError(t, err)
	assert.Equal(t, "technical_issues", got.LastError)
}

func TestMarkEndedBeforeConnectCancels(t *testing.T) {
	c, interviewID := newTestController(t)
	ctx := context.Background()
	s, _ := c.CreateSession(ctx, interviewID)

	got, err := c.MarkEnded(ctx, s.RoomID, "timeout")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "timeout", got.LastError)
}

func TestRecordQualityLastWriteWins(t *testing.T) {
	c, interviewID := newTestController(t)
	ctx := context.Background()
	s, _ := c.CreateSession(ctx, interviewID)

	_, err := c.RecordQuality(ctx, s.RoomID, QualityMetrics{ConnectionQuality: 0.4, LatencyMS: 120})
	require.NoError(t, err)
	got, err := c.RecordQuality(ctx, s.RoomID, QualityMetrics{ConnectionQuality: 0.9, AudioQuality: 0.8, VideoQuality: 0.7, LatencyMS: 40})
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.ConnectionQuality)
	assert.Equal(t, 0.8, got.AudioQuality)
	assert.Equal(t, 0.7, got.VideoQuality)
	assert.Equal(t, 40, got.LatencyMS)
}

func TestListIdle(t *testing.T) {
	repo := NewMemoryRepository()
	interviewID := uuid.New()
	lookup := &stubInterviews{byID: map[uuid.UUID]*interviews.Interview{
		interviewID: {ID: interviewID, DurationMinutes: 30},
	}}
	c := NewController(repo, lookup, nil, zap.NewNop())
	ctx := context.Background()

	stale, err := c.CreateSession(ctx, interviewID)
	require.NoError(t, err)
	fresh, err := c.CreateSession(ctx, interviewID)
	require.NoError(t, err)

	// Backdate the stale session's activity.
	s, err := repo.GetByRoomID(ctx, stale.RoomID)
	require.NoError(t, err)
	s.LastActivityAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, repo.Update(ctx, s))

	idle, err := c.ListIdle(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, stale.RoomID, idle[0].RoomID)
	assert.NotEqual(t, fresh.RoomID, idle[0].RoomID)
}
