package signaling

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hirelink/interview-backend/internal/interviews"
	"github.com/hirelink/interview-backend/internal/session"
)

type stubInterviews struct {
	iv *interviews.Interview
}

func (s *stubInterviews) GetByID(_ context.Context, id uuid.UUID) (*interviews.Interview, error) {
	if s.iv == nil || s.iv.ID != id {
		return nil, interviews.ErrNotFound
	}
	return s.iv, nil
}

type relayRig struct {
	registry   *Registry
	rooms      *RoomIndex
	store      *MemoryStore
	repo       *session.MemoryRepository
	controller *session.Controller
	relay      *Relay
	token      string
	roomID     string
}

type testPeer struct {
	sessionID string
	peerID    string
	sender    *fakeSender
	conn      *Conn
}

func newRelayRig(t *testing.T) *relayRig {
	t.Helper()
	interviewID := uuid.New()
	lookup := &stubInterviews{iv: &interviews.Interview{
		ID:               interviewID,
		Title:            "Systems Interview",
		RecordingEnabled: true,
		DurationMinutes:  60,
	}}
	repo := session.NewMemoryRepository()
	controller := session.NewController(repo, lookup, nil, zap.NewNop())

	s, err := controller.CreateSession(context.Background(), interviewID)
	require.NoError(t, err)

	registry := NewRegistry(zap.NewNop())
	rooms := NewRoomIndex(registry, zap.NewNop())
	store := NewMemoryStore()
	relay := NewRelay(registry, rooms, store, controller, nil, zap.NewNop())

	return &relayRig{
		registry:   registry,
		rooms:      rooms,
		store:      store,
		repo:       repo,
		controller: controller,
		relay:      relay,
		token:      s.Token,
		roomID:     s.RoomID,
	}
}

// joinPeer performs the full join: lifecycle slot assignment, registry
// connect and room membership.
func (r *relayRig) joinPeer(t *testing.T, userID, role string) *testPeer {
	t.Helper()
	info, err := r.controller.JoinSession(context.Background(), r.token, userID, role)
	require.NoError(t, err)

	sessionID := r.token + ":" + info.PeerID
	sender := &fakeSender{}
	r.registry.Connect(sender, sessionID, userID, role, info.PeerID)
	require.True(t, r.rooms.JoinRoom(sessionID, r.roomID))

	conn, ok := r.registry.Get(sessionID)
	require.True(t, ok)
	return &testPeer{sessionID: sessionID, peerID: info.PeerID, sender: sender, conn: conn}
}

// addObserver registers an extra room member without a lifecycle slot.
func (r *relayRig) addObserver(t *testing.T, userID string) *testPeer {
	t.Helper()
	sessionID := "obs:" + userID
	peerID := "peer-obs-" + userID
	sender := &fakeSender{}
	r.registry.Connect(sender, sessionID, userID, "observer", peerID)
	require.True(t, r.rooms.JoinRoom(sessionID, r.roomID))
	conn, _ := r.registry.Get(sessionID)
	return &testPeer{sessionID: sessionID, peerID: peerID, sender: sender, conn: conn}
}

func TestOfferRoundTrip(t *testing.T) {
	rig := newRelayRig(t)
	ctx := context.Background()
	a := rig.joinPeer(t, "cand1", "candidate")
	b := rig.joinPeer(t, "ai1", "ai_interviewer")
	c := rig.addObserver(t, "obs1")

	ok := rig.relay.HandleMessage(ctx, a.conn, rig.roomID, Offer{SDP: "v=0 offer-sdp"})
	require.True(t, ok)

	// Exactly the N-1 other members receive it, each with the sender's peer
	// id and the original SDP.
	for _, p := range []*testPeer{b, c} {
		offers := p.sender.ofType(TypeOffer)
		require.Len(t, offers, 1)
		assert.Equal(t, a.peerID, offers[0].FromPeer)
		assert.Equal(t, "v=0 offer-sdp", offers[0].SDP)
		assert.NotEmpty(t, offers[0].Timestamp)
	}
	assert.Empty(t, a.sender.ofType(TypeOffer))

	cached, err := rig.store.Offers(ctx, rig.roomID)
	require.NoError(t, err)
	assert.Equal(t, "v=0 offer-sdp", cached[a.peerID])
}

func TestICECandidateFanout(t *testing.T) {
	rig := newRelayRig(t)
	ctx := context.Background()
	a := rig.joinPeer(t, "cand1", "candidate")
	b := rig.joinPeer(t, "ai1", "ai_interviewer")
	c := rig.addObserver(t, "obs1")

	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 54400 typ host"}`)
	require.True(t, rig.relay.HandleMessage(ctx, a.conn, rig.roomID, ICECandidate{Candidate: cand}))

	for _, p := range []*testPeer{b, c} {
		got := p.sender.ofType(TypeICECandidate)
		require.Len(t, got, 1)
		assert.Equal(t, a.peerID, got[0].FromPeer)
		assert.JSONEq(t, string(cand), string(got[0].Candidate))
	}
	assert.Empty(t, a.sender.ofType(TypeICECandidate))

	pending, err := rig.store.Candidates(ctx, rig.roomID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.peerID, pending[0].FromPeer)
}

func TestAnswerDirectDelivery(t *testing.T) {
	rig := newRelayRig(t)
	ctx := context.Background()
	a := rig.joinPeer(t, "cand1", "candidate")
	b := rig.joinPeer(t, "ai1", "ai_interviewer")
	c := rig.addObserver(t, "obs1")

	ok := rig.relay.HandleMessage(ctx, b.conn, rig.roomID, Answer{SDP: "v=0 answer", TargetPeer: a.peerID})
	require.True(t, ok)

	got := a.sender.ofType(TypeAnswer)
	require.Len(t, got, 1)
	assert.Equal(t, b.peerID, got[0].FromPeer)
	assert.Equal(t, "v=0 answer", got[0].SDP)
	assert.Empty(t, c.sender.ofType(TypeAnswer))
}

func TestAnswerUnknownTargetDroppedSilently(t *testing.T) {
	rig := newRelayRig(t)
	ctx := context.Background()
	a := rig.joinPeer(t, "cand1", "candidate")
	b := rig.joinPeer(t, "ai1", "ai_interviewer")

	ok := rig.relay.HandleMessage(ctx, b.conn, rig.roomID, Answer{SDP: "v=0 answer", TargetPeer: "peer-ghost"})
	assert.True(t, ok, "unmatched target is dropped without surfacing an error")
	assert.Empty(t, a.sender.ofType(TypeAnswer))
	assert.Empty(t, b.sender.ofType(TypeAnswer))
}

func TestAnswerWithoutTargetBroadcasts(t *testing.T) {
	rig := newRelayRig(t)
	ctx := context.Background()
	a := rig.joinPeer(t, "cand1", "candidate")
	b := rig.joinPeer(t, "ai1", "ai_interviewer")

	require.True(t, rig.relay.HandleMessage(ctx, b.conn, rig.roomID, Answer{SDP: "v=0 answer"}))
	require.Len(t, a.sender.ofType(TypeAnswer), 1)
	assert.Empty(t, b.sender.ofType(TypeAnswer))
}

func TestConnectionStateConnected(t *testing.T) {
	rig := newRelayRig(t)
	ctx := context.Background()
	a := rig.joinPeer(t, "cand1", "candidate")
	b := rig.joinPeer(t, "ai1", "ai_interviewer")

	require.True(t, rig.relay.HandleMessage(ctx, a.conn, rig.roomID, ConnectionState{State: "connected"}))

	s, err := rig.controller.GetByRoomID(ctx, rig.roomID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusConnected, s.Status)
	require.NotNil(t, s.StartedAt)

	states := b.sender.ofType(TypePeerConnectionState)
	require.Len(t, states, 1)
	assert.Equal(t, a.peerID, states[0].PeerID)
	assert.Equal(t, "connected", states[0].State)
	assert.Empty(t, a.sender.ofType(TypePeerConnectionState))

	// A duplicate connected report is rejected before any broadcast.
	assert.False(t, rig.relay.HandleMessage(ctx, b.conn, rig.roomID, ConnectionState{State: "connected"}))
	require.Len(t, b.sender.ofType(TypePeerConnectionState), 1)
}

func TestConnectionStateFailed(t *testing.T) {
	rig := newRelayRig(t)
	ctx := context.Background()
	a := rig.joinPeer(t, "cand1", "candidate")
	rig.joinPeer(t, "ai1", "ai_interviewer")
	require.True(t, rig.relay.HandleMessage(ctx, a.conn, rig.roomID, ConnectionState{State: "connected"}))

	require.True(t, rig.relay.HandleMessage(ctx, a.conn, rig.roomID, ConnectionState{State: "failed", Error: "dtls timeout"}))

	s, err := rig.controller.GetByRoomID(ctx, rig.roomID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusError, s.Status)
	assert.Equal(t, 1, s.ErrorCount)
	assert.Equal(t, "dtls timeout", s.LastError)
}

func TestQualityReportPersistsWithoutBroadcast(t *testing.T) {
	rig := newRelayRig(t)
	ctx := context.Background()
	a := rig.joinPeer(t, "cand1", "candidate")
	b := rig.joinPeer(t, "ai1", "ai_interviewer")

	report := QualityReport{ConnectionQuality: 0.9, AudioQuality: 0.8, VideoQuality: 0.75, LatencyMS: 35}
	require.True(t, rig.relay.HandleMessage(ctx, a.conn, rig.roomID, report))

	s, err := rig.controller.GetByRoomID(ctx, rig.roomID)
	require.NoError(t, err)
	assert.Equal(t, 0.9, s.ConnectionQuality)
	assert.Equal(t, 35, s.LatencyMS)

	history, err := rig.store.QualityHistory(ctx, rig.roomID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, a.peerID, history[0].FromPeer)

	// Quality reports are never relayed to peers.
	assert.Empty(t, b.sender.ofType(TypeQualityReport))
}

func TestChatBroadcast(t *testing.T) {
	rig := newRelayRig(t)
	ctx := context.Background()
	a := rig.joinPeer(t, "cand1", "candidate")
	b := rig.joinPeer(t, "ai1", "ai_interviewer")

	require.True(t, rig.relay.HandleMessage(ctx, a.conn, rig.roomID, Chat{Text: "ready when you are"}))
	got := b.sender.ofType(TypeChat)
	require.Len(t, got, 1)
	assert.Equal(t, "ready when you are", got[0].Text)
	assert.Equal(t, a.peerID, got[0].FromPeer)
	assert.Empty(t, a.sender.ofType(TypeChat))
}

func TestInterviewActionRecordingFlow(t *testing.T) {
	rig := newRelayRig(t)
	ctx := context.Background()
	a := rig.joinPeer(t, "cand1", "candidate")
	b := rig.joinPeer(t, "ai1", "ai_interviewer")
	require.True(t, rig.relay.HandleMessage(ctx, a.conn, rig.roomID, ConnectionState{State: "connected"}))

	require.True(t, rig.relay.HandleMessage(ctx, b.conn, rig.roomID, InterviewAction{Action: "start_recording"}))
	s, _ := rig.controller.GetByRoomID(ctx, rig.roomID)
	assert.Equal(t, session.StatusRecording, s.Status)
	require.Len(t, a.sender.ofType(TypeInterviewAction), 1)

	require.True(t, rig.relay.HandleMessage(ctx, b.conn, rig.roomID, InterviewAction{Action: "pause"}))
	s, _ = rig.controller.GetByRoomID(ctx, rig.roomID)
	assert.Equal(t, session.StatusPaused, s.Status)

	require.True(t, rig.relay.HandleMessage(ctx, b.conn, rig.roomID, InterviewAction{Action: "resume"}))
	s, _ = rig.controller.GetByRoomID(ctx, rig.roomID)
	assert.Equal(t, session.StatusRecording, s.Status)

	assert.False(t, rig.relay.HandleMessage(ctx, b.conn, rig.roomID, InterviewAction{Action: "unknown_action"}))
}

func TestEndSessionCompleted(t *testing.T) {
	rig := newRelayRig(t)
	ctx := context.Background()
	a := rig.joinPeer(t, "cand1", "candidate")
	b := rig.joinPeer(t, "ai1", "ai_interviewer")
	c := rig.addObserver(t, "obs1")
	require.True(t, rig.relay.HandleMessage(ctx, a.conn, rig.roomID, ConnectionState{State: "connected"}))

	require.NoError(t, rig.relay.EndSession(ctx, rig.roomID, "completed"))

	s, err := rig.controller.GetByRoomID(ctx, rig.roomID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusEnded, s.Status)
	assert.Empty(t, s.LastError)

	for _, p := range []*testPeer{a, b, c} {
		ended := p.sender.ofType(TypeSessionEnded)
		require.Len(t, ended, 1)
		assert.Equal(t, "completed", ended[0].Reason)
	}
	assert.Empty(t, rig.rooms.Participants(rig.roomID))

	pending, err := rig.store.Candidates(ctx, rig.roomID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEndSessionRecordsFailureReason(t *testing.T) {
	rig := newRelayRig(t)
	ctx := context.Background()
	a := rig.joinPeer(t, "cand1", "candidate")
	require.True(t, rig.relay.HandleMessage(ctx, a.conn, rig.roomID, ConnectionState{State: "connected"}))

	require.NoError(t, rig.relay.EndSession(ctx, rig.roomID, "technical_issues"))
	s, err := rig.controller.GetByRoomID(ctx, rig.roomID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusEnded, s.Status)
	assert.Equal(t, "technical_issues", s.LastError)
}

func TestReconnectionReplaysForeignCandidates(t *testing.T) {
	rig := newRelayRig(t)
	ctx := context.Background()
	a := rig.joinPeer(t, "cand1", "candidate")
	b := rig.joinPeer(t, "ai1", "ai_interviewer")

	candA := json.RawMessage(`{"candidate":"candidate:1 from-a"}`)
	candB := json.RawMessage(`{"candidate":"candidate:2 from-b"}`)
	require.True(t, rig.relay.HandleMessage(ctx, a.conn, rig.roomID, ICECandidate{Candidate: candA}))
	require.True(t, rig.relay.HandleMessage(ctx, b.conn, rig.roomID, ICECandidate{Candidate: candB}))

	before := len(b.sender.ofType(TypeICECandidate))
	require.True(t, rig.relay.HandleReconnection(ctx, rig.roomID, b.peerID))

	replayed := b.sender.ofType(TypeICECandidate)[before:]
	require.Len(t, replayed, 1, "only candidates the peer did not originate are replayed")
	assert.Equal(t, a.peerID, replayed[0].FromPeer)
	assert.JSONEq(t, string(candA), string(replayed[0].Candidate))

	s, err := rig.controller.GetByRoomID(ctx, rig.roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ReconnectAttempts)
}

func TestHandleReconnectionUnknownPeer(t *testing.T) {
	rig := newRelayRig(t)
	rig.joinPeer(t, "cand1", "candidate")
	assert.False(t, rig.relay.HandleReconnection(context.Background(), rig.roomID, "peer-ghost"))
}

func TestReapIdleEndsStaleSessions(t *testing.T) {
	rig := newRelayRig(t)
	ctx := context.Background()
	a := rig.joinPeer(t, "cand1", "candidate")
	require.True(t, rig.relay.HandleMessage(ctx, a.conn, rig.roomID, ConnectionState{State: "connected"}))

	s, err := rig.repo.GetByRoomID(ctx, rig.roomID)
	require.NoError(t, err)
	s.LastActivityAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, rig.repo.Update(ctx, s))

	rig.relay.ReapIdle(ctx, time.Hour)

	s, err = rig.repo.GetByRoomID(ctx, rig.roomID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusEnded, s.Status)
	assert.Equal(t, "timeout", s.LastError)
	ended := a.sender.ofType(TypeSessionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "timeout", ended[0].Reason)
}

func TestPingGetsPong(t *testing.T) {
	rig := newRelayRig(t)
	a := rig.joinPeer(t, "cand1", "candidate")
	require.True(t, rig.relay.HandleMessage(context.Background(), a.conn, rig.roomID, Ping{}))
	require.Len(t, a.sender.ofType(TypePong), 1)
}
