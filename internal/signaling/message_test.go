package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOffer(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"offer","sdp":"v=0 offer"}`))
	require.NoError(t, err)
	offer, ok := msg.(Offer)
	require.True(t, ok)
	assert.Equal(t, "v=0 offer", offer.SDP)
}

func TestDecodeOfferWithoutSDP(t *testing.T) {
	_, err := Decode([]byte(`{"type":"offer"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeAnswer(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"answer","sdp":"v=0 answer","target_peer":"peer-2"}`))
	require.NoError(t, err)
	answer, ok := msg.(Answer)
	require.True(t, ok)
	assert.Equal(t, "v=0 answer", answer.SDP)
	assert.Equal(t, "peer-2", answer.TargetPeer)
}

func TestDecodeICECandidate(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ice-candidate","candidate":{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 54400 typ host"}}`))
	require.NoError(t, err)
	ice, ok := msg.(ICECandidate)
	require.True(t, ok)
	assert.NotEmpty(t, ice.Candidate)
}

func TestDecodeConnectionState(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"connection-state","state":"failed","error":"dtls timeout"}`))
	require.NoError(t, err)
	cs, ok := msg.(ConnectionState)
	require.True(t, ok)
	assert.Equal(t, "failed", cs.State)
	assert.Equal(t, "dtls timeout", cs.Error)
}

func TestDecodeQualityReport(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"quality-report","connection_quality":0.85,"audio_quality":0.9,"video_quality":0.7,"latency_ms":42}`))
	require.NoError(t, err)
	q, ok := msg.(QualityReport)
	require.True(t, ok)
	assert.Equal(t, 0.85, q.ConnectionQuality)
	assert.Equal(t, 42, q.LatencyMS)
}

func TestDecodeChatAndAction(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"chat","text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, Chat{Text: "hello"}, msg)

	msg, err = Decode([]byte(`{"type":"interview_action","action":"start_recording"}`))
	require.NoError(t, err)
	assert.Equal(t, InterviewAction{Action: "start_recording"}, msg)

	msg, err = Decode([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, Ping{}, msg)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"telemetry"}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	assert.ErrorIs(t, err, ErrMalformed)
}
