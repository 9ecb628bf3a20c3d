package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType is the wire discriminator for signaling messages.
type MessageType string

const (
	// Peer-originated types.
	TypeOffer           MessageType = "offer"
	TypeAnswer          MessageType = "answer"
	TypeICECandidate    MessageType = "ice-candidate"
	TypeConnectionState MessageType = "connection-state"
	TypeQualityReport   MessageType = "quality-report"
	TypePing            MessageType = "ping"
	TypeChat            MessageType = "chat"
	TypeInterviewAction MessageType = "interview_action"

	// Relay-originated types.
	TypePong                MessageType = "pong"
	TypeUserJoined          MessageType = "user_joined"
	TypeUserLeft            MessageType = "user_left"
	TypeSessionEnded        MessageType = "session_ended"
	TypePeerConnectionState MessageType = "peer_connection_state"
	TypeError               MessageType = "error"
)

var (
	// ErrMalformed indicates an unparseable message payload.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType indicates a message type the relay does not route.
	ErrUnknownType = errors.New("unknown message type")
)

// Envelope is the outbound wire format. Every relay-originated broadcast
// carries an ISO-8601 timestamp; unused fields are omitted.
type Envelope struct {
	Type      MessageType     `json:"type"`
	FromPeer  string          `json:"from_peer,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	PeerID    string          `json:"peer_id,omitempty"`
	State     string          `json:"state,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Role      string          `json:"role,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Text      string          `json:"text,omitempty"`
	Action    string          `json:"action,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

func stamped(e Envelope) Envelope {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return e
}

// Inbound is the decoded form of a peer-originated message. The sealed set of
// implementations makes relay dispatch exhaustive at compile time.
type Inbound interface {
	inbound()
}

// Offer carries an SDP offer to be fanned out to the rest of the room.
type Offer struct {
	SDP string
}

// Answer carries an SDP answer, optionally addressed to a specific peer.
type Answer struct {
	SDP        string
	TargetPeer string
}

// ICECandidate carries one network-path candidate.
type ICECandidate struct {
	Candidate json.RawMessage
}

// ConnectionState reports the sender's peer-connection state
// (connected, disconnected, failed, ...).
type ConnectionState struct {
	State string
	Error string
}

// QualityReport carries peer-measured media quality, normalized 0..1.
type QualityReport struct {
	ConnectionQuality float64
	AudioQuality      float64
	VideoQuality      float64
	LatencyMS         int
}

// Ping is a keepalive probe answered with a pong.
type Ping struct{}

// Chat is an in-room text message.
type Chat struct {
	Text string
}

// InterviewAction drives recording state from inside the room
// (start_recording, pause, resume, end).
type InterviewAction struct {
	Action string
}

func (Offer) inbound()           {}
func (Answer) inbound()          {}
func (ICECandidate) inbound()    {}
func (ConnectionState) inbound() {}
func (QualityReport) inbound()   {}
func (Ping) inbound()            {}
func (Chat) inbound()            {}
func (InterviewAction) inbound() {}

// wireMessage is the superset of inbound payload fields.
type wireMessage struct {
	Type              MessageType     `json:"type"`
	SDP               string          `json:"sdp"`
	TargetPeer        string          `json:"target_peer"`
	Candidate         json.RawMessage `json:"candidate"`
	State             string          `json:"state"`
	Error             string          `json:"error"`
	ConnectionQuality float64         `json:"connection_quality"`
	AudioQuality      float64         `json:"audio_quality"`
	VideoQuality      float64         `json:"video_quality"`
	LatencyMS         int             `json:"latency_ms"`
	Text              string          `json:"text"`
	Action            string          `json:"action"`
}

// Decode parses a raw inbound payload into its typed form.
func Decode(raw []byte) (Inbound, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch w.Type {
	case TypeOffer:
		if w.SDP == "" {
			return nil, fmt.Errorf("%w: offer without sdp", ErrMalformed)
		}
		return Offer{SDP: w.SDP}, nil
	case TypeAnswer:
		if w.SDP == "" {
			return nil, fmt.Errorf("%w: answer without sdp", ErrMalformed)
		}
		return Answer{SDP: w.SDP, TargetPeer: w.TargetPeer}, nil
	case TypeICECandidate:
		if len(w.Candidate) == 0 {
			return nil, fmt.Errorf("%w: ice-candidate without candidate", ErrMalformed)
		}
		return ICECandidate{Candidate: w.Candidate}, nil
	case TypeConnectionState:
		if w.State == "" {
			return nil, fmt.Errorf("%w: connection-state without state", ErrMalformed)
		}
		return ConnectionState{State: w.State, Error: w.Error}, nil
	case TypeQualityReport:
		return QualityReport{
			ConnectionQuality: w.ConnectionQuality,
			AudioQuality:      w.AudioQuality,
			VideoQuality:      w.VideoQuality,
			LatencyMS:         w.LatencyMS,
		}, nil
	case TypePing:
		return Ping{}, nil
	case TypeChat:
		return Chat{Text: w.Text}, nil
	case TypeInterviewAction:
		if w.Action == "" {
			return nil, fmt.Errorf("%w: interview_action without action", ErrMalformed)
		}
		return InterviewAction{Action: w.Action}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
}
