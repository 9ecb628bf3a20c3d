package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an interview session.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusRecording  Status = "recording"
	StatusPaused     Status = "paused"
	StatusEnded      Status = "ended"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// transitions is the allowed status graph. Ended and cancelled are terminal.
var transitions = map[Status][]Status{
	StatusWaiting:    {StatusConnecting, StatusError, StatusCancelled},
	StatusConnecting: {StatusConnected, StatusError, StatusCancelled},
	StatusConnected:  {StatusRecording, StatusPaused, StatusEnded, StatusError},
	StatusRecording:  {StatusPaused, StatusEnded, StatusError},
	StatusPaused:     {StatusRecording, StatusEnded, StatusError},
	StatusEnded:      {},
	StatusError:      {StatusConnecting, StatusEnded, StatusCancelled},
	StatusCancelled:  {},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// Session is the persisted record of one live interview session.
// It is owned by the Controller; nothing else mutates it directly.
type Session struct {
	ID                uuid.UUID  `json:"id"`
	InterviewID       uuid.UUID  `json:"interview_id"`
	Token             string     `json:"token"`
	RoomID            string     `json:"room_id"`
	Status            Status     `json:"status"`
	CandidatePeerID   string     `json:"candidate_peer_id,omitempty"`
	InterviewerPeerID string     `json:"interviewer_peer_id,omitempty"`
	JoinedAt          *time.Time `json:"joined_at,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	LastActivityAt    time.Time  `json:"last_activity_at"`
	ConnectionQuality float64    `json:"connection_quality"`
	AudioQuality      float64    `json:"audio_quality"`
	VideoQuality      float64    `json:"video_quality"`
	LatencyMS         int        `json:"latency_ms"`
	ErrorCount        int        `json:"error_count"`
	LastError         string     `json:"last_error,omitempty"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// QualityMetrics is one peer-reported quality sample, persisted last-write-wins.
type QualityMetrics struct {
	ConnectionQuality float64 `json:"connection_quality"`
	AudioQuality      float64 `json:"audio_quality"`
	VideoQuality      float64 `json:"video_quality"`
	LatencyMS         int     `json:"latency_ms"`
}
