package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// CandidateEntry is one cached ICE candidate awaiting replay to a
// reconnecting peer.
type CandidateEntry struct {
	FromPeer  string          `json:"from_peer"`
	Candidate json.RawMessage `json:"candidate"`
}

// QualitySample is one peer-reported quality measurement kept per room.
type QualitySample struct {
	FromPeer          string    `json:"from_peer"`
	ConnectionQuality float64   `json:"connection_quality"`
	AudioQuality      float64   `json:"audio_quality"`
	VideoQuality      float64   `json:"video_quality"`
	LatencyMS         int       `json:"latency_ms"`
	At                time.Time `json:"at"`
}

// RoomStore holds the relay's ephemeral per-room state: pending ICE
// candidates, cached offers and quality history. The interface exists so a
// clustered deployment can swap the in-memory backend for a shared one
// without touching relay logic. State is cleared when the session ends.
type RoomStore interface {
	AddCandidate(ctx context.Context, roomID string, c CandidateEntry) error
	Candidates(ctx context.Context, roomID string) ([]CandidateEntry, error)
	SetOffer(ctx context.Context, roomID, peerID, sdp string) error
	Offers(ctx context.Context, roomID string) (map[string]string, error)
	AddQualitySample(ctx context.Context, roomID string, s QualitySample) error
	QualityHistory(ctx context.Context, roomID string) ([]QualitySample, error)
	Clear(ctx context.Context, roomID string) error
}

type memoryRoom struct {
	candidates []CandidateEntry
	offers     map[string]string
	quality    []QualitySample
}

// MemoryStore is the in-memory RoomStore for single-process deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*memoryRoom
}

// NewMemoryStore creates an empty in-memory room store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*memoryRoom)}
}

func (s *MemoryStore) room(roomID string) *memoryRoom {
	r, ok := s.rooms[roomID]
	if !ok {
		r = &memoryRoom{offers: make(map[string]string)}
		s.rooms[roomID] = r
	}
	return r
}

// AddCandidate appends a pending ICE candidate for the room.
func (s *MemoryStore) AddCandidate(_ context.Context, roomID string, c CandidateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	r.candidates = append(r.candidates, c)
	return nil
}

// Candidates returns the room's pending ICE candidates in arrival order.
func (s *MemoryStore) Candidates(_ context.Context, roomID string) ([]CandidateEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := make([]CandidateEntry, len(r.candidates))
	copy(out, r.candidates)
	return out, nil
}

// SetOffer caches the latest offer from a peer.
func (s *MemoryStore) SetOffer(_ context.Context, roomID, peerID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room(roomID).offers[peerID] = sdp
	return nil
}

// Offers returns the cached offers keyed by originating peer.
func (s *MemoryStore) Offers(_ context.Context, roomID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := make(map[string]string, len(r.offers))
	for k, v := range r.offers {
		out[k] = v
	}
	return out, nil
}

// AddQualitySample appends to the room's quality history.
func (s *MemoryStore) AddQualitySample(_ context.Context, roomID string, sample QualitySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	r.quality = append(r.quality, sample)
	return nil
}

// QualityHistory returns the room's quality samples in arrival order.
func (s *MemoryStore) QualityHistory(_ context.Context, roomID string) ([]QualitySample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := make([]QualitySample, len(r.quality))
	copy(out, r.quality)
	return out, nil
}

// Clear drops all cached state for the room.
func (s *MemoryStore) Clear(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}
