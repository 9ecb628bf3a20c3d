package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "signaling:room:"
	// redisStateTTL bounds orphaned room state when a session never ends cleanly.
	redisStateTTL = 24 * time.Hour
)

// RedisStore is a RoomStore backed by Redis, for deployments where relay
// state must survive a process restart or be shared across instances.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed room store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func candidatesKey(roomID string) string { return redisKeyPrefix + roomID + ":candidates" }
func offersKey(roomID string) string     { return redisKeyPrefix + roomID + ":offers" }
func qualityKey(roomID string) string    { return redisKeyPrefix + roomID + ":quality" }

// AddCandidate appends a pending ICE candidate for the room.
func (s *RedisStore) AddCandidate(ctx context.Context, roomID string, c CandidateEntry) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}
	key := candidatesKey(roomID)
	if err := s.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush candidate: %w", err)
	}
	return s.client.Expire(ctx, key, redisStateTTL).Err()
}

// Candidates returns the room's pending ICE candidates in arrival order.
func (s *RedisStore) Candidates(ctx context.Context, roomID string) ([]CandidateEntry, error) {
	raws, err := s.client.LRange(ctx, candidatesKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange candidates: %w", err)
	}
	out := make([]CandidateEntry, 0, len(raws))
	for _, raw := range raws {
		var c CandidateEntry
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// SetOffer caches the latest offer from a peer.
func (s *RedisStore) SetOffer(ctx context.Context, roomID, peerID, sdp string) error {
	key := offersKey(roomID)
	if err := s.client.HSet(ctx, key, peerID, sdp).Err(); err != nil {
		return fmt.Errorf("hset offer: %w", err)
	}
	return s.client.Expire(ctx, key, redisStateTTL).Err()
}

// Offers returns the cached offers keyed by originating peer.
func (s *RedisStore) Offers(ctx context.Context, roomID string) (map[string]string, error) {
	out, err := s.client.HGetAll(ctx, offersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall offers: %w", err)
	}
	return out, nil
}

// AddQualitySample appends to the room's quality history.
func (s *RedisStore) AddQualitySample(ctx context.Context, roomID string, sample QualitySample) error {
	raw, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	key := qualityKey(roomID)
	if err := s.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush sample: %w", err)
	}
	return s.client.Expire(ctx, key, redisStateTTL).Err()
}

// QualityHistory returns the room's quality samples in arrival order.
func (s *RedisStore) QualityHistory(ctx context.Context, roomID string) ([]QualitySample, error) {
	raws, err := s.client.LRange(ctx, qualityKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange quality: %w", err)
	}
	out := make([]QualitySample, 0, len(raws))
	for _, raw := range raws {
		var sample QualitySample
		if err := json.Unmarshal([]byte(raw), &sample); err != nil {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}

// Clear drops all cached state for the room.
func (s *RedisStore) Clear(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, candidatesKey(roomID), offersKey(roomID), qualityKey(roomID)).Err()
}
