package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no session matches the given token or room id.
var ErrNotFound = errors.New("session not found")

// Repository is the persistence boundary for sessions. Sessions are never
// deleted; they reach a terminal status instead.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByToken(ctx context.Context, token string) (*Session, error)
	GetByRoomID(ctx context.Context, roomID string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	TouchActivity(ctx context.Context, roomID string) error
	ListIdle(ctx context.Context, cutoff time.Time) ([]Session, error)
}

const sessionColumns = `id, interview_id, token, room_id, status, candidate_peer_id, interviewer_peer_id,
	joined_at, started_at, ended_at, last_activity_at,
	connection_quality, audio_quality, video_quality, latency_ms,
	error_count, last_error, reconnect_attempts, created_at, updated_at`

// PostgresRepository persists sessions via pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a session repository backed by PostgreSQL.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create inserts a new session.
func (r *PostgresRepository) Create(ctx context.Context, s *Session) error {
	const q = `INSERT INTO interview_sessions (interview_id, token, room_id, status, last_activity_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, last_activity_at, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, s.InterviewID, s.Token, s.RoomID, s.Status).
		Scan(&s.ID, &s.LastActivityAt, &s.CreatedAt, &s.UpdatedAt)
}

// GetByToken returns the session with the given token.
func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM interview_sessions WHERE token = $1`, token)
}

// GetByRoomID returns the session with the given room id.
func (r *PostgresRepository) GetByRoomID(ctx context.Context, roomID string) (*Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM interview_sessions WHERE room_id = $1`, roomID)
}

func (r *PostgresRepository) getOne(ctx context.Context, q string, arg any) (*Session, error) {
	var s Session
	err := r.pool.QueryRow(ctx, q, arg).Scan(
		&s.ID, &s.InterviewID, &s.Token, &s.RoomID, &s.Status, &s.CandidatePeerID, &s.InterviewerPeerID,
		&s.JoinedAt, &s.StartedAt, &s.EndedAt, &s.LastActivityAt,
		&s.ConnectionQuality, &s.AudioQuality, &s.VideoQuality, &s.LatencyMS,
		&s.ErrorCount, &s.LastError, &s.ReconnectAttempts, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Update writes all mutable session fields.
func (r *PostgresRepository) Update(ctx context.Context, s *Session) error {
	const q = `UPDATE interview_sessions SET
		status = $1, candidate_peer_id = $2, interviewer_peer_id = $3,
		joined_at = $4, started_at = $5, ended_at = $6, last_activity_at = $7,
		connection_quality = $8, audio_quality = $9, video_quality = $10, latency_ms = $11,
		error_count = $12, last_error = $13, reconnect_attempts = $14, updated_at = NOW()
		WHERE id = $15`
	_, err := r.pool.Exec(ctx, q, s.Status, s.CandidatePeerID, s.InterviewerPeerID,
		s.JoinedAt, s.StartedAt, s.EndedAt, s.LastActivityAt,
		s.ConnectionQuality, s.AudioQuality, s.VideoQuality, s.LatencyMS,
		s.ErrorCount, s.LastError, s.ReconnectAttempts, s.ID)
	return err
}

// TouchActivity bumps last_activity_at without rewriting the whole row.
func (r *PostgresRepository) TouchActivity(ctx context.Context, roomID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE interview_sessions SET last_activity_at = NOW(), updated_at = NOW() WHERE room_id = $1`,
		roomID)
	return err
}

// ListIdle returns non-terminal sessions with no activity since cutoff.
func (r *PostgresRepository) ListIdle(ctx context.Context, cutoff time.Time) ([]Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM interview_sessions
		 WHERE status NOT IN ('ended', 'cancelled') AND last_activity_at < $1`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(
			&s.ID, &s.InterviewID, &s.Token, &s.RoomID, &s.Status, &s.CandidatePeerID, &s.InterviewerPeerID,
			&s.JoinedAt, &s.StartedAt, &s.EndedAt, &s.LastActivityAt,
			&s.ConnectionQuality, &s.AudioQuality, &s.VideoQuality, &s.LatencyMS,
			&s.ErrorCount, &s.LastError, &s.ReconnectAttempts, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
