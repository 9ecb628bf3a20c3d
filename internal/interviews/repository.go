package interviews

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested interview does not exist.
var ErrNotFound = errors.New("interview not found")

// Repository handles interview persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an interview repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new interview.
func (r *Repository) Create(ctx context.Context, iv *Interview) error {
	const q = `INSERT INTO interviews (title, candidate_name, recording_enabled, duration_minutes, scheduled_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, iv.Title, iv.CandidateName, iv.RecordingEnabled, iv.DurationMinutes, iv.ScheduledAt, iv.CreatedBy).
		Scan(&iv.ID, &iv.CreatedAt, &iv.UpdatedAt)
}

// GetByID returns an interview by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Interview, error) {
	const q = `SELECT id, title, candidate_name, recording_enabled, duration_minutes, scheduled_at, created_by, created_at, updated_at
		FROM interviews WHERE id = $1`
	var iv Interview
	err := r.pool.QueryRow(ctx, q, id).Scan(&iv.ID, &iv.Title, &iv.CandidateName, &iv.RecordingEnabled,
		&iv.DurationMinutes, &iv.ScheduledAt, &iv.CreatedBy, &iv.CreatedAt, &iv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &iv, nil
}

// List returns all interviews, optionally filtered by creator.
func (r *Repository) List(ctx context.Context, createdBy *uuid.UUID) ([]Interview, error) {
	base := `SELECT id, title, candidate_name, recording_enabled, duration_minutes, scheduled_at, created_by, created_at, updated_at FROM interviews`
	var args []interface{}
	var cond string
	if createdBy != nil {
		cond = " WHERE created_by = $1"
		args = append(args, *createdBy)
	}
	rows, err := r.pool.Query(ctx, base+cond+" ORDER BY created_at DESC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Interview
	for rows.Next() {
		var iv Interview
		if err := rows.Scan(&iv.ID, &iv.Title, &iv.CandidateName, &iv.RecordingEnabled,
			&iv.DurationMinutes, &iv.ScheduledAt, &iv.CreatedBy, &iv.CreatedAt, &iv.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, iv)
	}
	return list, rows.Err()
}
