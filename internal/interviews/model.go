package interviews

import (
	"time"

	"github.com/google/uuid"
)

// Interview is the parent record an interview session is created for.
// The wider platform owns scheduling, scoring and candidate data; the
// signaling core only needs existence, the recording flag and the
// configured duration.
type Interview struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	CandidateName    string     `json:"candidate_name"`
	RecordingEnabled bool       `json:"recording_enabled"`
	DurationMinutes  int        `json:"duration_minutes"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
	CreatedBy        *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
