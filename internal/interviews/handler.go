package interviews

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hirelink/interview-backend/internal/middleware"
	"github.com/hirelink/interview-backend/pkg/response"
)

// CreateRequest is the body for POST /interviews.
type CreateRequest struct {
	Title            string  `json:"title" binding:"required"`
	CandidateName    string  `json:"candidate_name"`
	RecordingEnabled *bool   `json:"recording_enabled"`
	DurationMinutes  int     `json:"duration_minutes"`
	ScheduledAt      *string `json:"scheduled_at"`
}

// Handler handles interview HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates an interview handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// Create handles POST /interviews (recruiter/admin only).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var scheduledAt *time.Time
	if req.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			response.BadRequest(c, "invalid scheduled_at")
			return
		}
		scheduledAt = &t
	}

	recording := true
	if req.RecordingEnabled != nil {
		recording = *req.RecordingEnabled
	}
	duration := req.DurationMinutes
	if duration <= 0 {
		duration = 60
	}

	iv := &Interview{
		Title:            req.Title,
		CandidateName:    req.CandidateName,
		RecordingEnabled: recording,
		DurationMinutes:  duration,
		ScheduledAt:      scheduledAt,
		CreatedBy:        &userID,
	}
	if err := h.repo.Create(c.Request.Context(), iv); err != nil {
		response.Internal(c, "failed to create interview")
		return
	}
	response.Created(c, iv)
}

// GetByID handles GET /interviews/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid interview id")
		return
	}
	iv, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "interview not found")
			return
		}
		response.Internal(c, "failed to load interview")
		return
	}
	response.OK(c, iv)
}

// List handles GET /interviews.
func (h *Handler) List(c *gin.Context) {
	var createdBy *uuid.UUID
	if v := c.Query("created_by"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(c, "invalid created_by")
			return
		}
		createdBy = &id
	}
	list, err := h.repo.List(c.Request.Context(), createdBy)
	if err != nil {
		response.Internal(c, "failed to list interviews")
		return
	}
	response.OK(c, list)
}
