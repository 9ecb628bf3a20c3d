package session

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hirelink/interview-backend/internal/interviews"
	"github.com/hirelink/interview-backend/pkg/response"
)

// JoinRequest is the body for POST /sessions/:token/join.
type JoinRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

var allowedRoles = map[string]struct{}{
	"candidate":      {},
	"interviewer":    {},
	"ai_interviewer": {},
}

// Handler handles session HTTP endpoints.
type Handler struct {
	controller *Controller
}

// NewHandler creates a session handler.
func NewHandler(controller *Controller) *Handler {
	return &Handler{controller: controller}
}

// Create handles POST /interviews/:id/session.
func (h *Handler) Create(c *gin.Context) {
	interviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid interview id")
		return
	}
	s, err := h.controller.CreateSession(c.Request.Context(), interviewID)
	if err != nil {
		if errors.Is(err, interviews.ErrNotFound) {
			response.NotFound(c, "interview not found")
			return
		}
		response.Internal(c, "failed to create session")
		return
	}
	response.Created(c, s)
}

// Join handles POST /sessions/:token/join.
func (h *Handler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if _, ok := allowedRoles[req.Role]; !ok {
		response.BadRequest(c, "invalid role")
		return
	}
	info, err := h.controller.JoinSession(c.Request.Context(), c.Param("token"), req.UserID, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			response.NotFound(c, "session not found")
		case errors.Is(err, ErrNotJoinable):
			response.Conflict(c, "session is not joinable")
		default:
			response.Internal(c, "failed to join session")
		}
		return
	}
	response.OK(c, info)
}

// Cancel handles POST /sessions/rooms/:room_id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	s, err := h.controller.CancelSession(c.Request.Context(), c.Param("room_id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			response.NotFound(c, "session not found")
		case errors.Is(err, ErrInvalidTransition):
			response.Conflict(c, "session cannot be cancelled")
		default:
			response.Internal(c, "failed to cancel session")
		}
		return
	}
	response.OK(c, s)
}
