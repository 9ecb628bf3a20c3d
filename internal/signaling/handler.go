package signaling

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/hirelink/interview-backend/internal/session"
	"github.com/hirelink/interview-backend/pkg/response"
)

// EndRequest is the body for POST /sessions/rooms/:room_id/end.
type EndRequest struct {
	Reason string `json:"reason"`
}

// Handler handles signaling HTTP endpoints.
type Handler struct {
	relay    *Relay
	registry *Registry
	rooms    *RoomIndex
}

// NewHandler creates a signaling handler.
func NewHandler(relay *Relay, registry *Registry, rooms *RoomIndex) *Handler {
	return &Handler{relay: relay, registry: registry, rooms: rooms}
}

// End handles POST /sessions/rooms/:room_id/end.
func (h *Handler) End(c *gin.Context) {
	var req EndRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "completed"
	}
	if err := h.relay.EndSession(c.Request.Context(), c.Param("room_id"), reason); err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			response.NotFound(c, "session not found")
		case errors.Is(err, session.ErrInvalidTransition):
			response.Conflict(c, "session already ended")
		default:
			response.Internal(c, "failed to end session")
		}
		return
	}
	response.OK(c, gin.H{"room_id": c.Param("room_id"), "reason": reason})
}

// Stats handles GET /signaling/stats.
func (h *Handler) Stats(c *gin.Context) {
	response.OK(c, h.registry.Stats())
}

// Participants handles GET /signaling/rooms/:room_id/participants.
func (h *Handler) Participants(c *gin.Context) {
	response.OK(c, h.rooms.Participants(c.Param("room_id")))
}
