package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindsync/internal/core"
	"github.com/vovakirdan/mindsync/internal/proto"
)

// RoomHandlers exposes read-only views of document rooms.
type RoomHandlers struct {
	hub core.Hub
	log *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(hub core.Hub, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		hub: hub,
		log: logger,
	}
}

// ParticipantsResponse lists the users present in a document.
type ParticipantsResponse struct {
	DocumentID   string              `json:"documentId"`
	Participants []proto.Participant `json:"participants"`
}

// Participants returns the current roster of a document.
// GET /api/documents/:documentId/participants
func (h *RoomHandlers) Participants(c *gin.Context) {
	documentID := c.Param("documentId")

	roster, err := h.hub.Roster(c.Request.Context(), documentID)
	if err != nil {
		h.log.Error().Err(err).Str("document_id", documentID).Msg("failed to load roster")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, ParticipantsResponse{
		DocumentID:   documentID,
		Participants: participantsToProto(roster),
	})
}
