package rooms

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eclipsera/backend/pkg/response"
)

// Handler exposes room creation, verification and join over HTTP.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a rooms handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// Create handles POST /createroom: allocate a fresh room code.
func (h *Handler) Create(c *gin.Context) {
	code, err := GenerateRoomCode()
	if err != nil {
		h.logger.Error("generate room code failed", zap.Error(err))
		response.Internal(c, "error creating room")
		return
	}

	created, err := h.repo.Create(c.Request.Context(), code)
	if err != nil {
		h.logger.Error("create room failed", zap.Error(err))
		response.Internal(c, "error creating room")
		return
	}
	if !created {
		response.Conflict(c, "room code exists")
		return
	}
	response.Created(c, gin.H{"roomId": code})
}

// Verify handles GET /verifyroom/:roomId: existence check.
func (h *Handler) Verify(c *gin.Context) {
	room, err := h.repo.Get(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		h.logger.Error("verify room failed", zap.Error(err))
		response.Internal(c, "error verifying room")
		return
	}
	if room == nil {
		response.NotFound(c, "room not found")
		return
	}
	response.OK(c, gin.H{"roomId": room.RoomID})
}

// Join handles PUT /joinroom/:roomId: return the room and refresh its
// activity timestamp.
func (h *Handler) Join(c *gin.Context) {
	room, err := h.repo.Get(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		h.logger.Error("join room failed", zap.Error(err))
		response.Internal(c, "server error")
		return
	}
	if room == nil {
		response.NotFound(c, "room not found")
		return
	}
	if _, err := h.repo.Touch(c.Request.Context(), room.RoomID); err != nil {
		h.logger.Warn("touch room failed", zap.String("room_id", room.RoomID), zap.Error(err))
	}
	response.OK(c, gin.H{"message": "room joined successfully", "room": room})
}
