package video

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eclipsera/backend/pkg/response"
)

// Handler exposes the job coordinator over HTTP.
type Handler struct {
	coord  *Coordinator
	logger *zap.Logger
}

// NewHandler creates a video handler.
func NewHandler(coord *Coordinator, logger *zap.Logger) *Handler {
	return &Handler{coord: coord, logger: logger}
}

type processRequest struct {
	MovieURL string `json:"movieUrl"`
	RoomID   string `json:"roomId"`
}

// Process handles POST /process: claim the room's job and convert, or report
// the current state without re-running anything.
func (h *Handler) Process(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.MovieURL == "" || req.RoomID == "" {
		response.BadRequest(c, "missing movieUrl or roomId")
		return
	}

	// A claimed job runs to completion even if the requester goes away.
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := h.coord.RequestProcessing(ctx, req.RoomID, req.MovieURL)
	if err != nil {
		h.logger.Error("process request failed", zap.String("room_id", req.RoomID), zap.Error(err))
		response.Internal(c, "video processing failed")
		return
	}

	switch res.Outcome {
	case OutcomeAlreadyReady:
		response.OK(c, gin.H{"hlsUrl": res.ManifestURL, "message": "Already processed"})
	case OutcomeInProgress:
		response.Accepted(c, gin.H{"status": "processing", "message": "Processing already in progress"})
	case OutcomeReady:
		response.OK(c, gin.H{"hlsUrl": res.ManifestURL})
	case OutcomeFailed:
		response.Internal(c, res.Error)
	}
}

type deleteRequest struct {
	FileKey string `json:"fileKey"`
	RoomID  string `json:"roomId"`
}

// Delete handles POST /delete: remove the room's converted output, original
// source and job record.
func (h *Handler) Delete(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.FileKey == "" && req.RoomID == "") {
		response.BadRequest(c, "invalid or missing fileKey")
		return
	}

	roomID, err := h.coord.ResolveRoomID(c.Request.Context(), req.RoomID, req.FileKey)
	if err != nil {
		h.logger.Error("resolve room failed", zap.String("file_key", req.FileKey), zap.Error(err))
		response.Internal(c, "delete failed")
		return
	}
	if roomID == "" {
		response.NotFound(c, "no video matches this key")
		return
	}

	found, err := h.coord.DeleteJob(context.WithoutCancel(c.Request.Context()), roomID)
	if err != nil {
		h.logger.Error("delete job failed", zap.String("room_id", roomID), zap.Error(err))
		response.Internal(c, "delete failed")
		return
	}
	if !found {
		response.NotFound(c, "no video found for this room")
		return
	}
	response.OK(c, gin.H{"message": "movie and converted files deleted"})
}

// Get handles GET /:roomId: fetch the room's job record.
func (h *Handler) Get(c *gin.Context) {
	roomID := c.Param("roomId")
	if roomID == "" {
		response.BadRequest(c, "missing roomId")
		return
	}

	v, err := h.coord.GetStatus(c.Request.Context(), roomID)
	if err != nil {
		h.logger.Error("fetch room video failed", zap.String("room_id", roomID), zap.Error(err))
		response.Internal(c, "fetch failed")
		return
	}
	if v == nil {
		response.NotFound(c, "no video found for this room")
		return
	}
	response.OK(c, gin.H{"video": v})
}
