package uploads

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eclipsera/backend/pkg/response"
	"github.com/eclipsera/backend/pkg/storage"
)

// Presigner issues pre-signed PUT URLs for direct browser uploads.
type Presigner interface {
	GeneratePresignedUploadURL(ctx context.Context, key, contentType string) (string, error)
}

// Handler exposes upload URL generation over HTTP.
type Handler struct {
	presigner Presigner
	logger    *zap.Logger
}

// NewHandler creates an uploads handler.
func NewHandler(presigner Presigner, logger *zap.Logger) *Handler {
	return &Handler{presigner: presigner, logger: logger}
}

// GetUploadURL handles GET /upload-url: mint a random source key and return a
// pre-signed PUT URL for it.
func (h *Handler) GetUploadURL(c *gin.Context) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		h.logger.Error("generate upload key failed", zap.Error(err))
		response.Internal(c, "failed to get upload URL")
		return
	}
	fileKey := storage.UploadKey(hex.EncodeToString(raw))

	uploadURL, err := h.presigner.GeneratePresignedUploadURL(c.Request.Context(), fileKey, "video/mp4")
	if err != nil {
		h.logger.Error("presign upload failed", zap.String("key", fileKey), zap.Error(err))
		response.Internal(c, "failed to get upload URL")
		return
	}
	response.OK(c, gin.H{"uploadURL": uploadURL, "fileKey": fileKey})
}
