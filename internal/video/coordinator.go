package video

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/eclipsera/backend/internal/models"
	"github.com/eclipsera/backend/internal/transcode"
	"github.com/eclipsera/backend/pkg/storage"
)

// Outcome of a processing request. Every caller receives exactly one.
type Outcome string

const (
	// OutcomeAlreadyReady: a finished manifest exists; nothing was re-run.
	OutcomeAlreadyReady Outcome = "already-ready"
	// OutcomeInProgress: another request holds the claim; poll or wait for broadcast.
	OutcomeInProgress Outcome = "in-progress"
	// OutcomeReady: this request ran the transcode to completion.
	OutcomeReady Outcome = "ready"
	// OutcomeFailed: this request ran the transcode and it failed.
	OutcomeFailed Outcome = "failed"
)

// Result is the processing request response.
type Result struct {
	Outcome     Outcome
	ManifestURL string
	Error       string
}

// Engine converts a source video into segmented streaming output and returns
// the manifest URL.
type Engine interface {
	Convert(ctx context.Context, sourceURL, roomID string) (string, error)
}

// Broadcaster notifies a room's connected members. Injected at construction
// so the coordinator never reaches into ambient state for the hub.
type Broadcaster interface {
	VideoReady(roomID, manifestURL string)
	VideoDeleted(roomID string)
}

// BlobStore is the subset of blob operations the coordinator needs.
type BlobStore interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	DeleteObject(ctx context.Context, key string) error
}

// JobStore is the record store behind the coordinator.
type JobStore interface {
	Find(ctx context.Context, roomID string) (*models.RoomVideo, error)
	FindBySourceKey(ctx context.Context, sourceKey string) (*models.RoomVideo, error)
	Claim(ctx context.Context, roomID, sourceKey string) (*models.RoomVideo, error)
	MarkReady(ctx context.Context, roomID, manifestURL string) error
	MarkFailed(ctx context.Context, roomID, lastError string) error
	Delete(ctx context.Context, roomID string) (bool, error)
}

// Coordinator owns the per-room processing state machine: at most one
// in-flight transcode per room, enforced by the record store's atomic claim.
type Coordinator struct {
	repo        JobStore
	engine      Engine
	store       BlobStore
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewCoordinator wires the coordinator's dependencies.
func NewCoordinator(repo JobStore, engine Engine, store BlobStore, broadcaster Broadcaster, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{repo: repo, engine: engine, store: store, broadcaster: broadcaster, logger: logger}
}

// RequestProcessing runs the claim-convert-publish flow for a room.
//
// Ready rooms short-circuit with the stored manifest; processing rooms return
// in-progress immediately. Otherwise the caller that wins the atomic claim
// runs the conversion to completion and every concurrent loser observes
// in-progress. Failures are recorded as status failed with the error detail
// and are retried only by a later processing request.
func (c *Coordinator) RequestProcessing(ctx context.Context, roomID, sourceURL string) (Result, error) {
	roomID = models.NormalizeRoomID(roomID)

	existing, err := c.repo.Find(ctx, roomID)
	if err != nil {
		return Result{}, fmt.Errorf("find job: %w", err)
	}
	if existing != nil {
		switch existing.Status {
		case models.VideoStatusReady:
			c.logger.Info("already processed, returning stored manifest", zap.String("room_id", roomID))
			return Result{Outcome: OutcomeAlreadyReady, ManifestURL: existing.ManifestURL}, nil
		case models.VideoStatusProcessing:
			return Result{Outcome: OutcomeInProgress}, nil
		}
	}

	sourceKey := SourceKeyFromURL(sourceURL)
	if _, err := c.repo.Claim(ctx, roomID, sourceKey); err != nil {
		if errors.Is(err, ErrClaimConflict) {
			// Lost the race: someone else claimed between our read and write.
			return Result{Outcome: OutcomeInProgress}, nil
		}
		return Result{}, fmt.Errorf("claim job: %w", err)
	}
	c.logger.Info("job claimed", zap.String("room_id", roomID), zap.String("source_key", sourceKey))

	manifestURL, convErr := c.engine.Convert(ctx, sourceURL, roomID)
	if convErr != nil {
		reason := transcode.Reason(convErr)
		c.logger.Error("conversion failed", zap.String("room_id", roomID), zap.Error(convErr))
		if err := c.markFailedWithRetry(ctx, roomID, reason); err != nil {
			return Result{}, fmt.Errorf("record failure: %w", err)
		}
		return Result{Outcome: OutcomeFailed, Error: reason}, nil
	}

	// The original upload is no longer needed once converted output exists.
	// A delete failure leaves an orphan blob, not a broken job.
	if sourceKey != "" {
		if err := c.store.DeleteObject(ctx, sourceKey); err != nil {
			c.logger.Warn("delete original source failed", zap.String("key", sourceKey), zap.Error(err))
		}
	}

	if err := c.repo.MarkReady(ctx, roomID, manifestURL); err != nil {
		c.logger.Warn("mark ready failed, retrying", zap.String("room_id", roomID), zap.Error(err))
		if err := c.repo.MarkReady(ctx, roomID, manifestURL); err != nil {
			return Result{}, fmt.Errorf("record success: %w", err)
		}
	}

	c.broadcaster.VideoReady(roomID, manifestURL)
	c.logger.Info("job ready", zap.String("room_id", roomID), zap.String("manifest_url", manifestURL))
	return Result{Outcome: OutcomeReady, ManifestURL: manifestURL}, nil
}

func (c *Coordinator) markFailedWithRetry(ctx context.Context, roomID, reason string) error {
	if err := c.repo.MarkFailed(ctx, roomID, reason); err != nil {
		c.logger.Warn("mark failed write failed, retrying", zap.String("room_id", roomID), zap.Error(err))
		return c.repo.MarkFailed(ctx, roomID, reason)
	}
	return nil
}

// GetStatus returns the room's job record, or nil when none exists.
func (c *Coordinator) GetStatus(ctx context.Context, roomID string) (*models.RoomVideo, error) {
	return c.repo.Find(ctx, models.NormalizeRoomID(roomID))
}

// DeleteJob removes every blob under the room's structured converted prefix,
// the original source blob if still present, and the job record, then
// broadcasts the deletion. Idempotent over partially deleted state: missing
// keys are not errors. Returns false when there was nothing to delete.
func (c *Coordinator) DeleteJob(ctx context.Context, roomID string) (bool, error) {
	roomID = models.NormalizeRoomID(roomID)

	rec, err := c.repo.Find(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("find job: %w", err)
	}

	prefix := storage.ConvertedPrefix(roomID)
	keys, err := c.store.ListKeys(ctx, prefix)
	if err != nil {
		return false, fmt.Errorf("list converted blobs: %w", err)
	}
	for _, key := range keys {
		if err := c.store.DeleteObject(ctx, key); err != nil {
			return false, fmt.Errorf("delete blob %s: %w", key, err)
		}
	}

	if rec != nil && rec.SourceKey != "" {
		if err := c.store.DeleteObject(ctx, rec.SourceKey); err != nil {
			c.logger.Warn("delete original source failed", zap.String("key", rec.SourceKey), zap.Error(err))
		}
	}

	deleted, err := c.repo.Delete(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}

	found := rec != nil || deleted || len(keys) > 0
	if found {
		c.broadcaster.VideoDeleted(roomID)
		c.logger.Info("job deleted", zap.String("room_id", roomID), zap.Int("blobs_removed", len(keys)))
	}
	return found, nil
}

// ResolveRoomID maps a delete request to its room: an explicit room ID wins,
// then the structured rooms/{roomId}/ key segment, then a source-key lookup
// for uploads/... keys. The broad scan-and-filter the legacy API used is
// deliberately not supported; it could match unrelated rooms.
func (c *Coordinator) ResolveRoomID(ctx context.Context, roomID, fileKey string) (string, error) {
	if id := models.NormalizeRoomID(roomID); id != "" {
		return id, nil
	}
	if id := storage.RoomIDFromKey(fileKey); id != "" {
		return models.NormalizeRoomID(id), nil
	}
	if fileKey != "" {
		rec, err := c.repo.FindBySourceKey(ctx, fileKey)
		if err != nil {
			return "", fmt.Errorf("lookup by source key: %w", err)
		}
		if rec != nil {
			return rec.RoomID, nil
		}
	}
	return "", nil
}

// SourceKeyFromURL derives the blob key of the original upload from its URL
// (the URL path without the leading slash). Non-URL input is returned as-is.
func SourceKeyFromURL(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Path == "" {
		return strings.TrimPrefix(sourceURL, "/")
	}
	return strings.TrimPrefix(u.Path, "/")
}
