package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eclipsera/backend/pkg/queue"
)

// BlobStore is the blob-store subset the cleanup worker needs.
type BlobStore interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	DeleteObject(ctx context.Context, key string) error
}

// CleanupProcessor drains blob cleanup jobs: list every key under the job's
// prefix and delete them. Used for partial converted output left by failed
// uploads; re-running a job over an already-cleaned prefix is a no-op.
type CleanupProcessor struct {
	store  BlobStore
	queue  *queue.Queue
	logger *zap.Logger
}

// NewCleanupProcessor creates a blob cleanup processor.
func NewCleanupProcessor(store BlobStore, q *queue.Queue, logger *zap.Logger) *CleanupProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupProcessor{store: store, queue: q, logger: logger}
}

// Process executes one cleanup job.
func (p *CleanupProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeBlobCleanup {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.BlobCleanupPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.Prefix == "" {
		return fmt.Errorf("empty cleanup prefix")
	}

	keys, err := p.store.ListKeys(ctx, payload.Prefix)
	if err != nil {
		return fmt.Errorf("list %s: %w", payload.Prefix, err)
	}
	for _, key := range keys {
		if err := p.store.DeleteObject(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}

	p.logger.Info("blob cleanup completed",
		zap.String("room_id", payload.RoomID),
		zap.String("prefix", payload.Prefix),
		zap.Int("deleted", len(keys)),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *CleanupProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("cleanup worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
