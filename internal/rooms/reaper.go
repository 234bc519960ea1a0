package rooms

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reaper deletes rooms that have been inactive longer than ttl. It only
// touches the rooms table; video job records are removed by an explicit
// delete request, never automatically.
type Reaper struct {
	repo     *Repository
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewReaper creates a room reaper.
func NewReaper(repo *Repository, ttl, interval time.Duration, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{repo: repo, ttl: ttl, interval: interval, logger: logger}
}

// Run sweeps on a fixed interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("room reaper stopping")
			return
		case <-ticker.C:
			ids, err := r.repo.DeleteInactive(ctx, r.ttl)
			if err != nil {
				r.logger.Warn("room sweep failed", zap.Error(err))
				continue
			}
			if len(ids) > 0 {
				r.logger.Info("inactive rooms reaped", zap.Strings("room_ids", ids))
			}
		}
	}
}
