package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/caelven/listend/internal/metrics"
)

// PrunableStore is the store surface the pruner needs.
type PrunableStore interface {
	Now(ctx context.Context) int64
	Prune(ctx context.Context, olderThan int64) (int, error)
}

// Pruner periodically removes sessions whose last heartbeat is older than the
// staleness threshold. Only the polling (REST) deployment relies on it; with
// disconnect hooks it is a harmless extra backstop.
type Pruner struct {
	store     PrunableStore
	threshold time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

// NewPruner creates a pruner. threshold must be strictly greater than the
// client heartbeat interval so one missed beat doesn't evict a live session.
func NewPruner(store PrunableStore, threshold, interval time.Duration, logger *zap.Logger) *Pruner {
	return &Pruner{store: store, threshold: threshold, interval: interval, logger: logger}
}

// Run prunes on a fixed interval until ctx is cancelled.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce runs a single prune cycle. Also called inline on read paths so a
// GET reflects staleness without waiting for the next tick.
func (p *Pruner) PruneOnce(ctx context.Context) {
	cutoff := p.store.Now(ctx) - p.threshold.Milliseconds()
	removed, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		p.logger.Warn("prune presence", zap.Error(err))
		return
	}
	if removed > 0 {
		metrics.SessionsPruned.Add(float64(removed))
		p.logger.Info("pruned stale listeners", zap.Int("removed", removed))
	}
}
