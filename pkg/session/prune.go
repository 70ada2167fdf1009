package session

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rmax-ai/mhive/pkg/logging"
)

// Pruner is implemented by backends that can drop whole stale sessions.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PruneWorker periodically removes sessions that are past the freshness
// window, so abandoned clients do not accumulate forever.
type PruneWorker struct {
	target   Pruner
	window   time.Duration
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time
}

// NewPruneWorker creates a worker. A non-positive interval defaults to one
// hour and a non-positive window to FreshnessWindow.
func NewPruneWorker(target Pruner, window, interval time.Duration, logger *log.Logger) *PruneWorker {
	if window <= 0 {
		window = FreshnessWindow
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &PruneWorker{
		target:   target,
		window:   window,
		interval: interval,
		logger:   logging.OrDiscard(logger),
		now:      time.Now,
	}
}

// Run prunes once immediately and then on every tick until ctx is done.
func (w *PruneWorker) Run(ctx context.Context) {
	w.logger.Info("starting session prune worker", "interval", w.interval, "window", w.window)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("session prune worker stopping")
			return
		case <-ticker.C:
			w.Prune(ctx)
		}
	}
}

// Prune removes sessions whose last write is older than the window and
// returns how many rows went.
func (w *PruneWorker) Prune(ctx context.Context) int64 {
	deleted, err := w.target.PruneBefore(ctx, w.now().Add(-w.window))
	if err != nil {
		w.logger.Warn("session prune failed", "err", err)
		return 0
	}
	if deleted > 0 {
		w.logger.Info("pruned stale sessions", "rows", deleted)
	}
	return deleted
}
