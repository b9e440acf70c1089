package notifications

import (
	"context"
	"time"

	"github.com/dtravers/tokenward/internal/util"
)

// PurgeWorker runs retention housekeeping on an interval instead of on
// every queue call.
type PurgeWorker struct {
	queue     *Queue
	retention time.Duration
	interval  time.Duration
}

// NewPurgeWorker creates a purge worker.
func NewPurgeWorker(queue *Queue, retention, interval time.Duration) *PurgeWorker {
	return &PurgeWorker{
		queue:     queue,
		retention: retention,
		interval:  interval,
	}
}

// Start runs the worker until the context is cancelled.
func (w *PurgeWorker) Start(ctx context.Context) {
	util.Info("Starting notification purge worker",
		"interval", w.interval,
		"retention", w.retention,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run immediately on start
	w.runPurge(ctx)

	for {
		select {
		case <-ctx.Done():
			util.Info("Notification purge worker stopping")
			return
		case <-ticker.C:
			w.runPurge(ctx)
		}
	}
}

func (w *PurgeWorker) runPurge(ctx context.Context) {
	removed, err := w.queue.PurgeExpired(ctx, w.retention)
	if err != nil {
		util.Error("Failed to purge expired notifications", "error", err)
		return
	}
	if removed > 0 {
		util.Info("Purged expired notifications", "count", removed)
	}
}
