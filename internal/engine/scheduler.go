package engine

import (
	"context"
	"log/slog"
	"time"
)

// RunTicks invokes tick at the given interval until ctx is cancelled. A tick
// that is still running when the next is due is skipped, not queued, so a
// slow tick never builds a backlog. One tick runs immediately on start.
func RunTicks(ctx context.Context, interval time.Duration, log *slog.Logger, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	running := make(chan struct{}, 1)
	launch := func() {
		select {
		case running <- struct{}{}:
			go func() {
				defer func() { <-running }()
				tick(ctx)
			}()
		default:
			log.Warn("previous tick still running, skipping")
		}
	}

	launch()
	for {
		select {
		case <-ctx.Done():
			// Wait for an in-flight tick so exchange calls finish or cancel
			// cleanly before the caller exits.
			running <- struct{}{}
			return
		case <-ticker.C:
			launch()
		}
	}
}
