package local

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// ReloadOnChange polls the snapshot file and swaps the in-memory state
// whenever it changes. It is how a read-mostly process follows the snapshot
// owner without restarting. Blocks until ctx is cancelled.
//
// A corrupt snapshot is logged and skipped; the previous in-memory state
// keeps serving until a good snapshot appears.
func (idx *Index) ReloadOnChange(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if idx.path == "" {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	var lastMod time.Time
	var lastSize int64
	if info, err := os.Stat(idx.path); err == nil {
		lastMod, lastSize = info.ModTime(), info.Size()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		info, err := os.Stat(idx.path)
		if err != nil {
			continue
		}
		if info.ModTime().Equal(lastMod) && info.Size() == lastSize {
			continue
		}
		if err := idx.Load(ctx); err != nil {
			logger.Warn("reload index snapshot", "error", err)
			continue
		}
		lastMod, lastSize = info.ModTime(), info.Size()
		logger.Info("index snapshot reloaded", "entries", idx.Count())
	}
}
