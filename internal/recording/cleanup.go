// Package recording holds retention housekeeping for the directory the
// host's recorder writes into. The engine never writes recordings itself;
// it only hands out target paths, so cleanup works purely off file age.
package recording

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/plugandtel/callpolicy/internal/config"
)

// StartCleanupTicker runs a background goroutine that periodically removes
// recording files older than the configured retention. Retention is read
// from the current config snapshot on every tick, so a reload takes effect
// without restarting the worker. A recording-days of 0 disables cleanup.
// The goroutine stops when the provided context is cancelled.
func StartCleanupTicker(ctx context.Context, holder *config.Holder, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cfg := holder.Current()
				if cfg.RecordingDays <= 0 {
					continue
				}

				maxAge := time.Duration(cfg.RecordingDays) * 24 * time.Hour
				removed, err := sweep(cfg.RecordingPath, "."+cfg.RecordingExt, maxAge)
				if err != nil {
					slog.Error("recording retention cleanup failed",
						"path", cfg.RecordingPath,
						"error", err,
					)
					continue
				}
				if removed > 0 {
					slog.Info("recording retention cleanup",
						"deleted", removed,
						"max_days", cfg.RecordingDays,
					)
				}
			}
		}
	}()
}

// sweep removes audio files in dir whose modification time is older than
// maxAge. Only files with the recorder's extension are touched; anything
// else in the directory is left alone.
func sweep(dir, ext string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ext {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove recording file", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
