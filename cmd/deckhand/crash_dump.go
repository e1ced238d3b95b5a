package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/asheshgoplani/deckhand/internal/logging"
)

// writeCrashDump writes the in-memory log tail to dir/crash-dump-<unix>.jsonl.
func writeCrashDump(dir string, now time.Time) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("crash-dump-%d.jsonl", now.Unix()))
	if err := logging.DumpRingBuffer(path); err != nil {
		return "", err
	}
	return path, nil
}

// dumpOnSignal writes a crash dump for every signal received until ctx ends.
func dumpOnSignal(ctx context.Context, dir string, sigs <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			path, err := writeCrashDump(dir, time.Now())
			if err != nil {
				cliLog.Error("crash_dump_failed", slog.String("error", err.Error()))
				continue
			}
			cliLog.Info("crash_dump_written", slog.String("path", path))
		}
	}
}
