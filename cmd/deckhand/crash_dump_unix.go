//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// watchDumpSignal dumps the log ring buffer on SIGUSR1 until ctx ends.
func watchDumpSignal(ctx context.Context, dir string) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	defer signal.Stop(sigs)
	dumpOnSignal(ctx, dir, sigs)
}
