package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/asheshgoplani/deckhand/internal/logging"
)

func TestWriteCrashDump(t *testing.T) {
	dir := t.TempDir()
	logging.Init(logging.Config{LogDir: filepath.Join(dir, "logs")})
	defer logging.Shutdown()
	cliLog.Info("before_crash")

	path, err := writeCrashDump(dir, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("writeCrashDump: %v", err)
	}
	if want := filepath.Join(dir, "crash-dump-1700000000.jsonl"); path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	if !strings.Contains(string(data), "before_crash") {
		t.Fatalf("dump missing log tail: %q", data)
	}
}

func TestDumpOnSignalWritesFile(t *testing.T) {
	dir := t.TempDir()
	logging.Init(logging.Config{LogDir: filepath.Join(dir, "logs")})
	defer logging.Shutdown()
	cliLog.Info("serving")

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	go func() {
		dumpOnSignal(ctx, dir, sigs)
		close(done)
	}()
	sigs <- os.Interrupt

	deadline := time.Now().Add(2 * time.Second)
	for {
		matches, _ := filepath.Glob(filepath.Join(dir, "crash-dump-*.jsonl"))
		if len(matches) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no crash dump written, found %v", matches)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dumpOnSignal did not stop after cancel")
	}
}
