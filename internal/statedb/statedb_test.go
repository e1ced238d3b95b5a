package statedb

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asheshgoplani/deckhand/internal/assistant"
	"github.com/asheshgoplani/deckhand/internal/stream"
	"github.com/asheshgoplani/deckhand/internal/terminal"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *StateDB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	db.now = func() time.Time { return testNow }
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "state.db")

	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db1.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !db1.AddDiscoveredName("cosmic-kraken") {
		t.Fatal("expected first insert to be new")
	}
	db1.Close()

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	defer db2.Close()
	if err := db2.Migrate(); err != nil {
		t.Fatalf("Migrate again: %v", err)
	}
	if db2.AddDiscoveredName("cosmic-kraken") {
		t.Error("name should persist across reopen")
	}
	version, err := db2.GetMeta("schema_version")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if version != "1" {
		t.Errorf("schema_version = %q", version)
	}
}

func TestDiscoveredNames(t *testing.T) {
	db := newTestDB(t)

	if !db.AddDiscoveredName("amber-buoy") {
		t.Error("amber-buoy should be new")
	}
	if !db.AddDiscoveredName("zen-orca") {
		t.Error("zen-orca should be new")
	}
	if db.AddDiscoveredName("amber-buoy") {
		t.Error("amber-buoy should not be new twice")
	}

	names, err := db.DiscoveredNames()
	if err != nil {
		t.Fatalf("DiscoveredNames: %v", err)
	}
	if len(names) != 2 || names[0] != "amber-buoy" || names[1] != "zen-orca" {
		t.Errorf("names = %v", names)
	}
}

func TestSessionJournal(t *testing.T) {
	db := newTestDB(t)

	db.RecordSpawn(terminal.SessionInfo{
		ID:        "s1",
		Name:      "lunar-keel",
		RepoPath:  "/work/app",
		TaskLabel: "fix flaky test",
		Tracked:   true,
		Status:    terminal.StatusIdle,
		CreatedAt: testNow.Add(-time.Minute),
	})
	db.RecordSpawn(terminal.SessionInfo{ID: "s2", Name: "vivid-tern", RepoPath: "/work/lib", CreatedAt: testNow})
	db.RecordStatus("s1", terminal.StatusWaitingUnseen)
	db.RecordExit("s1", 2)
	if err := db.SetTaskLabel("s2", "docs"); err != nil {
		t.Fatalf("SetTaskLabel: %v", err)
	}

	rows, err := db.LoadSessions(0)
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(rows))
	}
	if rows[0].ID != "s2" || rows[1].ID != "s1" {
		t.Errorf("wrong order: %s, %s", rows[0].ID, rows[1].ID)
	}

	s1 := rows[1]
	if s1.Status != string(terminal.StatusWaitingUnseen) || !s1.Tracked || s1.TaskLabel != "fix flaky test" {
		t.Errorf("unexpected s1: %+v", s1)
	}
	if s1.ExitCode == nil || *s1.ExitCode != 2 {
		t.Errorf("exit code = %v", s1.ExitCode)
	}
	if !s1.ExitedAt.Equal(testNow) {
		t.Errorf("exited at = %v", s1.ExitedAt)
	}

	s2 := rows[0]
	if s2.ExitCode != nil || !s2.ExitedAt.IsZero() {
		t.Errorf("s2 should still be running: %+v", s2)
	}
	if s2.TaskLabel != "docs" {
		t.Errorf("label = %q", s2.TaskLabel)
	}

	limited, err := db.LoadSessions(1)
	if err != nil {
		t.Fatalf("LoadSessions(1): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d rows", len(limited))
	}
}

func TestCloseOrphanedSessions(t *testing.T) {
	db := newTestDB(t)

	if err := db.RegisterInstance(); err != nil {
		t.Fatalf("RegisterInstance: %v", err)
	}
	db.RecordSpawn(terminal.SessionInfo{ID: "mine", Name: "a", RepoPath: "/r", CreatedAt: testNow})

	if _, err := db.DB().Exec(
		"INSERT INTO sessions (id, name, repo_path, owner_pid, created_at) VALUES (?, ?, ?, ?, ?)",
		"orphan", "b", "/r", 99999, testNow.Unix(),
	); err != nil {
		t.Fatalf("insert orphan: %v", err)
	}

	n, err := db.CloseOrphanedSessions(30 * time.Second)
	if err != nil {
		t.Fatalf("CloseOrphanedSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 orphan closed, got %d", n)
	}

	rows, _ := db.LoadSessions(0)
	for _, r := range rows {
		switch r.ID {
		case "mine":
			if r.ExitCode != nil {
				t.Errorf("live session closed: %+v", r)
			}
		case "orphan":
			if r.ExitCode == nil || *r.ExitCode != -1 || r.Status != string(terminal.StatusError) {
				t.Errorf("orphan not closed: %+v", r)
			}
		}
	}
}

func TestRequestJournal(t *testing.T) {
	db := newTestDB(t)

	db.RecordRequest(assistant.RequestRecord{
		RequestID: "r1",
		ProcessID: "p1",
		Provider:  stream.ProviderClaude,
		RepoPath:  "/repo",
		StartedAt: testNow.Add(-time.Hour),
		Duration:  1500 * time.Millisecond,
	})
	db.RecordRequest(assistant.RequestRecord{
		RequestID: "r1",
		ProcessID: "p2",
		Provider:  stream.ProviderCodex,
		StartedAt: testNow,
		Err:       errors.New("timed out after 5 minutes"),
	})

	rows, err := db.LoadRequests(0)
	if err != nil {
		t.Fatalf("LoadRequests: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(rows))
	}
	if rows[0].ProcessID != "p2" || rows[0].OK || rows[0].Error != "timed out after 5 minutes" {
		t.Errorf("unexpected newest row: %+v", rows[0])
	}
	if rows[1].ProcessID != "p1" || !rows[1].OK || rows[1].Duration != 1500*time.Millisecond || rows[1].Provider != "claude" {
		t.Errorf("unexpected oldest row: %+v", rows[1])
	}
}

func TestHeartbeat(t *testing.T) {
	db := newTestDB(t)

	if err := db.RegisterInstance(); err != nil {
		t.Fatalf("RegisterInstance: %v", err)
	}
	if err := db.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	stale := testNow.Add(-2 * time.Minute).Unix()
	if _, err := db.DB().Exec(
		"INSERT INTO instance_heartbeats (pid, started, heartbeat) VALUES (?, ?, ?)",
		99999, stale, stale,
	); err != nil {
		t.Fatalf("insert stale: %v", err)
	}
	if err := db.CleanDeadInstances(time.Minute); err != nil {
		t.Fatalf("CleanDeadInstances: %v", err)
	}

	var count int
	if err := db.DB().QueryRow("SELECT COUNT(*) FROM instance_heartbeats").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected only the live instance, got %d", count)
	}

	if err := db.UnregisterInstance(); err != nil {
		t.Fatalf("UnregisterInstance: %v", err)
	}
	_ = db.DB().QueryRow("SELECT COUNT(*) FROM instance_heartbeats").Scan(&count)
	if count != 0 {
		t.Errorf("expected 0 after unregister, got %d", count)
	}
}

func TestMetadata(t *testing.T) {
	db := newTestDB(t)

	val, err := db.GetMeta("nonexistent")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if val != "" {
		t.Errorf("Expected empty, got %q", val)
	}

	if err := db.SetMeta("test_key", "test_value"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := db.SetMeta("test_key", "new_value"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	val, _ = db.GetMeta("test_key")
	if val != "new_value" {
		t.Errorf("Expected 'new_value', got %q", val)
	}
}

func TestRecordServerStart(t *testing.T) {
	db := newTestDB(t)

	prev, err := db.RecordServerStart()
	if err != nil {
		t.Fatalf("RecordServerStart: %v", err)
	}
	if !prev.IsZero() {
		t.Errorf("first start: previous = %v, want zero", prev)
	}

	db.now = func() time.Time { return testNow.Add(time.Hour) }
	prev, err = db.RecordServerStart()
	if err != nil {
		t.Fatalf("RecordServerStart: %v", err)
	}
	if !prev.Equal(testNow) {
		t.Errorf("previous = %v, want %v", prev, testNow)
	}

	last, err := db.LastServerStart()
	if err != nil {
		t.Fatalf("LastServerStart: %v", err)
	}
	if !last.Equal(testNow.Add(time.Hour)) {
		t.Errorf("last = %v, want %v", last, testNow.Add(time.Hour))
	}

	if err := db.SetMeta(MetaLastStarted, "garbage"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if _, err := db.LastServerStart(); err == nil {
		t.Error("expected error for malformed start time")
	}
}

func TestConcurrentAccess(t *testing.T) {
	db := newTestDB(t)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id := string(rune('a'+idx)) + "-" + string(rune('a'+j))
				db.AddDiscoveredName(id)
				db.RecordSpawn(terminal.SessionInfo{ID: id, Name: id, RepoPath: "/tmp", CreatedAt: testNow})
				db.RecordStatus(id, terminal.StatusWorking)
				_, _ = db.LoadSessions(10)
			}
		}(i)
	}
	wg.Wait()

	names, err := db.DiscoveredNames()
	if err != nil {
		t.Fatalf("DiscoveredNames: %v", err)
	}
	if len(names) != 100 {
		t.Errorf("expected 100 names, got %d", len(names))
	}
}
