package statedb

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/asheshgoplani/deckhand/internal/assistant"
	"github.com/asheshgoplani/deckhand/internal/logging"
	"github.com/asheshgoplani/deckhand/internal/terminal"
)

var storeLog = logging.ForComponent(logging.CompStore)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps a SQLite database holding discovered codenames, the session journal and
// the request journal. Safe for concurrent use; several processes may share one file
// through WAL mode and the busy timeout.
type StateDB struct {
	db  *sql.DB
	pid int
	now func() time.Time
}

// SessionRow is one journaled terminal session.
type SessionRow struct {
	ID        string
	Name      string
	RepoPath  string
	TaskLabel string
	Tracked   bool
	Status    string
	OwnerPID  int
	CreatedAt time.Time
	ExitedAt  time.Time // zero while running
	ExitCode  *int
}

// RequestRow is one journaled headless request.
type RequestRow struct {
	ProcessID string
	RequestID string
	Provider  string
	RepoPath  string
	StartedAt time.Time
	Duration  time.Duration
	OK        bool
	Error     string
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection, not just the first.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: ping: %w", err)
	}

	return &StateDB{db: db, pid: os.Getpid(), now: time.Now}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for tests.
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct {
		name string
		sql  string
	}{
		{"metadata", `
			CREATE TABLE IF NOT EXISTS metadata (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`},
		{"discovered_names", `
			CREATE TABLE IF NOT EXISTS discovered_names (
				name       TEXT PRIMARY KEY,
				first_seen INTEGER NOT NULL
			)`},
		{"sessions", `
			CREATE TABLE IF NOT EXISTS sessions (
				id         TEXT PRIMARY KEY,
				name       TEXT NOT NULL,
				repo_path  TEXT NOT NULL,
				task_label TEXT NOT NULL DEFAULT '',
				tracked    INTEGER NOT NULL DEFAULT 0,
				status     TEXT NOT NULL DEFAULT 'idle',
				owner_pid  INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				exited_at  INTEGER NOT NULL DEFAULT 0,
				exit_code  INTEGER
			)`},
		{"requests", `
			CREATE TABLE IF NOT EXISTS requests (
				process_id  TEXT PRIMARY KEY,
				request_id  TEXT NOT NULL,
				provider    TEXT NOT NULL,
				repo_path   TEXT NOT NULL DEFAULT '',
				started_at  INTEGER NOT NULL,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				ok          INTEGER NOT NULL DEFAULT 0,
				error       TEXT NOT NULL DEFAULT ''
			)`},
		{"requests index", `CREATE INDEX IF NOT EXISTS requests_started ON requests (started_at)`},
		{"instance_heartbeats", `
			CREATE TABLE IF NOT EXISTS instance_heartbeats (
				pid       INTEGER PRIMARY KEY,
				started   INTEGER NOT NULL,
				heartbeat INTEGER NOT NULL
			)`},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.sql); err != nil {
			return fmt.Errorf("statedb: create %s: %w", st.name, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Discovered names ---

// AddDiscoveredName records a codename and reports whether it had not been seen before.
// Storage errors are logged and reported as not new.
func (s *StateDB) AddDiscoveredName(name string) bool {
	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO discovered_names (name, first_seen) VALUES (?, ?)",
		name, s.now().Unix(),
	)
	if err != nil {
		storeLog.Warn("discovered_name_insert_failed", slog.String("name", name), slog.String("error", err.Error()))
		return false
	}
	n, err := res.RowsAffected()
	return err == nil && n > 0
}

// DiscoveredNames returns every recorded codename, oldest first.
func (s *StateDB) DiscoveredNames() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM discovered_names ORDER BY first_seen, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// --- Session journal ---

// RecordSpawn journals a new session owned by this process.
func (s *StateDB) RecordSpawn(info terminal.SessionInfo) {
	tracked := 0
	if info.Tracked {
		tracked = 1
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions (
			id, name, repo_path, task_label, tracked, status, owner_pid, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		info.ID, info.Name, info.RepoPath, info.TaskLabel, tracked,
		string(info.Status), s.pid, info.CreatedAt.Unix(),
	)
	s.logErr("session_record_spawn_failed", info.ID, err)
}

// RecordStatus stores a session's latest status.
func (s *StateDB) RecordStatus(id string, status terminal.Status) {
	_, err := s.db.Exec("UPDATE sessions SET status = ? WHERE id = ?", string(status), id)
	s.logErr("session_record_status_failed", id, err)
}

// RecordExit stores a session's exit code.
func (s *StateDB) RecordExit(id string, exitCode int) {
	_, err := s.db.Exec(
		"UPDATE sessions SET exit_code = ?, exited_at = ? WHERE id = ?",
		exitCode, s.now().Unix(), id,
	)
	s.logErr("session_record_exit_failed", id, err)
}

// SetTaskLabel updates a journaled session's label.
func (s *StateDB) SetTaskLabel(id, label string) error {
	_, err := s.db.Exec("UPDATE sessions SET task_label = ? WHERE id = ?", label, id)
	return err
}

// LoadSessions returns up to limit sessions, newest first. A limit of zero returns all.
func (s *StateDB) LoadSessions(limit int) ([]*SessionRow, error) {
	query := `
		SELECT id, name, repo_path, task_label, tracked, status, owner_pid,
			created_at, exited_at, exit_code
		FROM sessions ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*SessionRow
	for rows.Next() {
		r := &SessionRow{}
		var tracked int
		var createdUnix, exitedUnix int64
		var exitCode sql.NullInt64
		if err := rows.Scan(
			&r.ID, &r.Name, &r.RepoPath, &r.TaskLabel, &tracked, &r.Status, &r.OwnerPID,
			&createdUnix, &exitedUnix, &exitCode,
		); err != nil {
			return nil, err
		}
		r.Tracked = tracked != 0
		r.CreatedAt = time.Unix(createdUnix, 0)
		if exitedUnix > 0 {
			r.ExitedAt = time.Unix(exitedUnix, 0)
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			r.ExitCode = &code
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// CloseOrphanedSessions marks sessions left open by processes without a fresh heartbeat
// as exited with code -1. It returns how many rows changed.
func (s *StateDB) CloseOrphanedSessions(timeout time.Duration) (int, error) {
	now := s.now()
	cutoff := now.Add(-timeout).Unix()
	res, err := s.db.Exec(`
		UPDATE sessions
		SET exit_code = -1, exited_at = ?, status = ?
		WHERE exited_at = 0
		  AND owner_pid NOT IN (SELECT pid FROM instance_heartbeats WHERE heartbeat >= ?)
	`, now.Unix(), string(terminal.StatusError), cutoff)
	if err != nil {
		return 0, fmt.Errorf("statedb: close orphaned sessions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- Request journal ---

// RecordRequest journals a finished headless request.
func (s *StateDB) RecordRequest(rec assistant.RequestRecord) {
	ok := 1
	errText := ""
	if rec.Err != nil {
		ok = 0
		errText = rec.Err.Error()
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO requests (
			process_id, request_id, provider, repo_path, started_at, duration_ms, ok, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ProcessID, rec.RequestID, string(rec.Provider), rec.RepoPath,
		rec.StartedAt.Unix(), rec.Duration.Milliseconds(), ok, errText,
	)
	s.logErr("request_record_failed", rec.RequestID, err)
}

// LoadRequests returns up to limit requests, newest first. A limit of zero returns all.
func (s *StateDB) LoadRequests(limit int) ([]*RequestRow, error) {
	query := `
		SELECT process_id, request_id, provider, repo_path, started_at, duration_ms, ok, error
		FROM requests ORDER BY started_at DESC, process_id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RequestRow
	for rows.Next() {
		r := &RequestRow{}
		var startedUnix, durationMs int64
		var ok int
		if err := rows.Scan(
			&r.ProcessID, &r.RequestID, &r.Provider, &r.RepoPath,
			&startedUnix, &durationMs, &ok, &r.Error,
		); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(startedUnix, 0)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.OK = ok != 0
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- Heartbeat ---

// RegisterInstance records this process as a live server.
func (s *StateDB) RegisterInstance() error {
	now := s.now().Unix()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO instance_heartbeats (pid, started, heartbeat)
		VALUES (?, ?, ?)
	`, s.pid, now, now)
	return err
}

// Heartbeat updates the heartbeat timestamp for this process.
func (s *StateDB) Heartbeat() error {
	_, err := s.db.Exec(
		"UPDATE instance_heartbeats SET heartbeat = ? WHERE pid = ?",
		s.now().Unix(), s.pid,
	)
	return err
}

// UnregisterInstance removes this process from the heartbeat table.
func (s *StateDB) UnregisterInstance() error {
	_, err := s.db.Exec("DELETE FROM instance_heartbeats WHERE pid = ?", s.pid)
	return err
}

// CleanDeadInstances removes heartbeat entries that haven't been updated within timeout.
func (s *StateDB) CleanDeadInstances(timeout time.Duration) error {
	cutoff := s.now().Add(-timeout).Unix()
	_, err := s.db.Exec("DELETE FROM instance_heartbeats WHERE heartbeat < ?", cutoff)
	return err
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// MetaLastStarted holds the unix time of the most recent server start.
const MetaLastStarted = "last_started"

// RecordServerStart stores the current time as the last server start and returns the
// previous one, zero if none was recorded.
func (s *StateDB) RecordServerStart() (time.Time, error) {
	prev, err := s.LastServerStart()
	if err != nil {
		return time.Time{}, err
	}
	if err := s.SetMeta(MetaLastStarted, strconv.FormatInt(s.now().Unix(), 10)); err != nil {
		return time.Time{}, err
	}
	return prev, nil
}

// LastServerStart returns the recorded server start time, zero if none.
func (s *StateDB) LastServerStart() (time.Time, error) {
	v, err := s.GetMeta(MetaLastStarted)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("statedb: bad %s %q: %w", MetaLastStarted, v, err)
	}
	return time.Unix(secs, 0), nil
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *StateDB) logErr(event, id string, err error) {
	if err != nil {
		storeLog.Warn(event, slog.String("id", id), slog.String("error", err.Error()))
	}
}

var (
	_ terminal.CollectionTracker = (*StateDB)(nil)
	_ terminal.SessionRecorder   = (*StateDB)(nil)
	_ assistant.RequestRecorder  = (*StateDB)(nil)
)
