package terminal

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/deckhand/internal/clock"
	"github.com/asheshgoplani/deckhand/internal/logging"
)

var termLog = logging.ForComponent(logging.CompTerminal)

var (
	// ErrSessionLimit is returned by Spawn when the live-session cap is reached.
	ErrSessionLimit = errors.New("terminal session limit reached")
	// ErrSessionNotFound is returned for unknown or already-exited session ids.
	ErrSessionNotFound = errors.New("terminal session not found")
)

// Defaults applied to zero Config fields.
const (
	DefaultMaxSessions    = 10
	DefaultCols           = 120
	DefaultRows           = 32
	// DefaultSilenceTimeout is how long activity-sourced sessions stay working after
	// their last output.
	DefaultSilenceTimeout = 1500 * time.Millisecond
)

// StatusSource selects which signal drives a session's status.
type StatusSource int

const (
	// StatusFromTitle uses OSC title sequences published by the assistant CLI.
	StatusFromTitle StatusSource = iota
	// StatusFromActivity treats any output as working and silence as done.
	StatusFromActivity
)

// Notifier is told about every status transition.
type Notifier interface {
	NotifyStatusChange(sessionID string, status Status, repoPath string)
	RemoveSession(sessionID string)
}

// CollectionTracker records codenames; it reports whether name had not been seen before.
type CollectionTracker interface {
	AddDiscoveredName(name string) bool
}

// RawDataInspector observes raw output for debugging. It never affects control flow.
type RawDataInspector interface {
	Inspect(sessionID string, chunk string)
	OnSessionExit(sessionID string)
}

// SessionRecorder persists session lifecycle facts.
type SessionRecorder interface {
	RecordSpawn(info SessionInfo)
	RecordStatus(sessionID string, status Status)
	RecordExit(sessionID string, exitCode int)
}

// LabelRecorder is optionally implemented by a SessionRecorder that also keeps task labels.
type LabelRecorder interface {
	SetTaskLabel(sessionID, label string) error
}

// Config controls limits and defaults for new sessions.
type Config struct {
	MaxSessions     int
	BufferMax       int
	BufferLookahead int
	Cols            uint16
	Rows            uint16
	// SilenceTimeout is the quiet period after which an activity-driven session is done.
	SilenceTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.Cols == 0 {
		c.Cols = DefaultCols
	}
	if c.Rows == 0 {
		c.Rows = DefaultRows
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	return c
}

// SpawnOptions describes a new session.
type SpawnOptions struct {
	RepoPath  string
	Track     bool
	TaskLabel string
	Source    StatusSource
}

// SpawnResult identifies a freshly spawned session.
type SpawnResult struct {
	ID    string
	Name  string
	IsNew bool
}

// SessionInfo is a read-only view of a live session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RepoPath  string    `json:"repoPath"`
	TaskLabel string    `json:"taskLabel,omitempty"`
	Tracked   bool      `json:"tracked"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type session struct {
	id        string
	name      string
	repoPath  string
	tracked   bool
	createdAt time.Time
	source    StatusSource

	proc   Process
	buffer *OutputBuffer
	status *StatusMachine

	// outMu orders scrollback appends against Attach snapshots.
	outMu sync.Mutex

	mu      sync.Mutex
	label   string
	silence clock.Timer

	exitOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithStarter sets how session processes are started. The default is PTYStarter.
func WithStarter(s Starter) Option { return func(m *Manager) { m.starter = s } }

// WithNotifier receives every status transition.
func WithNotifier(n Notifier) Option { return func(m *Manager) { m.notifier = n } }

// WithCollectionTracker records each spawned codename and decides SpawnResult.IsNew.
func WithCollectionTracker(t CollectionTracker) Option { return func(m *Manager) { m.tracker = t } }

// WithInspector sees each raw output chunk after it is buffered.
func WithInspector(i RawDataInspector) Option { return func(m *Manager) { m.inspector = i } }

// WithRecorder journals session lifecycle events.
func WithRecorder(r SessionRecorder) Option { return func(m *Manager) { m.recorder = r } }

// WithClock replaces the clock behind silence timers.
func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

// Manager owns every terminal session it spawns: the PTY process, its scrollback,
// title parsing and status. Sessions are never shared between managers.
type Manager struct {
	cfg       Config
	starter   Starter
	notifier  Notifier
	tracker   CollectionTracker
	inspector RawDataInspector
	recorder  SessionRecorder
	clock     clock.Clock

	titles *TitleParser
	hub    *hub

	mu            sync.Mutex
	sessions      map[string]*session
	starting      int
	windowFocused bool
}

// NewManager creates a manager. Without WithStarter sessions run the default shell under
// a real PTY.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:           cfg.withDefaults(),
		starter:       PTYStarter{},
		clock:         clock.Real{},
		titles:        NewTitleParser(),
		hub:           newHub(),
		sessions:      make(map[string]*session),
		windowFocused: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetMaxSessions changes the cap for future spawns. Live sessions are not affected.
func (m *Manager) SetMaxSessions(n int) {
	if n <= 0 {
		n = DefaultMaxSessions
	}
	m.mu.Lock()
	m.cfg.MaxSessions = n
	m.mu.Unlock()
}

// Spawn starts the default shell in repoPath.
func (m *Manager) Spawn(repoPath string, track bool) (*SpawnResult, error) {
	return m.SpawnWithOptions(SpawnOptions{RepoPath: repoPath, Track: track})
}

// SpawnWithOptions starts a session. It fails with ErrSessionLimit when the cap is reached;
// start failures are returned as-is and never retried.
func (m *Manager) SpawnWithOptions(opts SpawnOptions) (*SpawnResult, error) {
	m.mu.Lock()
	if len(m.sessions)+m.starting >= m.cfg.MaxSessions {
		limit := m.cfg.MaxSessions
		m.mu.Unlock()
		termLog.Warn("spawn_rejected_limit", slog.Int("max_sessions", limit))
		return nil, fmt.Errorf("%w (%d)", ErrSessionLimit, limit)
	}
	m.starting++
	windowFocused := m.windowFocused
	m.mu.Unlock()

	proc, err := m.starter.Start(opts.RepoPath, m.cfg.Cols, m.cfg.Rows)
	if err != nil {
		m.mu.Lock()
		m.starting--
		m.mu.Unlock()
		termLog.Error("spawn_failed", slog.String("repo", opts.RepoPath), slog.String("error", err.Error()))
		return nil, fmt.Errorf("spawn session in %s: %w", opts.RepoPath, err)
	}

	s := &session{
		id:        uuid.NewString(),
		name:      GenerateCodename(),
		repoPath:  opts.RepoPath,
		tracked:   opts.Track,
		createdAt: m.clock.Now(),
		source:    opts.Source,
		label:     opts.TaskLabel,
		proc:      proc,
		buffer:    NewOutputBuffer(m.cfg.BufferMax, m.cfg.BufferLookahead),
	}
	s.status = NewStatusMachine(windowFocused, func(st Status) { m.statusChanged(s, st) })

	isNew := false
	if m.tracker != nil {
		isNew = m.tracker.AddDiscoveredName(s.name)
	}

	m.mu.Lock()
	m.starting--
	m.sessions[s.id] = s
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.RecordSpawn(s.info())
	}
	termLog.Info("session_spawned",
		slog.String("session_id", s.id),
		slog.String("name", s.name),
		slog.String("repo", s.repoPath),
		slog.Bool("tracked", s.tracked))

	go m.readLoop(s)

	return &SpawnResult{ID: s.id, Name: s.name, IsNew: isNew}, nil
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Write forwards raw bytes to the session's terminal.
func (m *Manager) Write(id string, data []byte) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if _, err := s.proc.Write(data); err != nil {
		return fmt.Errorf("write to session %s: %w", id, err)
	}
	return nil
}

// UserInput records that the user typed into the session, then forwards data.
func (m *Manager) UserInput(id string, data []byte) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.status.OnUserInput()
	if _, err := s.proc.Write(data); err != nil {
		return fmt.Errorf("write to session %s: %w", id, err)
	}
	return nil
}

// Resize changes the terminal geometry.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	return s.proc.Resize(cols, rows)
}

// Kill terminates a session. Bookkeeping is removed before the process is signalled, so
// the id is unknown to every later call. Unknown ids are ignored.
func (m *Manager) Kill(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := s.proc.Kill(); err != nil {
		termLog.Warn("session_kill_failed", slog.String("session_id", id), slog.String("error", err.Error()))
	}
}

// KillAll terminates every live session and returns the first kill error.
func (m *Manager) KillAll() error {
	m.mu.Lock()
	victims := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		victims = append(victims, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range victims {
		g.Go(func() error {
			if err := s.proc.Kill(); err != nil {
				return fmt.Errorf("kill session %s: %w", s.id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// SetTabFocus reports whether the session's tab gained or lost focus.
func (m *Manager) SetTabFocus(id string, focused bool) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if focused {
		s.status.OnFocus()
	} else {
		s.status.OnBlur()
	}
	return nil
}

// SetWindowFocus reports application-window focus; it applies to every live session.
func (m *Manager) SetWindowFocus(focused bool) {
	m.mu.Lock()
	m.windowFocused = focused
	live := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		if focused {
			s.status.OnWindowFocus()
		} else {
			s.status.OnWindowBlur()
		}
	}
}

// SetTaskLabel attaches a human-readable label to a session.
func (m *Manager) SetTaskLabel(id, label string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.label = label
	s.mu.Unlock()
	if lr, ok := m.recorder.(LabelRecorder); ok {
		if err := lr.SetTaskLabel(id, label); err != nil {
			termLog.Warn("label_record_failed", slog.String("session_id", id), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Get returns a snapshot of one session.
func (m *Manager) Get(id string) (SessionInfo, bool) {
	s, err := m.lookup(id)
	if err != nil {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// List returns every live session, oldest first.
func (m *Manager) List() []SessionInfo {
	m.mu.Lock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Output returns the session's retained scrollback.
func (m *Manager) Output(id string) (string, error) {
	s, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	return s.buffer.String(), nil
}

// Subscribe streams output, status and exit events for one session.
func (m *Manager) Subscribe(id string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return m.hub.subscribe(id), nil
}

// Attach returns the current scrollback together with a subscription that starts
// exactly where the scrollback ends.
func (m *Manager) Attach(id string) (string, *Subscription, error) {
	s, err := m.lookup(id)
	if err != nil {
		return "", nil, err
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()

	// Subscribing under m.mu orders this against handleExit's removal, so the
	// subscription either sees the exit event or the attach fails.
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[id]; !ok || cur != s {
		return "", nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.buffer.String(), m.hub.subscribe(id), nil
}

// SubscribeAll streams events for every session. Close it when done.
func (m *Manager) SubscribeAll() *Subscription {
	return m.hub.subscribe("")
}

func (m *Manager) readLoop(s *session) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.proc.Read(buf)
		if n > 0 {
			m.handleOutput(s, string(buf[:n]))
		}
		if err != nil {
			break
		}
	}
	code, err := s.proc.Wait()
	if err != nil {
		termLog.Debug("session_wait_failed", slog.String("session_id", s.id), slog.String("error", err.Error()))
	}
	m.handleExit(s, code)
}

func (m *Manager) handleOutput(s *session, chunk string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	s.buffer.Append(chunk)
	if m.inspector != nil {
		m.inspector.Inspect(s.id, chunk)
	}

	switch s.source {
	case StatusFromActivity:
		s.status.OnOutputActivity()
		m.armSilence(s)
	default:
		m.titles.Parse(s.id, chunk, func(_ string, working bool) {
			s.status.OnTitleChange(working)
		})
	}

	logging.Aggregate(logging.CompTerminal, "pty_output", slog.String("session_id", s.id))
	m.hub.publish(Event{Kind: EventOutput, SessionID: s.id, Data: chunk})
}

func (m *Manager) armSilence(s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.silence != nil {
		s.silence.Stop()
	}
	s.silence = m.clock.AfterFunc(m.cfg.SilenceTimeout, s.status.OnOutputSilence)
}

func (m *Manager) statusChanged(s *session, st Status) {
	termLog.Debug("status_changed", slog.String("session_id", s.id), slog.String("status", string(st)))
	if m.notifier != nil {
		m.notifier.NotifyStatusChange(s.id, st, s.repoPath)
	}
	if m.recorder != nil {
		m.recorder.RecordStatus(s.id, st)
	}
	m.hub.publish(Event{Kind: EventStatus, SessionID: s.id, Status: st})
}

func (m *Manager) handleExit(s *session, code int) {
	s.exitOnce.Do(func() {
		m.mu.Lock()
		if cur, ok := m.sessions[s.id]; ok && cur == s {
			delete(m.sessions, s.id)
		}
		m.mu.Unlock()

		s.mu.Lock()
		if s.silence != nil {
			s.silence.Stop()
			s.silence = nil
		}
		s.mu.Unlock()

		m.titles.Clear(s.id)
		if m.inspector != nil {
			m.inspector.OnSessionExit(s.id)
		}
		s.status.OnExit(code)
		if m.notifier != nil {
			m.notifier.RemoveSession(s.id)
		}
		if m.recorder != nil {
			m.recorder.RecordExit(s.id, code)
		}
		termLog.Info("session_exited", slog.String("session_id", s.id), slog.Int("exit_code", code))
		m.hub.publish(Event{Kind: EventExit, SessionID: s.id, ExitCode: code})
	})
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	label := s.label
	s.mu.Unlock()
	return SessionInfo{
		ID:        s.id,
		Name:      s.name,
		RepoPath:  s.repoPath,
		TaskLabel: label,
		Tracked:   s.tracked,
		Status:    s.status.Status(),
		CreatedAt: s.createdAt,
	}
}
