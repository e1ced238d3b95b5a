package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/asheshgoplani/deckhand/internal/clock"
	"github.com/asheshgoplani/deckhand/internal/logging"
	"github.com/asheshgoplani/deckhand/internal/terminal"
)

var actionLog = logging.ForComponent(logging.CompAction)

const (
	DefaultWaitTimeout = 10 * time.Second

	// matchWindow bounds the unmatched output kept for wait_for.
	matchWindow = 64 * 1024
)

var (
	// ErrSpawnFailed means the action's session could not be started.
	ErrSpawnFailed = errors.New("action session spawn failed")
	// ErrSessionExited means the session ended while a wait_for was pending.
	ErrSessionExited = errors.New("session exited before pattern matched")
)

// PatternTimeoutError aborts an action whose wait_for step never matched.
type PatternTimeoutError struct {
	Pattern string
	Timeout time.Duration
}

func (e *PatternTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for pattern %q", e.Timeout, e.Pattern)
}

// Sessions is the part of terminal.Manager the engine drives.
type Sessions interface {
	Spawn(repoPath string, track bool) (*terminal.SpawnResult, error)
	Write(id string, data []byte) error
	Attach(id string) (string, *terminal.Subscription, error)
}

// Result identifies the session an action ran in. The session is left running.
type Result struct {
	SessionID   string
	SessionName string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the clock behind delay and wait_for timeouts.
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithDefaultWaitTimeout sets the timeout for wait_for steps that do not set their own.
func WithDefaultWaitTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.waitTimeout = d
		}
	}
}

// Engine executes actions one step at a time.
type Engine struct {
	sessions    Sessions
	clock       clock.Clock
	waitTimeout time.Duration
}

// NewEngine returns an Engine that runs actions in sessions spawned from sessions.
func NewEngine(sessions Sessions, opts ...Option) *Engine {
	e := &Engine{
		sessions:    sessions,
		clock:       clock.Real{},
		waitTimeout: DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute spawns a session in repoPath and runs a's steps in order. A spawn failure
// returns a nil Result. A step failure aborts the remaining steps and returns the Result
// together with the error, so the caller can decide what to do with the session.
func (e *Engine) Execute(ctx context.Context, a Action, repoPath string) (*Result, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	spawned, err := e.sessions.Spawn(repoPath, false)
	if err != nil {
		actionLog.Error("action_spawn_failed", slog.String("action", a.Name), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	res := &Result{SessionID: spawned.ID, SessionName: spawned.Name}

	// Output printed between spawn and attach is in the snapshot.
	snapshot, sub, err := e.sessions.Attach(spawned.ID)
	if err != nil {
		return res, fmt.Errorf("attach to session %s: %w", spawned.ID, err)
	}
	defer sub.Close()

	run := &run{engine: e, sub: sub, sessionID: spawned.ID}
	run.appendOutput(snapshot)
	actionLog.Info("action_started", slog.String("action", a.Name), slog.String("session_id", spawned.ID))

	for i, step := range a.Steps {
		if err := run.step(ctx, step); err != nil {
			actionLog.Warn("action_step_failed",
				slog.String("action", a.Name),
				slog.Int("step", i+1),
				slog.String("type", string(step.Type)),
				slog.String("error", err.Error()))
			return res, fmt.Errorf("action %q step %d: %w", a.Name, i+1, err)
		}
	}
	actionLog.Info("action_completed", slog.String("action", a.Name), slog.String("session_id", spawned.ID))
	return res, nil
}

// run is one execution's state. window holds output seen since the last match.
type run struct {
	engine    *Engine
	sub       *terminal.Subscription
	sessionID string
	window    string
	exited    bool
}

func (r *run) step(ctx context.Context, s Step) error {
	switch s.Type {
	case StepWrite:
		return r.engine.sessions.Write(r.sessionID, []byte(s.Content))
	case StepDelay:
		return r.sleep(ctx, time.Duration(s.Ms)*time.Millisecond)
	case StepWaitFor:
		timeout := time.Duration(s.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = r.engine.waitTimeout
		}
		return r.waitFor(ctx, s.Pattern, timeout)
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}
}

func (r *run) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	fired := make(chan struct{})
	t := r.engine.clock.AfterFunc(d, func() { close(fired) })
	defer t.Stop()
	select {
	case <-fired:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *run) waitFor(ctx context.Context, pattern string, timeout time.Duration) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	if r.consume(re) {
		return nil
	}
	if r.exited {
		return ErrSessionExited
	}

	expired := make(chan struct{})
	t := r.engine.clock.AfterFunc(timeout, func() { close(expired) })
	defer t.Stop()

	for {
		select {
		case ev, ok := <-r.sub.C:
			if !ok {
				r.exited = true
				return ErrSessionExited
			}
			switch ev.Kind {
			case terminal.EventOutput:
				r.appendOutput(ev.Data)
				if r.consume(re) {
					return nil
				}
			case terminal.EventExit:
				r.exited = true
				return ErrSessionExited
			}
		case <-expired:
			return &PatternTimeoutError{Pattern: pattern, Timeout: timeout}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *run) appendOutput(data string) {
	r.window += data
	if len(r.window) > matchWindow {
		r.window = r.window[len(r.window)-matchWindow:]
	}
}

// consume reports whether re matches the window and drops everything up to the match end.
func (r *run) consume(re *regexp.Regexp) bool {
	loc := re.FindStringIndex(r.window)
	if loc == nil {
		return false
	}
	r.window = r.window[loc[1]:]
	return true
}
