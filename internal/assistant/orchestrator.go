// Package assistant runs headless one-shot assistant CLI requests and streams their
// output back through callbacks.
package assistant

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asheshgoplani/deckhand/internal/clock"
	"github.com/asheshgoplani/deckhand/internal/logging"
	"github.com/asheshgoplani/deckhand/internal/stream"
)

var assistLog = logging.ForComponent(logging.CompAssistant)

const (
	DefaultMaxConcurrent  = 2
	DefaultTimeout        = 5 * time.Minute
	DefaultMaxOutputBytes = 1 << 20

	stderrLogLimit = 500
)

// Activity types reported through Callbacks.Activity.
const (
	ActivityToolStart = "tool_start"
	ActivityToolEnd   = "tool_end"
	// ActivityReasoning is an extension beyond the tool pair: it carries provider
	// reasoning text (preview deltas), which goes into the preview accumulator but
	// never through Callbacks.Delta, so clients can show it apart from the answer.
	// Clients that only know tool_start and tool_end can ignore it.
	ActivityReasoning = "reasoning"
)

// Activity is a progress signal that is not answer text.
type Activity struct {
	Type string `json:"type"`
	Tool string `json:"tool,omitempty"`
	Text string `json:"text,omitempty"`
}

// Callbacks receive a request's output. Done fires exactly once per started request,
// with a nil error and the final text on success.
type Callbacks struct {
	Delta    func(requestID, text string)
	Activity func(requestID string, a Activity)
	Done     func(requestID, text string, err error)
}

// Config controls the orchestrator's limits and provider invocations.
type Config struct {
	// Provider is used when a Request does not name one.
	Provider       stream.Provider
	Providers      map[stream.Provider]ProviderConfig
	MaxConcurrent  int
	Timeout        time.Duration
	MaxOutputBytes int
	BenignStderr   []string
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = stream.ProviderClaude
	}
	defaults := DefaultProviders()
	if c.Providers == nil {
		c.Providers = defaults
	} else {
		merged := make(map[stream.Provider]ProviderConfig, len(defaults))
		for k, v := range defaults {
			merged[k] = v
		}
		for k, v := range c.Providers {
			if v.Binary == "" {
				v.Binary = defaults[k].Binary
			}
			if v.Args == nil {
				v.Args = defaults[k].Args
			}
			merged[k] = v
		}
		c.Providers = merged
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if c.BenignStderr == nil {
		c.BenignStderr = DefaultBenignStderr
	}
	return c
}

// Request is one headless ask.
type Request struct {
	RequestID string
	RepoPath  string
	Prompt    string
	// Provider overrides Config.Provider.
	Provider stream.Provider
}

// Result reports whether a request was accepted.
type Result struct {
	Started   bool
	ProcessID string
}

// RequestRecord summarises a finished request.
type RequestRecord struct {
	RequestID string
	ProcessID string
	Provider  stream.Provider
	RepoPath  string
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// RequestRecorder persists finished requests.
type RequestRecorder interface {
	RecordRequest(rec RequestRecord)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLauncher(l Launcher) Option        { return func(o *Orchestrator) { o.launcher = l } }
func WithClock(c clock.Clock) Option        { return func(o *Orchestrator) { o.clock = c } }
func WithRecorder(r RequestRecorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// Orchestrator runs at most one process per request id and at most MaxConcurrent overall.
type Orchestrator struct {
	cb       Callbacks
	launcher Launcher
	clock    clock.Clock
	recorder RequestRecorder

	mu       sync.Mutex
	cfg      Config
	inflight map[string]*request // by process id
	byID     map[string]*request // by request id
}

type request struct {
	id        string
	pid       string
	provider  stream.Provider
	repoPath  string
	startedAt time.Time

	proc   Process
	parser stream.Parser

	mu           sync.Mutex
	parsed       []stream.Event
	preview      strings.Builder
	response     strings.Builder
	agentMessage string
	errText      strings.Builder
	killed       bool
	finished     bool
	timer        clock.Timer

	doneOnce sync.Once
}

// NewOrchestrator creates an orchestrator. Without WithLauncher it runs real processes.
func NewOrchestrator(cfg Config, cb Callbacks, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cb:       cb,
		launcher: ExecLauncher{},
		clock:    clock.Real{},
		cfg:      cfg.withDefaults(),
		inflight: make(map[string]*request),
		byID:     make(map[string]*request),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetMaxConcurrent changes the global cap for future asks.
func (o *Orchestrator) SetMaxConcurrent(n int) {
	if n <= 0 {
		n = DefaultMaxConcurrent
	}
	o.mu.Lock()
	o.cfg.MaxConcurrent = n
	o.mu.Unlock()
}

// InFlight returns the number of running requests.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

// Active reports whether requestID has a process in flight.
func (o *Orchestrator) Active(requestID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.byID[requestID]
	return ok
}

// Ask starts a headless request and returns immediately. It rejects the request without
// starting anything when the global cap is reached or requestID is already in flight.
// A launch failure is reported once through Callbacks.Done.
func (o *Orchestrator) Ask(req Request) (Result, error) {
	o.mu.Lock()
	cfg := o.cfg
	if len(o.inflight) >= cfg.MaxConcurrent {
		o.mu.Unlock()
		assistLog.Warn("ask_rejected_limit", slog.String("request_id", req.RequestID), slog.Int("max", cfg.MaxConcurrent))
		return Result{}, fmt.Errorf("%w (%d)", ErrTooManyRequests, cfg.MaxConcurrent)
	}
	if _, busy := o.byID[req.RequestID]; busy {
		o.mu.Unlock()
		assistLog.Warn("ask_rejected_in_flight", slog.String("request_id", req.RequestID))
		return Result{}, fmt.Errorf("%w: %s", ErrRequestInFlight, req.RequestID)
	}

	provider := req.Provider
	if provider == "" {
		provider = cfg.Provider
	}
	r := &request{
		id:        req.RequestID,
		pid:       uuid.NewString(),
		provider:  provider,
		repoPath:  req.RepoPath,
		startedAt: o.clock.Now(),
	}
	o.inflight[r.pid] = r
	o.byID[r.id] = r
	o.mu.Unlock()

	res := Result{Started: true, ProcessID: r.pid}

	parser, err := stream.New(provider, func(ev stream.Event) { r.parsed = append(r.parsed, ev) })
	if err != nil {
		o.finish(r, "", err)
		return res, nil
	}
	r.parser = parser

	pc, ok := cfg.Providers[provider]
	if !ok {
		o.finish(r, "", fmt.Errorf("no command configured for provider %q", provider))
		return res, nil
	}
	proc, err := o.launcher.Launch(Command{Path: pc.Binary, Args: pc.Args, Dir: req.RepoPath, Env: pc.Env})
	if err != nil {
		assistLog.Error("ask_launch_failed",
			slog.String("request_id", r.id),
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()))
		o.finish(r, "", fmt.Errorf("launch %s: %w", provider, err))
		return res, nil
	}

	r.mu.Lock()
	r.proc = proc
	if !r.finished {
		r.timer = o.clock.AfterFunc(cfg.Timeout, func() {
			assistLog.Warn("ask_timeout", slog.String("request_id", r.id), slog.Duration("after", cfg.Timeout))
			o.abort(r, &TimeoutError{After: cfg.Timeout})
		})
	}
	r.mu.Unlock()

	assistLog.Info("ask_started",
		slog.String("request_id", r.id),
		slog.String("process_id", r.pid),
		slog.String("provider", string(provider)),
		slog.String("repo", r.repoPath))

	go writePrompt(r, proc.Stdin(), req.Prompt)
	go o.run(r, cfg)

	return res, nil
}

// Cancel stops requestID and completes it with ErrCancelled.
func (o *Orchestrator) Cancel(requestID string) error {
	o.mu.Lock()
	r, ok := o.byID[requestID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	o.abort(r, ErrCancelled)
	return nil
}

// Shutdown cancels every in-flight request.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	all := make([]*request, 0, len(o.inflight))
	for _, r := range o.inflight {
		all = append(all, r)
	}
	o.mu.Unlock()
	for _, r := range all {
		o.abort(r, ErrCancelled)
	}
}

func writePrompt(r *request, stdin io.WriteCloser, prompt string) {
	if _, err := io.WriteString(stdin, prompt); err != nil {
		assistLog.Debug("ask_prompt_write_failed", slog.String("request_id", r.id), slog.String("error", err.Error()))
	}
	_ = stdin.Close()
}

func (o *Orchestrator) run(r *request, cfg Config) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		readLines(r.proc.Stdout(), func(line string) { o.handleStdout(r, line, cfg) })
	}()
	go func() {
		defer wg.Done()
		readLines(r.proc.Stderr(), func(line string) { o.handleStderr(r, line, cfg) })
	}()
	wg.Wait()

	r.mu.Lock()
	r.parser.Close()
	events := r.takeParsed()
	r.mu.Unlock()
	o.apply(r, events, cfg)

	code, err := r.proc.Wait()
	if err != nil {
		assistLog.Debug("ask_wait_failed", slog.String("request_id", r.id), slog.String("error", err.Error()))
	}
	o.complete(r, code)
}

// readLines calls fn for each line of rd, including an unterminated final line.
func readLines(rd io.Reader, fn func(string)) {
	br := bufio.NewReader(rd)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			fn(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return
		}
	}
}

func (o *Orchestrator) handleStdout(r *request, line string, cfg Config) {
	logging.Aggregate(logging.CompAssistant, "stdout_line", slog.String("request_id", r.id))
	r.mu.Lock()
	if r.killed {
		r.mu.Unlock()
		return
	}
	r.parser.ProcessLine(line)
	events := r.takeParsed()
	r.mu.Unlock()
	o.apply(r, events, cfg)
}

func (r *request) takeParsed() []stream.Event {
	events := r.parsed
	r.parsed = nil
	return events
}

func (o *Orchestrator) apply(r *request, events []stream.Event, cfg Config) {
	for _, ev := range events {
		r.mu.Lock()
		if r.killed || r.finished {
			r.mu.Unlock()
			return
		}
		var delta string
		var act *Activity
		switch ev.Kind {
		case stream.KindDelta, stream.KindSnapshot:
			r.preview.WriteString(ev.Text)
			r.response.WriteString(ev.Text)
			delta = ev.Text
		case stream.KindPreviewDelta:
			r.preview.WriteString(ev.Text)
			act = &Activity{Type: ActivityReasoning, Text: ev.Text}
		case stream.KindAgentMessage:
			r.agentMessage = ev.Text
		case stream.KindToolStart:
			act = &Activity{Type: ActivityToolStart, Tool: ev.Tool}
		case stream.KindToolEnd:
			act = &Activity{Type: ActivityToolEnd, Tool: ev.Tool}
		case stream.KindError:
			r.appendErrLocked(ev.Text)
		}
		over := r.preview.Len()+r.response.Len() > cfg.MaxOutputBytes
		r.mu.Unlock()

		if over {
			assistLog.Warn("ask_output_limit", slog.String("request_id", r.id), slog.Int("max_bytes", cfg.MaxOutputBytes))
			o.abort(r, fmt.Errorf("%w (%d bytes)", ErrOutputLimit, cfg.MaxOutputBytes))
			return
		}
		if delta != "" && o.cb.Delta != nil {
			o.cb.Delta(r.id, delta)
		}
		if act != nil && o.cb.Activity != nil {
			o.cb.Activity(r.id, *act)
		}
	}
}

func (o *Orchestrator) handleStderr(r *request, line string, cfg Config) {
	line = strings.TrimSpace(line)
	if line == "" || isBenign(line, cfg.BenignStderr) {
		return
	}
	assistLog.Warn("ask_stderr", slog.String("request_id", r.id), slog.String("line", truncateForLog(line, stderrLogLimit)))
	r.mu.Lock()
	r.appendErrLocked(line)
	r.mu.Unlock()
}

func (r *request) appendErrLocked(text string) {
	if r.errText.Len() > 0 {
		r.errText.WriteByte('\n')
	}
	r.errText.WriteString(text)
}

func (o *Orchestrator) complete(r *request, code int) {
	r.mu.Lock()
	if r.killed {
		r.mu.Unlock()
		return
	}
	final := r.agentMessage
	if final == "" {
		final = r.response.String()
	}
	final = strings.TrimSpace(final)
	errText := strings.TrimSpace(r.errText.String())
	r.mu.Unlock()

	switch {
	case code == 0 && final != "":
		o.finish(r, final, nil)
	case code == 0 && errText != "":
		o.finish(r, "", errors.New(errText))
	case code == 0:
		o.finish(r, "", ErrNoResult)
	default:
		o.finish(r, "", &ExitError{Code: code, Stderr: errText})
	}
}

// abort kills the process and completes the request with err, unless it already finished.
func (o *Orchestrator) abort(r *request, err error) {
	r.mu.Lock()
	if r.killed || r.finished {
		r.mu.Unlock()
		return
	}
	r.killed = true
	proc := r.proc
	r.mu.Unlock()

	if proc != nil {
		if kerr := proc.Kill(); kerr != nil {
			assistLog.Warn("ask_kill_failed", slog.String("request_id", r.id), slog.String("error", kerr.Error()))
		}
	}
	o.finish(r, "", err)
}

// finish is the single completion path: it releases the request's slot and fires Done once.
func (o *Orchestrator) finish(r *request, text string, err error) {
	r.doneOnce.Do(func() {
		r.mu.Lock()
		r.finished = true
		if r.timer != nil {
			r.timer.Stop()
			r.timer = nil
		}
		r.mu.Unlock()

		o.mu.Lock()
		delete(o.inflight, r.pid)
		if cur, ok := o.byID[r.id]; ok && cur == r {
			delete(o.byID, r.id)
		}
		o.mu.Unlock()

		elapsed := o.clock.Now().Sub(r.startedAt)
		if err != nil {
			assistLog.Info("ask_failed",
				slog.String("request_id", r.id),
				slog.Duration("elapsed", elapsed),
				slog.String("error", truncateForLog(err.Error(), stderrLogLimit)))
		} else {
			assistLog.Info("ask_done",
				slog.String("request_id", r.id),
				slog.Duration("elapsed", elapsed),
				slog.Int("chars", len(text)))
		}
		if o.recorder != nil {
			o.recorder.RecordRequest(RequestRecord{
				RequestID: r.id,
				ProcessID: r.pid,
				Provider:  r.provider,
				RepoPath:  r.repoPath,
				StartedAt: r.startedAt,
				Duration:  elapsed,
				Err:       err,
			})
		}
		if o.cb.Done != nil {
			o.cb.Done(r.id, text, err)
		}
	})
}
