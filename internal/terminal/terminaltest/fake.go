// Package terminaltest provides an in-memory terminal.Starter for tests.
package terminaltest

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/asheshgoplani/deckhand/internal/terminal"
)

// Process is a scripted stand-in for a PTY program.
type Process struct {
	Dir string

	outR *io.PipeReader
	outW *io.PipeWriter

	mu      sync.Mutex
	input   bytes.Buffer
	cols    uint16
	rows    uint16
	killed  bool
	onWrite func(p *Process, data []byte)

	exitOnce sync.Once
	exit     chan int
}

func newProcess(dir string, cols, rows uint16, onWrite func(*Process, []byte)) *Process {
	r, w := io.Pipe()
	return &Process{
		Dir:     dir,
		outR:    r,
		outW:    w,
		cols:    cols,
		rows:    rows,
		onWrite: onWrite,
		exit:    make(chan int, 1),
	}
}

func (p *Process) Read(b []byte) (int, error) { return p.outR.Read(b) }

func (p *Process) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	p.input.Write(b)
	hook := p.onWrite
	p.mu.Unlock()
	if hook != nil {
		hook(p, append([]byte(nil), b...))
	}
	return len(b), nil
}

func (p *Process) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols, p.rows = cols, rows
	return nil
}

func (p *Process) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.Exit(-1)
	return nil
}

func (p *Process) Wait() (int, error) { return <-p.exit, nil }

// Emit makes the program print s. It blocks until the manager reads it.
func (p *Process) Emit(s string) {
	_, _ = p.outW.Write([]byte(s))
}

// Exit ends the program with code. Later calls are ignored.
func (p *Process) Exit(code int) {
	p.exitOnce.Do(func() {
		_ = p.outW.Close()
		p.exit <- code
	})
}

// Input returns everything written to the program so far.
func (p *Process) Input() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

// Size returns the last geometry set.
func (p *Process) Size() (uint16, uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

// Killed reports whether Kill was called.
func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Starter records every started Process.
type Starter struct {
	// Err, when set, is returned by every Start.
	Err error
	// OnWrite is installed on each new Process; use it to script echo-style replies.
	OnWrite func(p *Process, data []byte)

	mu        sync.Mutex
	processes []*Process
	started   chan *Process
}

// NewStarter returns a Starter whose Started channel reports each new Process.
func NewStarter() *Starter {
	return &Starter{started: make(chan *Process, 64)}
}

func (s *Starter) Start(dir string, cols, rows uint16) (terminal.Process, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	p := newProcess(dir, cols, rows, s.OnWrite)
	s.mu.Lock()
	s.processes = append(s.processes, p)
	s.mu.Unlock()
	select {
	case s.started <- p:
	default:
	}
	return p, nil
}

// Started delivers processes in start order.
func (s *Starter) Started() <-chan *Process { return s.started }

// Last returns the most recently started Process.
func (s *Starter) Last() (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.processes) == 0 {
		return nil, errors.New("no process started")
	}
	return s.processes[len(s.processes)-1], nil
}

// Echo is an OnWrite hook that prints back whatever is written.
func Echo(p *Process, data []byte) {
	go p.Emit(string(data))
}
