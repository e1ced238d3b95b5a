package assistant

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStdin struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed chan struct{}
	once   sync.Once
}

func (s *fakeStdin) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(b)
}

func (s *fakeStdin) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeProcess struct {
	cmd    Command
	stdin  *fakeStdin
	outR   *io.PipeReader
	outW   *io.PipeWriter
	errR   *io.PipeReader
	errW   *io.PipeWriter
	exit   chan int
	once   sync.Once
	killed atomic.Bool
	waited chan struct{}
}

func newFakeProcess(cmd Command) *fakeProcess {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	return &fakeProcess{
		cmd:    cmd,
		stdin:  &fakeStdin{closed: make(chan struct{})},
		outR:   outR,
		outW:   outW,
		errR:   errR,
		errW:   errW,
		exit:   make(chan int, 1),
		waited: make(chan struct{}),
	}
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *fakeProcess) Stdout() io.Reader     { return p.outR }
func (p *fakeProcess) Stderr() io.Reader     { return p.errR }

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.finish(-1)
	return nil
}

func (p *fakeProcess) Wait() (int, error) {
	code := <-p.exit
	close(p.waited)
	return code, nil
}

func (p *fakeProcess) finish(code int) {
	p.once.Do(func() {
		_ = p.outW.Close()
		_ = p.errW.Close()
		p.exit <- code
	})
}

func (p *fakeProcess) stdout(s string) { _, _ = p.outW.Write([]byte(s)) }
func (p *fakeProcess) stderr(s string) { _, _ = p.errW.Write([]byte(s)) }

func (p *fakeProcess) prompt(t *testing.T) string {
	t.Helper()
	select {
	case <-p.stdin.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("prompt never written")
	}
	p.stdin.mu.Lock()
	defer p.stdin.mu.Unlock()
	return p.stdin.buf.String()
}

type fakeLauncher struct {
	err      error
	launched chan *fakeProcess
	count    atomic.Int32
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{launched: make(chan *fakeProcess, 16)}
}

func (l *fakeLauncher) Launch(cmd Command) (Process, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.count.Add(1)
	p := newFakeProcess(cmd)
	l.launched <- p
	return p, nil
}

func (l *fakeLauncher) next(t *testing.T) *fakeProcess {
	t.Helper()
	select {
	case p := <-l.launched:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no process launched")
	}
	return nil
}

type doneCall struct {
	id   string
	text string
	err  error
}

type collector struct {
	mu       sync.Mutex
	deltas   []string
	activity []Activity
	dones    []doneCall
	doneCh   chan doneCall
}

func newCollector() *collector {
	return &collector{doneCh: make(chan doneCall, 16)}
}

func (c *collector) callbacks() Callbacks {
	return Callbacks{
		Delta: func(_, text string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.deltas = append(c.deltas, text)
		},
		Activity: func(_ string, a Activity) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.activity = append(c.activity, a)
		},
		Done: func(id, text string, err error) {
			c.mu.Lock()
			c.dones = append(c.dones, doneCall{id, text, err})
			c.mu.Unlock()
			c.doneCh <- doneCall{id, text, err}
		},
	}
}

func (c *collector) waitDone(t *testing.T) doneCall {
	t.Helper()
	select {
	case d := <-c.doneCh:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("done never fired")
	}
	return doneCall{}
}

func (c *collector) doneCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dones)
}

func (c *collector) snapshot() ([]string, []Activity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deltas...), append([]Activity(nil), c.activity...)
}

var errBoom = errors.New("boom")

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out")
	}
}
