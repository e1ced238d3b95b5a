package assistant

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultKillGrace is how long a terminated process gets before it is force-killed.
const DefaultKillGrace = 2 * time.Second

// Command describes one headless provider invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Process is a running headless provider.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Kill stops the process. It is safe to call more than once.
	Kill() error
	// Wait returns the exit code. Call it only after Stdout and Stderr reach EOF.
	Wait() (int, error)
}

// Launcher starts provider processes.
type Launcher interface {
	Launch(cmd Command) (Process, error)
}

// ExecLauncher runs commands with os/exec and piped standard streams.
type ExecLauncher struct {
	// KillGrace overrides DefaultKillGrace.
	KillGrace time.Duration
}

func (l ExecLauncher) Launch(c Command) (Process, error) {
	if c.Path == "" {
		return nil, errors.New("command cannot be empty")
	}
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("start %s: %w", c.Path, err)
	}

	grace := l.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	return &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		grace:  grace,
		exited: make(chan struct{}),
	}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	grace  time.Duration

	killOnce sync.Once
	exited   chan struct{}
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }

// Kill sends SIGTERM, then SIGKILL if the process is still alive after the grace period.
func (p *execProcess) Kill() error {
	var err error
	p.killOnce.Do(func() {
		_ = p.stdin.Close()
		if sigErr := p.cmd.Process.Signal(syscall.SIGTERM); sigErr != nil {
			if killErr := p.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
				err = killErr
			}
			return
		}
		go func() {
			select {
			case <-p.exited:
			case <-time.After(p.grace):
				_ = p.cmd.Process.Kill()
			}
		}()
	})
	return err
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	close(p.exited)
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
