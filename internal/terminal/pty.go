package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/creack/pty"
)

// Process is a running interactive program attached to a pseudo-terminal.
type Process interface {
	io.ReadWriter
	Resize(cols, rows uint16) error
	// Kill terminates the program. It is safe to call more than once.
	Kill() error
	// Wait blocks until the program exits and returns its exit code.
	Wait() (int, error)
}

// Starter launches a Process in dir with the given terminal geometry.
type Starter interface {
	Start(dir string, cols, rows uint16) (Process, error)
}

// PTYStarter runs an interactive shell under a real pseudo-terminal.
type PTYStarter struct {
	// Shell overrides the platform default shell.
	Shell string
	// Env is appended to the inherited environment.
	Env []string
}

// DefaultShell returns $SHELL, falling back to a platform default.
func DefaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	if runtime.GOOS == "windows" {
		if cs := os.Getenv("COMSPEC"); cs != "" {
			return cs
		}
		return "cmd.exe"
	}
	return "/bin/sh"
}

func (s PTYStarter) Start(dir string, cols, rows uint16) (Process, error) {
	shell := s.Shell
	if shell == "" {
		shell = DefaultShell()
	}
	cmd := exec.Command(shell)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, s.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}
	return &ptyProcess{cmd: cmd, ptmx: ptmx}, nil
}

type ptyProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File

	killOnce sync.Once
	killErr  error
}

func (p *ptyProcess) Read(b []byte) (int, error)  { return p.ptmx.Read(b) }
func (p *ptyProcess) Write(b []byte) (int, error) { return p.ptmx.Write(b) }

func (p *ptyProcess) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return fmt.Errorf("invalid dimensions: cols=%d rows=%d", cols, rows)
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

func (p *ptyProcess) Kill() error {
	p.killOnce.Do(func() {
		if p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.killErr = err
			}
		}
		_ = p.ptmx.Close()
	})
	return p.killErr
}

func (p *ptyProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	_ = p.ptmx.Close()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
