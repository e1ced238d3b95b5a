package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/asheshgoplani/deckhand/internal/terminal"
)

// detachKey is Ctrl+Q.
const detachKey byte = 0x11

// attachSessions is what a local attach needs from terminal.Manager.
type attachSessions interface {
	Attach(id string) (string, *terminal.Subscription, error)
	UserInput(id string, data []byte) error
	Resize(id string, cols, rows uint16) error
	SetTabFocus(id string, focused bool) error
}

type attachOutcome struct {
	detached bool
	exitCode int
}

// splitDetach returns the input that precedes the detach key and whether the key
// was present.
func splitDetach(buf []byte) ([]byte, bool) {
	if i := bytes.IndexByte(buf, detachKey); i >= 0 {
		return buf[:i], true
	}
	return buf, false
}

// attachLocal connects the calling terminal to session id until the user detaches
// or the session exits. stdin is put in raw mode when it is a terminal.
func attachLocal(sessions attachSessions, id string, stdin *os.File, stdout io.Writer) (attachOutcome, error) {
	fd := int(stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return attachOutcome{}, fmt.Errorf("enter raw mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, state) }()

		resize := func() {
			if cols, rows, err := term.GetSize(fd); err == nil && cols > 0 && rows > 0 {
				_ = sessions.Resize(id, uint16(cols), uint16(rows))
			}
		}
		resize()
		stopWatch := watchResize(resize)
		defer stopWatch()
	}
	return pipeSession(sessions, id, stdin, stdout)
}

// pipeSession copies the session's output to stdout and stdin to the session.
func pipeSession(sessions attachSessions, id string, stdin io.Reader, stdout io.Writer) (attachOutcome, error) {
	snapshot, sub, err := sessions.Attach(id)
	if err != nil {
		return attachOutcome{}, err
	}
	defer sub.Close()
	_ = sessions.SetTabFocus(id, true)
	defer func() { _ = sessions.SetTabFocus(id, false) }()

	if _, err := io.WriteString(stdout, snapshot); err != nil {
		return attachOutcome{}, err
	}

	detached := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := stdin.Read(buf)
			if n > 0 {
				data, stop := splitDetach(buf[:n])
				if len(data) > 0 {
					if werr := sessions.UserInput(id, data); werr != nil {
						detached <- werr
						return
					}
				}
				if stop {
					detached <- nil
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				detached <- err
				return
			}
		}
	}()

	for {
		select {
		case err := <-detached:
			return attachOutcome{detached: true}, err
		case ev, ok := <-sub.C:
			if !ok {
				return attachOutcome{detached: true}, nil
			}
			switch ev.Kind {
			case terminal.EventOutput:
				if _, err := io.WriteString(stdout, ev.Data); err != nil {
					return attachOutcome{}, err
				}
			case terminal.EventExit:
				return attachOutcome{exitCode: ev.ExitCode}, nil
			}
		}
	}
}
