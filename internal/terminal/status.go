package terminal

import "sync"

// Status is the user-facing state of a terminal session.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusWorking        Status = "working"
	StatusWaitingUnseen  Status = "waiting-unseen"
	StatusWaitingFocused Status = "waiting-focused"
	StatusWaitingSeen    Status = "waiting-seen"
	StatusError          Status = "error"
)

// IsWaiting reports whether the session finished a turn and is waiting for the user.
func (s Status) IsWaiting() bool {
	return s == StatusWaitingUnseen || s == StatusWaitingFocused || s == StatusWaitingSeen
}

// StatusMachine derives a session's Status from title, activity, focus and exit signals.
// onChange fires exactly once per real transition and never for a no-op.
//
// "Seen" vs "unseen" records whether the user was looking at the session when it
// finished; notification throttling downstream keys off it.
type StatusMachine struct {
	emitMu        sync.Mutex // serialises transitions with their callbacks
	mu            sync.Mutex
	status        Status
	tabFocused    bool
	windowFocused bool
	onChange      func(Status)
}

// NewStatusMachine starts in StatusIdle with the tab unfocused.
func NewStatusMachine(windowFocused bool, onChange func(Status)) *StatusMachine {
	return &StatusMachine{
		status:        StatusIdle,
		windowFocused: windowFocused,
		onChange:      onChange,
	}
}

// Status returns the current state.
func (m *StatusMachine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// EffectivelyFocused is true when both the tab and the application window have focus.
func (m *StatusMachine) EffectivelyFocused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tabFocused && m.windowFocused
}

// OnTitleChange records a title update: working titles move to working, an idle title
// ends a working turn in one of the waiting states.
func (m *StatusMachine) OnTitleChange(working bool) {
	m.apply(func() Status {
		if working {
			return StatusWorking
		}
		if m.status == StatusWorking {
			return m.waitingLocked()
		}
		return m.status
	})
}

// OnOutputActivity is used for tools that do not publish a title protocol.
func (m *StatusMachine) OnOutputActivity() {
	m.apply(func() Status { return StatusWorking })
}

// OnOutputSilence ends a working turn once output has been quiet for the silence timeout.
func (m *StatusMachine) OnOutputSilence() {
	m.apply(func() Status {
		if m.status == StatusWorking {
			return m.waitingLocked()
		}
		return m.status
	})
}

// OnUserInput resumes work from a waiting state. Idle and error sessions stay put.
func (m *StatusMachine) OnUserInput() {
	m.apply(func() Status {
		if m.status == StatusIdle || m.status == StatusError {
			return m.status
		}
		return StatusWorking
	})
}

// OnFocus marks the session's tab as focused.
func (m *StatusMachine) OnFocus() {
	m.apply(func() Status {
		m.tabFocused = true
		return m.refocusLocked()
	})
}

// OnBlur marks the tab unfocused; a waiting-focused session becomes waiting-seen.
func (m *StatusMachine) OnBlur() {
	m.apply(func() Status {
		m.tabFocused = false
		if m.status == StatusWaitingFocused {
			return StatusWaitingSeen
		}
		return m.status
	})
}

// OnWindowFocus marks the application window focused. It only affects status while the
// tab is focused too.
func (m *StatusMachine) OnWindowFocus() {
	m.apply(func() Status {
		m.windowFocused = true
		if !m.tabFocused {
			return m.status
		}
		return m.refocusLocked()
	})
}

// OnWindowBlur marks the application window unfocused.
func (m *StatusMachine) OnWindowBlur() {
	m.apply(func() Status {
		m.windowFocused = false
		if m.tabFocused && m.status == StatusWaitingFocused {
			return StatusWaitingSeen
		}
		return m.status
	})
}

// OnExit moves to idle on a zero exit code and to error otherwise.
func (m *StatusMachine) OnExit(code int) {
	m.apply(func() Status {
		if code == 0 {
			return StatusIdle
		}
		return StatusError
	})
}

// Reset returns the machine to idle. Focus flags are kept.
func (m *StatusMachine) Reset() {
	m.apply(func() Status { return StatusIdle })
}

// apply runs next under the state lock and reports the result. onChange must not call
// back into the machine.
func (m *StatusMachine) apply(next func() Status) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	to := next()
	changed := to != m.status
	m.status = to
	m.mu.Unlock()

	if changed && m.onChange != nil {
		m.onChange(to)
	}
}

func (m *StatusMachine) waitingLocked() Status {
	if m.tabFocused && m.windowFocused {
		return StatusWaitingFocused
	}
	return StatusWaitingUnseen
}

func (m *StatusMachine) refocusLocked() Status {
	if m.tabFocused && m.windowFocused &&
		(m.status == StatusWaitingUnseen || m.status == StatusWaitingSeen) {
		return StatusWaitingFocused
	}
	return m.status
}
