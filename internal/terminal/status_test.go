package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type statusRecorder struct{ changes []Status }

func (r *statusRecorder) record(s Status) { r.changes = append(r.changes, s) }

func newMachine(tab, window bool) (*StatusMachine, *statusRecorder) {
	rec := &statusRecorder{}
	m := NewStatusMachine(window, rec.record)
	if tab {
		m.tabFocused = true
	}
	return m, rec
}

func TestStatusTitleChange(t *testing.T) {
	tests := []struct {
		name       string
		tab, win   bool
		want       Status
		wantEvents int
	}{
		{"unfocused", false, true, StatusWaitingUnseen, 2},
		{"window blurred", true, false, StatusWaitingUnseen, 2},
		{"focused", true, true, StatusWaitingFocused, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, rec := newMachine(tt.tab, tt.win)
			m.OnTitleChange(true)
			m.OnTitleChange(true)
			m.OnTitleChange(false)
			assert.Equal(t, tt.want, m.Status())
			assert.Len(t, rec.changes, tt.wantEvents)
		})
	}
}

func TestStatusIdleTitleFromIdleIsNoop(t *testing.T) {
	m, rec := newMachine(false, true)
	m.OnTitleChange(false)
	assert.Equal(t, StatusIdle, m.Status())
	assert.Empty(t, rec.changes)
}

func TestStatusExitFromEveryState(t *testing.T) {
	drive := map[Status]func(m *StatusMachine){
		StatusIdle:          func(m *StatusMachine) {},
		StatusWorking:       func(m *StatusMachine) { m.OnOutputActivity() },
		StatusWaitingUnseen: func(m *StatusMachine) { m.OnOutputActivity(); m.OnOutputSilence() },
		StatusWaitingFocused: func(m *StatusMachine) {
			m.OnFocus()
			m.OnOutputActivity()
			m.OnOutputSilence()
		},
		StatusWaitingSeen: func(m *StatusMachine) {
			m.OnFocus()
			m.OnOutputActivity()
			m.OnOutputSilence()
			m.OnBlur()
		},
		StatusError: func(m *StatusMachine) { m.OnExit(2) },
	}
	for from, setup := range drive {
		for _, code := range []int{0, 1} {
			m, _ := newMachine(false, true)
			setup(m)
			assert.Equal(t, from, m.Status())
			m.OnExit(code)
			want := StatusIdle
			if code != 0 {
				want = StatusError
			}
			assert.Equal(t, want, m.Status(), "from %s exit %d", from, code)
		}
	}
}

func TestStatusUserInput(t *testing.T) {
	m, rec := newMachine(false, true)
	m.OnUserInput()
	assert.Equal(t, StatusIdle, m.Status(), "idle ignores input")

	m.OnExit(1)
	m.OnUserInput()
	assert.Equal(t, StatusError, m.Status(), "error ignores input")

	m.Reset()
	m.OnOutputActivity()
	m.OnOutputSilence()
	assert.Equal(t, StatusWaitingUnseen, m.Status())
	m.OnUserInput()
	assert.Equal(t, StatusWorking, m.Status())
	assert.Equal(t, []Status{StatusError, StatusIdle, StatusWorking, StatusWaitingUnseen, StatusWorking}, rec.changes)
}

func TestStatusFocusCycle(t *testing.T) {
	m, rec := newMachine(false, true)
	m.OnTitleChange(true)
	m.OnTitleChange(false)
	assert.Equal(t, StatusWaitingUnseen, m.Status())

	m.OnFocus()
	assert.Equal(t, StatusWaitingFocused, m.Status())
	m.OnBlur()
	assert.Equal(t, StatusWaitingSeen, m.Status())
	m.OnFocus()
	assert.Equal(t, StatusWaitingFocused, m.Status())

	m.OnWindowBlur()
	assert.Equal(t, StatusWaitingSeen, m.Status())
	m.OnWindowFocus()
	assert.Equal(t, StatusWaitingFocused, m.Status())

	assert.Len(t, rec.changes, 7)
}

func TestStatusWindowFocusNeedsTabFocus(t *testing.T) {
	m, _ := newMachine(false, false)
	m.OnOutputActivity()
	m.OnOutputSilence()
	assert.Equal(t, StatusWaitingUnseen, m.Status())

	m.OnWindowFocus()
	assert.Equal(t, StatusWaitingUnseen, m.Status())

	m.OnFocus()
	assert.Equal(t, StatusWaitingFocused, m.Status())
	assert.True(t, m.EffectivelyFocused())
}

func TestStatusFocusWhileWindowBlurred(t *testing.T) {
	m, _ := newMachine(false, false)
	m.OnOutputActivity()
	m.OnOutputSilence()
	m.OnFocus()
	assert.Equal(t, StatusWaitingUnseen, m.Status())
	assert.False(t, m.EffectivelyFocused())
}

func TestStatusIsWaiting(t *testing.T) {
	assert.True(t, StatusWaitingSeen.IsWaiting())
	assert.True(t, StatusWaitingUnseen.IsWaiting())
	assert.True(t, StatusWaitingFocused.IsWaiting())
	assert.False(t, StatusWorking.IsWaiting())
	assert.False(t, StatusIdle.IsWaiting())
}
