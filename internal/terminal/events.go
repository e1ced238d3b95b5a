package terminal

import (
	"sync"
	"sync/atomic"
)

// EventKind identifies the payload of an Event.
type EventKind int

const (
	EventOutput EventKind = iota
	EventStatus
	EventExit
)

// Event is delivered to subscribers in the order the session produced it.
type Event struct {
	Kind      EventKind
	SessionID string
	Data      string // EventOutput
	Status    Status // EventStatus
	ExitCode  int    // EventExit
}

// Subscription is a per-session (or all-session) event stream. Events are queued without
// limit so a slow consumer never loses output; C is closed after the session's exit event
// has been delivered, or after Close.
type Subscription struct {
	C <-chan Event

	id        int64
	sessionID string
	hub       *hub

	mu       sync.Mutex
	queue    []Event
	finished bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Close unsubscribes. Pending events are discarded.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
}

func (s *Subscription) push(ev Event, last bool) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.finished = last
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump(out chan<- Event) {
	defer close(out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case out <- ev:
		case <-s.done:
			return
		}
	}
}

// hub fans session events out to subscribers. The empty session id subscribes to all.
type hub struct {
	seq  atomic.Int64
	mu   sync.Mutex
	subs map[string]map[int64]*Subscription
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[int64]*Subscription)}
}

func (h *hub) subscribe(sessionID string) *Subscription {
	out := make(chan Event)
	s := &Subscription{
		C:         out,
		id:        h.seq.Add(1),
		sessionID: sessionID,
		hub:       h,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int64]*Subscription)
	}
	h.subs[sessionID][s.id] = s
	h.mu.Unlock()

	go s.pump(out)
	return s
}

func (h *hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.subs[s.sessionID]; m != nil {
		delete(m, s.id)
		if len(m) == 0 {
			delete(h.subs, s.sessionID)
		}
	}
}

// publish delivers ev to the session's subscribers and to all-session subscribers.
// An exit event finishes and drops the session's own subscriptions.
func (h *hub) publish(ev Event) {
	last := ev.Kind == EventExit

	h.mu.Lock()
	targets := make([]*Subscription, 0, len(h.subs[ev.SessionID])+len(h.subs[""]))
	for _, s := range h.subs[ev.SessionID] {
		targets = append(targets, s)
	}
	if last {
		delete(h.subs, ev.SessionID)
	}
	for _, s := range h.subs[""] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.push(ev, last && s.sessionID != "")
	}
}
