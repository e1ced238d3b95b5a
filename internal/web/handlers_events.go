package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/asheshgoplani/deckhand/internal/notify"
	"github.com/asheshgoplani/deckhand/internal/terminal"
)

var sessionEventsHeartbeatInterval = 15 * time.Second

type sessionStatusEvent struct {
	SessionID string          `json:"sessionId"`
	Status    terminal.Status `json:"status,omitempty"`
	ExitCode  *int            `json:"exitCode,omitempty"`
}

type notification struct {
	SessionID string          `json:"sessionId"`
	RepoPath  string          `json:"repoPath"`
	From      terminal.Status `json:"from"`
	To        terminal.Status `json:"to"`
	At        time.Time       `json:"at"`
}

// handleSessionEvents streams the session list followed by status, exit and
// notification events as server-sent events.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessions, ok := s.sessions(w)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "stream unavailable")
		return
	}

	sub := sessions.SubscribeAll()
	defer sub.Close()
	notes := s.subscribeNotifications()
	defer s.unsubscribeNotifications(notes)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	list := sessions.List()
	if list == nil {
		list = []terminal.SessionInfo{}
	}
	if err := writeSSEEvent(w, flusher, "sessions", list); err != nil {
		return
	}

	heartbeat := time.NewTicker(sessionEventsHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			err = writeSSEComment(w, flusher, "keepalive")
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			switch ev.Kind {
			case terminal.EventStatus:
				err = writeSSEEvent(w, flusher, "status", sessionStatusEvent{SessionID: ev.SessionID, Status: ev.Status})
			case terminal.EventExit:
				code := ev.ExitCode
				err = writeSSEEvent(w, flusher, "exit", sessionStatusEvent{SessionID: ev.SessionID, ExitCode: &code})
			}
		case n := <-notes:
			err = writeSSEEvent(w, flusher, "notification", n)
		}
		if err != nil {
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// Present implements notify.Presenter by fanning n out to every event stream.
// Slow streams drop notifications rather than block the notifier.
func (s *Server) Present(n notify.Notification) error {
	msg := notification{SessionID: n.SessionID, RepoPath: n.RepoPath, From: n.From, To: n.To, At: n.At.UTC()}
	s.notifySubscribersMu.Lock()
	defer s.notifySubscribersMu.Unlock()
	for ch := range s.notifySubscribers {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (s *Server) subscribeNotifications() chan notification {
	ch := make(chan notification, 8)
	s.notifySubscribersMu.Lock()
	s.notifySubscribers[ch] = struct{}{}
	s.notifySubscribersMu.Unlock()
	return ch
}

func (s *Server) unsubscribeNotifications(ch chan notification) {
	s.notifySubscribersMu.Lock()
	delete(s.notifySubscribers, ch)
	s.notifySubscribersMu.Unlock()
}

var _ notify.Presenter = (*Server)(nil)
