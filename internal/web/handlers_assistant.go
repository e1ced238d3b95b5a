package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/deckhand/internal/assistant"
	"github.com/asheshgoplani/deckhand/internal/stream"
)

// Asker is the part of assistant.Orchestrator the hub drives.
type Asker interface {
	Ask(req assistant.Request) (assistant.Result, error)
	Cancel(requestID string) error
}

// assistantSink receives the messages for requests one client started.
type assistantSink interface {
	WriteJSON(v any) error
}

type assistantClientMessage struct {
	Type      string `json:"type"` // ask, cancel, ping
	RequestID string `json:"requestId"`
	RepoPath  string `json:"repoPath,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	Provider  string `json:"provider,omitempty"`
}

type assistantServerMessage struct {
	Type      string              `json:"type"` // started, delta, activity, done, error, pong
	RequestID string              `json:"requestId,omitempty"`
	ProcessID string              `json:"processId,omitempty"`
	Text      string              `json:"text,omitempty"`
	Activity  *assistant.Activity `json:"activity,omitempty"`
	Error     string              `json:"error,omitempty"`
	Code      string              `json:"code,omitempty"`
	Time      time.Time           `json:"time,omitempty"`
}

// AssistantHub routes orchestrator callbacks to the connection that asked. Create it
// first, pass Callbacks to assistant.NewOrchestrator, then Bind the orchestrator.
type AssistantHub struct {
	mu     sync.Mutex
	asker  Asker
	routes map[string]assistantSink
}

func NewAssistantHub() *AssistantHub {
	return &AssistantHub{routes: make(map[string]assistantSink)}
}

// Bind sets the orchestrator requests are sent to.
func (h *AssistantHub) Bind(a Asker) {
	h.mu.Lock()
	h.asker = a
	h.mu.Unlock()
}

// Callbacks returns the orchestrator callbacks that feed this hub.
func (h *AssistantHub) Callbacks() assistant.Callbacks {
	return assistant.Callbacks{
		Delta: func(requestID, text string) {
			h.send(requestID, false, assistantServerMessage{Type: "delta", RequestID: requestID, Text: text})
		},
		Activity: func(requestID string, a assistant.Activity) {
			h.send(requestID, false, assistantServerMessage{Type: "activity", RequestID: requestID, Activity: &a})
		},
		Done: func(requestID, text string, err error) {
			msg := assistantServerMessage{Type: "done", RequestID: requestID, Text: text, Time: time.Now().UTC()}
			if err != nil {
				msg.Error = err.Error()
			}
			h.send(requestID, true, msg)
		},
	}
}

func (h *AssistantHub) send(requestID string, last bool, msg assistantServerMessage) {
	h.mu.Lock()
	sink, ok := h.routes[requestID]
	if last {
		delete(h.routes, requestID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := sink.WriteJSON(msg); err != nil {
		webLog.Debug("assistant_send_failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
	}
}

// ask registers sink for the request and starts it. Errors are synchronous rejections;
// once started, the outcome arrives through the sink.
func (h *AssistantHub) ask(sink assistantSink, req assistant.Request) (assistant.Result, error) {
	h.mu.Lock()
	asker := h.asker
	if asker == nil {
		h.mu.Unlock()
		return assistant.Result{}, errAssistantUnavailable
	}
	if _, busy := h.routes[req.RequestID]; busy {
		h.mu.Unlock()
		return assistant.Result{}, assistant.ErrRequestInFlight
	}
	h.routes[req.RequestID] = sink
	h.mu.Unlock()

	res, err := asker.Ask(req)
	if err != nil {
		h.mu.Lock()
		if h.routes[req.RequestID] == sink {
			delete(h.routes, req.RequestID)
		}
		h.mu.Unlock()
	}
	return res, err
}

func (h *AssistantHub) cancel(sink assistantSink, requestID string) error {
	h.mu.Lock()
	asker := h.asker
	owner, ok := h.routes[requestID]
	h.mu.Unlock()
	if !ok || owner != sink {
		return assistant.ErrRequestNotFound
	}
	return asker.Cancel(requestID)
}

// detach cancels everything sink still has in flight.
func (h *AssistantHub) detach(sink assistantSink) {
	h.mu.Lock()
	asker := h.asker
	var ids []string
	for id, owner := range h.routes {
		if owner == sink {
			ids = append(ids, id)
			delete(h.routes, id)
		}
	}
	h.mu.Unlock()
	for _, id := range ids {
		_ = asker.Cancel(id)
	}
}

var errAssistantUnavailable = errors.New("assistant is not enabled")

func askErrorCode(err error) string {
	switch {
	case errors.Is(err, assistant.ErrTooManyRequests):
		return "TOO_MANY_REQUESTS"
	case errors.Is(err, assistant.ErrRequestInFlight):
		return "REQUEST_IN_FLIGHT"
	case errors.Is(err, assistant.ErrRequestNotFound):
		return "NOT_FOUND"
	case errors.Is(err, errAssistantUnavailable):
		return "UNAVAILABLE"
	default:
		return "ASK_FAILED"
	}
}

func (s *Server) handleAssistantWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	writer := newWSConnWriter(conn)
	defer s.cfg.Assistant.detach(writer)

	sendErr := func(requestID, code, message string) {
		_ = writer.WriteJSON(assistantServerMessage{
			Type:      "error",
			RequestID: requestID,
			Code:      code,
			Error:     message,
			Time:      time.Now().UTC(),
		})
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				webLog.Warn("assistant_websocket_closed_unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var msg assistantClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			sendErr("", "INVALID_MESSAGE", "invalid json payload")
			continue
		}

		switch msg.Type {
		case "ping":
			_ = writer.WriteJSON(assistantServerMessage{Type: "pong", Time: time.Now().UTC()})
		case "ask":
			if s.cfg.ReadOnly {
				sendErr(msg.RequestID, "READ_ONLY", "asking is disabled in read-only mode")
				continue
			}
			if msg.RequestID == "" || msg.Prompt == "" {
				sendErr(msg.RequestID, "INVALID_REQUEST", "requestId and prompt are required")
				continue
			}
			res, err := s.cfg.Assistant.ask(writer, assistant.Request{
				RequestID: msg.RequestID,
				RepoPath:  msg.RepoPath,
				Prompt:    msg.Prompt,
				Provider:  stream.Provider(msg.Provider),
			})
			if err != nil {
				sendErr(msg.RequestID, askErrorCode(err), err.Error())
				continue
			}
			_ = writer.WriteJSON(assistantServerMessage{Type: "started", RequestID: msg.RequestID, ProcessID: res.ProcessID})
		case "cancel":
			if err := s.cfg.Assistant.cancel(writer, msg.RequestID); err != nil {
				sendErr(msg.RequestID, askErrorCode(err), err.Error())
			}
		default:
			sendErr(msg.RequestID, "UNSUPPORTED_MESSAGE", "supported message types: ask,cancel,ping")
		}
	}
}
