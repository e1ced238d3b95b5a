package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/deckhand/internal/terminal"
)

type wsClientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

type wsServerMessage struct {
	Type      string          `json:"type"` // status, exit, error
	Event     string          `json:"event,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Name      string          `json:"name,omitempty"`
	Status    terminal.Status `json:"status,omitempty"`
	ExitCode  *int            `json:"exitCode,omitempty"`
	ReadOnly  bool            `json:"readOnly,omitempty"`
	Time      time.Time       `json:"time,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// handleSessionWS bridges one terminal session: output goes out as binary frames,
// status and exit as JSON; the client sends input, resize, focus, blur and ping.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessions, ok := s.sessions(w)
	if !ok {
		return
	}
	sessionID := r.PathValue("id")
	info, found := sessions.Get(sessionID)
	if !found {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	writer := newWSConnWriter(conn)

	sendErr := func(code, message string) {
		_ = writer.WriteJSON(wsServerMessage{
			Type:      "error",
			Code:      code,
			Message:   message,
			SessionID: sessionID,
			Time:      time.Now().UTC(),
		})
	}

	snapshot, sub, err := sessions.Attach(sessionID)
	if err != nil {
		sendErr("NOT_FOUND", "session exited")
		return
	}
	defer sub.Close()

	_ = writer.WriteJSON(wsServerMessage{
		Type:      "status",
		Event:     "connected",
		SessionID: sessionID,
		Name:      info.Name,
		Status:    info.Status,
		ReadOnly:  s.cfg.ReadOnly,
		Time:      time.Now().UTC(),
	})
	if snapshot != "" {
		_ = writer.WriteBinary([]byte(snapshot))
	}

	go pumpSessionEvents(sub, writer)

	// An attached socket is the focused tab; focus/blur report the browser window.
	_ = sessions.SetTabFocus(sessionID, true)
	defer func() { _ = sessions.SetTabFocus(sessionID, false) }()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("websocket_closed_unexpectedly",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			sendErr("INVALID_MESSAGE", "invalid json payload")
			continue
		}

		switch msg.Type {
		case "ping":
			_ = writer.WriteJSON(wsServerMessage{
				Type:      "status",
				Event:     "pong",
				SessionID: sessionID,
				Time:      time.Now().UTC(),
			})
		case "input":
			if s.cfg.ReadOnly {
				sendErr("READ_ONLY", "input is disabled in read-only mode")
				continue
			}
			if err := sessions.UserInput(sessionID, []byte(msg.Data)); err != nil {
				sendErr("INPUT_WRITE_FAILED", "failed to send input to terminal")
			}
		case "resize":
			if msg.Cols <= 0 || msg.Rows <= 0 || msg.Cols > 0xffff || msg.Rows > 0xffff {
				sendErr("INVALID_SIZE", "cols and rows must be positive")
				continue
			}
			if err := sessions.Resize(sessionID, uint16(msg.Cols), uint16(msg.Rows)); err != nil {
				sendErr("RESIZE_FAILED", "failed to resize terminal")
			}
		case "focus", "blur":
			sessions.SetWindowFocus(msg.Type == "focus")
		default:
			sendErr("UNSUPPORTED_MESSAGE", "supported message types: ping,input,resize,focus,blur")
		}
	}
}

func pumpSessionEvents(sub *terminal.Subscription, writer *wsConnWriter) {
	for ev := range sub.C {
		var err error
		switch ev.Kind {
		case terminal.EventOutput:
			err = writer.WriteBinary([]byte(ev.Data))
		case terminal.EventStatus:
			err = writer.WriteJSON(wsServerMessage{
				Type:      "status",
				Event:     "status",
				SessionID: ev.SessionID,
				Status:    ev.Status,
				Time:      time.Now().UTC(),
			})
		case terminal.EventExit:
			code := ev.ExitCode
			_ = writer.WriteJSON(wsServerMessage{
				Type:      "exit",
				SessionID: ev.SessionID,
				ExitCode:  &code,
				Time:      time.Now().UTC(),
			})
			writer.Close(websocket.CloseNormalClosure, "session exited")
			return
		}
		if err != nil {
			return
		}
	}
}
