package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/asheshgoplani/deckhand/internal/action"
	"github.com/asheshgoplani/deckhand/internal/terminal"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type spawnRequest struct {
	RepoPath  string `json:"repoPath"`
	Track     bool   `json:"track"`
	TaskLabel string `json:"taskLabel,omitempty"`
	// StatusSource is "title" or "activity"; empty uses the server default.
	StatusSource string `json:"statusSource,omitempty"`
}

type spawnResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	IsNew bool   `json:"isNew"`
}

type labelRequest struct {
	TaskLabel string `json:"taskLabel"`
}

type runActionRequest struct {
	Name     string `json:"name"`
	RepoPath string `json:"repoPath"`
}

type runActionResponse struct {
	SessionID   string `json:"sessionId,omitempty"`
	SessionName string `json:"sessionName,omitempty"`
	Error       string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{Error: apiError{Code: code, Message: message}})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) sessions(w http.ResponseWriter) (SessionManager, bool) {
	if s.cfg.Sessions == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "terminal sessions are not enabled")
		return nil, false
	}
	return s.cfg.Sessions, true
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, ok := s.sessions(w)
	if !ok {
		return
	}
	list := sessions.List()
	if list == nil {
		list = []terminal.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleSpawnSession(w http.ResponseWriter, r *http.Request) {
	sessions, ok := s.sessions(w)
	if !ok {
		return
	}
	var req spawnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RepoPath) == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "repoPath is required")
		return
	}
	source := s.cfg.DefaultStatusSource
	switch req.StatusSource {
	case "title":
		source = terminal.StatusFromTitle
	case "activity":
		source = terminal.StatusFromActivity
	}

	res, err := sessions.SpawnWithOptions(terminal.SpawnOptions{
		RepoPath:  req.RepoPath,
		Track:     req.Track,
		TaskLabel: req.TaskLabel,
		Source:    source,
	})
	if err != nil {
		if errors.Is(err, terminal.ErrSessionLimit) {
			writeAPIError(w, http.StatusTooManyRequests, "SESSION_LIMIT", err.Error())
			return
		}
		webLog.Error("spawn_failed", slog.String("repo", req.RepoPath), slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "SPAWN_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, spawnResponse{ID: res.ID, Name: res.Name, IsNew: res.IsNew})
}

func (s *Server) handleKillSession(w http.ResponseWriter, r *http.Request) {
	sessions, ok := s.sessions(w)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if _, found := sessions.Get(id); !found {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}
	sessions.Kill(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLabelSession(w http.ResponseWriter, r *http.Request) {
	sessions, ok := s.sessions(w)
	if !ok {
		return
	}
	var req labelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	if err := sessions.SetTaskLabel(id, req.TaskLabel); err != nil {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}
	info, _ := sessions.Get(id)
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRunAction(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Actions == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "actions are not enabled")
		return
	}
	var req runActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.RepoPath == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "name and repoPath are required")
		return
	}

	res, err := s.cfg.Actions.Run(r.Context(), req.Name, req.RepoPath)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, runActionResponse{SessionID: res.SessionID, SessionName: res.SessionName})
	case errors.Is(err, action.ErrActionNotFound):
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case res == nil:
		writeAPIError(w, http.StatusInternalServerError, "ACTION_FAILED", err.Error())
	default:
		// The session is still running; report it alongside the failed step.
		writeJSON(w, http.StatusUnprocessableEntity, runActionResponse{
			SessionID:   res.SessionID,
			SessionName: res.SessionName,
			Error:       err.Error(),
		})
	}
}
