// Package web serves the browser boundary: session and assistant websockets, a
// session event stream, and a small JSON API.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/asheshgoplani/deckhand/internal/action"
	"github.com/asheshgoplani/deckhand/internal/logging"
	"github.com/asheshgoplani/deckhand/internal/terminal"
)

var webLog = logging.ForComponent(logging.CompWeb)

// SessionManager is the part of terminal.Manager the server exposes.
type SessionManager interface {
	SpawnWithOptions(opts terminal.SpawnOptions) (*terminal.SpawnResult, error)
	Kill(id string)
	Get(id string) (terminal.SessionInfo, bool)
	List() []terminal.SessionInfo
	Attach(id string) (string, *terminal.Subscription, error)
	SubscribeAll() *terminal.Subscription
	UserInput(id string, data []byte) error
	Resize(id string, cols, rows uint16) error
	SetTabFocus(id string, focused bool) error
	SetWindowFocus(focused bool)
	SetTaskLabel(id, label string) error
}

// ActionRunner resolves and runs a named action.
type ActionRunner interface {
	Run(ctx context.Context, name, repoPath string) (*action.Result, error)
}

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string
	ReadOnly   bool
	Token      string

	Sessions  SessionManager
	Assistant *AssistantHub
	Actions   ActionRunner

	// DefaultStatusSource applies to spawns that do not choose one.
	DefaultStatusSource terminal.StatusSource
}

// Server wraps an HTTP server for deckhand web mode.
type Server struct {
	cfg        Config
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc

	notifySubscribersMu sync.Mutex
	notifySubscribers   map[chan notification]struct{}
}

// NewServer creates a new web server with routes and middleware.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:7421"
	}
	if cfg.Assistant == nil {
		cfg.Assistant = NewAssistantHub()
	}

	s := &Server{
		cfg:               cfg,
		notifySubscribers: make(map[chan notification]struct{}),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/sessions", s.requireAuth(s.handleListSessions))
	mux.HandleFunc("POST /api/sessions", s.requireAuth(s.requireWritable(s.handleSpawnSession)))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.requireAuth(s.requireWritable(s.handleKillSession)))
	mux.HandleFunc("PATCH /api/sessions/{id}", s.requireAuth(s.requireWritable(s.handleLabelSession)))
	mux.HandleFunc("POST /api/actions/run", s.requireAuth(s.requireWritable(s.handleRunAction)))
	mux.HandleFunc("GET /events/sessions", s.requireAuth(s.handleSessionEvents))
	mux.HandleFunc("GET /ws/session/{id}", s.requireAuth(s.handleSessionWS))
	mux.HandleFunc("GET /ws/assistant", s.requireAuth(s.handleAssistantWS))

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown. Returns nil on graceful shutdown.
func (s *Server) Start() error {
	webLog.Info("web_listening", slog.String("addr", s.cfg.ListenAddr), slog.Bool("read_only", s.cfg.ReadOnly))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	// Long-lived handlers (SSE/WS) watch the base context.
	s.cancelBase()

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"ok":       true,
		"readOnly": s.cfg.ReadOnly,
		"time":     time.Now().UTC().Format(time.RFC3339),
	}
	if s.cfg.Sessions != nil {
		resp["sessions"] = len(s.cfg.Sessions.List())
	}
	writeJSON(w, http.StatusOK, resp)
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("web-server(addr=%s, readOnly=%t)", s.cfg.ListenAddr, s.cfg.ReadOnly)
}
