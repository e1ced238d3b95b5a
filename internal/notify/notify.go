// Package notify turns session status transitions into user-facing notifications,
// throttled per session.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/asheshgoplani/deckhand/internal/logging"
	"github.com/asheshgoplani/deckhand/internal/terminal"
)

var notifLog = logging.ForComponent(logging.CompNotif)

// Notification is one transition worth telling the user about.
type Notification struct {
	SessionID string
	RepoPath  string
	From      terminal.Status
	To        terminal.Status
	At        time.Time
}

// Presenter delivers notifications to the user.
type Presenter interface {
	Present(n Notification) error
}

// LogPresenter writes notifications to the log only.
type LogPresenter struct{}

func (LogPresenter) Present(n Notification) error {
	notifLog.Info("notification",
		slog.String("session_id", n.SessionID),
		slog.String("repo", n.RepoPath),
		slog.String("from", string(n.From)),
		slog.String("to", string(n.To)))
	return nil
}

// Config controls delivery. PerMinute and Burst apply to each session separately.
type Config struct {
	Enabled   bool
	PerMinute int
	Burst     int
}

// ShouldNotify reports whether moving from one status to another needs the user:
// a finished turn nobody is looking at, or a session that failed.
func ShouldNotify(from, to terminal.Status) bool {
	if from == to {
		return false
	}
	return to == terminal.StatusWaitingUnseen || to == terminal.StatusError
}

type sessionState struct {
	last    terminal.Status
	limiter *rate.Limiter
}

// Notifier implements terminal.Notifier.
type Notifier struct {
	now func() time.Time

	mu        sync.Mutex
	presenter Presenter
	cfg       Config
	sessions  map[string]*sessionState
}

func New(cfg Config, presenter Presenter) *Notifier {
	if presenter == nil {
		presenter = LogPresenter{}
	}
	return &Notifier{
		presenter: presenter,
		now:       time.Now,
		cfg:       cfg,
		sessions:  make(map[string]*sessionState),
	}
}

// SetPresenter replaces where notifications are delivered. nil restores LogPresenter.
func (n *Notifier) SetPresenter(p Presenter) {
	if p == nil {
		p = LogPresenter{}
	}
	n.mu.Lock()
	n.presenter = p
	n.mu.Unlock()
}

// SetConfig applies new limits. Existing per-session limiters are rebuilt lazily.
func (n *Notifier) SetConfig(cfg Config) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg = cfg
	for _, s := range n.sessions {
		s.limiter = nil
	}
}

func (n *Notifier) NotifyStatusChange(sessionID string, status terminal.Status, repoPath string) {
	now := n.now()

	n.mu.Lock()
	s, ok := n.sessions[sessionID]
	if !ok {
		s = &sessionState{last: terminal.StatusIdle}
		n.sessions[sessionID] = s
	}
	from := s.last
	s.last = status
	if !n.cfg.Enabled || !ShouldNotify(from, status) {
		n.mu.Unlock()
		return
	}
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(perMinute(n.cfg.PerMinute), max(n.cfg.Burst, 1))
	}
	allowed := s.limiter.AllowN(now, 1)
	presenter := n.presenter
	n.mu.Unlock()

	if !allowed {
		logging.Aggregate(logging.CompNotif, "notification_throttled", slog.String("session_id", sessionID))
		return
	}
	err := presenter.Present(Notification{
		SessionID: sessionID,
		RepoPath:  repoPath,
		From:      from,
		To:        status,
		At:        now,
	})
	if err != nil {
		notifLog.Warn("notification_failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}
}

func (n *Notifier) RemoveSession(sessionID string) {
	n.mu.Lock()
	delete(n.sessions, sessionID)
	n.mu.Unlock()
}

func perMinute(count int) rate.Limit {
	if count <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(count))
}

var _ terminal.Notifier = (*Notifier)(nil)
