// Package config loads the user configuration from ~/.deckhand/config.toml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/asheshgoplani/deckhand/internal/action"
	"github.com/asheshgoplani/deckhand/internal/assistant"
	"github.com/asheshgoplani/deckhand/internal/logging"
	"github.com/asheshgoplani/deckhand/internal/stream"
	"github.com/asheshgoplani/deckhand/internal/terminal"
)

// FileName is the config file inside Dir().
const FileName = "config.toml"

// HomeEnv overrides the base directory.
const HomeEnv = "DECKHAND_HOME"

// DefaultListen is the web server address when [web] listen is unset.
const DefaultListen = "127.0.0.1:7421"

// Config is the whole config.toml document.
type Config struct {
	Terminal      TerminalSettings     `toml:"terminal"`
	Assistant     AssistantSettings    `toml:"assistant"`
	Actions       ActionSettings       `toml:"actions"`
	Notifications NotificationSettings `toml:"notifications"`
	Logs          LogSettings          `toml:"logs"`
	Web           WebSettings          `toml:"web"`
	State         StateSettings        `toml:"state"`
}

// TerminalSettings configures interactive sessions.
type TerminalSettings struct {
	// MaxSessions caps concurrently live sessions
	// Default: 10
	MaxSessions int `toml:"max_sessions"`

	// BufferMax is the retained scrollback per session in bytes
	// Default: 100000
	BufferMax int `toml:"buffer_max"`

	// BufferLookahead is how far past the cut point a newline is searched for
	// Default: 1024
	BufferLookahead int `toml:"buffer_lookahead"`

	// Shell overrides $SHELL for new sessions
	Shell string `toml:"shell"`

	// StatusSource is "title" (default) or "activity"
	StatusSource string `toml:"status_source"`

	// SilenceMs is the quiet period that ends an activity-driven turn
	// Default: 1500
	SilenceMs int `toml:"silence_ms"`

	Cols int `toml:"cols"`
	Rows int `toml:"rows"`
}

// ProviderSettings overrides one provider's command line.
type ProviderSettings struct {
	Binary string   `toml:"binary"`
	Args   []string `toml:"args"`
	Env    []string `toml:"env"`
}

// AssistantSettings configures headless requests.
type AssistantSettings struct {
	// Provider is "claude" (default) or "codex"
	Provider string `toml:"provider"`

	// MaxConcurrent caps in-flight requests
	// Default: 2
	MaxConcurrent int `toml:"max_concurrent"`

	// TimeoutMinutes is the hard limit per request
	// Default: 5
	TimeoutMinutes int `toml:"timeout_minutes"`

	// MaxOutputBytes caps accumulated preview plus answer text
	// Default: 1048576
	MaxOutputBytes int `toml:"max_output_bytes"`

	// BenignStderr lists stderr substrings that are dropped silently
	BenignStderr []string `toml:"benign_stderr"`

	Claude ProviderSettings `toml:"claude"`
	Codex  ProviderSettings `toml:"codex"`
}

// ActionSettings configures scripted actions.
type ActionSettings struct {
	// DefaultWaitTimeoutMs applies to wait_for steps without timeout_ms
	// Default: 10000
	DefaultWaitTimeoutMs int `toml:"default_wait_timeout_ms"`

	// File holds [[actions]] definitions
	// Default: <dir>/actions.toml
	File string `toml:"file"`
}

// NotificationSettings configures status notifications.
type NotificationSettings struct {
	// Enabled defaults to true when unset
	Enabled *bool `toml:"enabled"`

	// PerMinute is the sustained notification rate per session
	// Default: 6
	PerMinute int `toml:"per_minute"`

	// Burst is how many notifications may fire back to back
	// Default: 2
	Burst int `toml:"burst"`
}

// LogSettings configures debug.log.
type LogSettings struct {
	// Level: "debug", "info" (default), "warn", "error"
	Level string `toml:"level"`

	// Format: "json" (default) or "text"
	Format string `toml:"format"`

	// Dir defaults to <dir>/logs
	Dir string `toml:"dir"`

	MaxMB         int  `toml:"max_mb"`
	Backups       int  `toml:"backups"`
	RetentionDays int  `toml:"retention_days"`
	Compress      bool `toml:"compress"`

	// RingBufferMB is the in-memory crash buffer
	// Default: 4
	RingBufferMB int `toml:"ring_buffer_mb"`

	// AggregateSecs is the flush interval for batched high-frequency events
	// Default: 30
	AggregateSecs int `toml:"aggregate_secs"`

	// Disabled discards all log records
	Disabled bool `toml:"disabled"`
}

// WebSettings configures the web server.
type WebSettings struct {
	Listen   string `toml:"listen"`
	Token    string `toml:"token"`
	ReadOnly bool   `toml:"read_only"`
}

// StateSettings configures the SQLite state database.
type StateSettings struct {
	// DBPath defaults to <dir>/state.db
	DBPath string `toml:"db_path"`
}

// Dir returns the base directory: $DECKHAND_HOME or ~/.deckhand.
func Dir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".deckhand"), nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the config at path. A missing file yields the defaults. On a parse error
// the defaults are returned together with the error so callers can keep running.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return &Config{}, fmt.Errorf("%s parse error: %w", filepath.Base(path), err)
	}
	return &cfg, nil
}

// --- Terminal ---

func (t TerminalSettings) MaxSessionsOrDefault() int {
	if t.MaxSessions <= 0 {
		return terminal.DefaultMaxSessions
	}
	return t.MaxSessions
}

func (t TerminalSettings) SilenceOrDefault() time.Duration {
	if t.SilenceMs <= 0 {
		return terminal.DefaultSilenceTimeout
	}
	return time.Duration(t.SilenceMs) * time.Millisecond
}

// Source maps status_source to a terminal.StatusSource. Unknown values fall back to titles.
func (t TerminalSettings) Source() terminal.StatusSource {
	if t.StatusSource == "activity" {
		return terminal.StatusFromActivity
	}
	return terminal.StatusFromTitle
}

// ManagerConfig builds the terminal manager configuration.
func (t TerminalSettings) ManagerConfig() terminal.Config {
	cfg := terminal.Config{
		MaxSessions:     t.MaxSessionsOrDefault(),
		BufferMax:       t.BufferMax,
		BufferLookahead: t.BufferLookahead,
		SilenceTimeout:  t.SilenceOrDefault(),
	}
	if t.Cols > 0 && t.Cols <= 0xffff {
		cfg.Cols = uint16(t.Cols)
	}
	if t.Rows > 0 && t.Rows <= 0xffff {
		cfg.Rows = uint16(t.Rows)
	}
	return cfg
}

// --- Assistant ---

func (a AssistantSettings) ProviderOrDefault() stream.Provider {
	if a.Provider == "" {
		return stream.ProviderClaude
	}
	return stream.Provider(a.Provider)
}

func (a AssistantSettings) MaxConcurrentOrDefault() int {
	if a.MaxConcurrent <= 0 {
		return assistant.DefaultMaxConcurrent
	}
	return a.MaxConcurrent
}

func (a AssistantSettings) TimeoutOrDefault() time.Duration {
	if a.TimeoutMinutes <= 0 {
		return assistant.DefaultTimeout
	}
	return time.Duration(a.TimeoutMinutes) * time.Minute
}

// OrchestratorConfig builds the assistant configuration. Empty provider sections keep
// the built-in invocation.
func (a AssistantSettings) OrchestratorConfig() assistant.Config {
	providers := make(map[stream.Provider]assistant.ProviderConfig)
	for name, p := range map[stream.Provider]ProviderSettings{
		stream.ProviderClaude: a.Claude,
		stream.ProviderCodex:  a.Codex,
	} {
		if p.Binary == "" && p.Args == nil && p.Env == nil {
			continue
		}
		providers[name] = assistant.ProviderConfig{Binary: p.Binary, Args: p.Args, Env: p.Env}
	}
	return assistant.Config{
		Provider:       a.ProviderOrDefault(),
		Providers:      providers,
		MaxConcurrent:  a.MaxConcurrentOrDefault(),
		Timeout:        a.TimeoutOrDefault(),
		MaxOutputBytes: a.MaxOutputBytes,
		BenignStderr:   a.BenignStderr,
	}
}

// Binaries maps each provider name to the executable used for it, for expanding
// provider placeholders in actions.
func (a AssistantSettings) Binaries() map[string]string {
	out := make(map[string]string)
	for name, p := range assistant.DefaultProviders() {
		out[string(name)] = p.Binary
	}
	if a.Claude.Binary != "" {
		out[string(stream.ProviderClaude)] = a.Claude.Binary
	}
	if a.Codex.Binary != "" {
		out[string(stream.ProviderCodex)] = a.Codex.Binary
	}
	return out
}

// --- Actions ---

func (a ActionSettings) WaitTimeoutOrDefault() time.Duration {
	if a.DefaultWaitTimeoutMs <= 0 {
		return action.DefaultWaitTimeout
	}
	return time.Duration(a.DefaultWaitTimeoutMs) * time.Millisecond
}

// FileOrDefault returns the actions file, relative paths resolved against dir.
func (a ActionSettings) FileOrDefault(dir string) string {
	if a.File == "" {
		return filepath.Join(dir, "actions.toml")
	}
	if filepath.IsAbs(a.File) {
		return a.File
	}
	return filepath.Join(dir, a.File)
}

// --- Notifications ---

func (n NotificationSettings) IsEnabled() bool {
	return n.Enabled == nil || *n.Enabled
}

func (n NotificationSettings) PerMinuteOrDefault() int {
	if n.PerMinute <= 0 {
		return 6
	}
	return n.PerMinute
}

func (n NotificationSettings) BurstOrDefault() int {
	if n.Burst <= 0 {
		return 2
	}
	return n.Burst
}

// --- Logs ---

// LoggingConfig builds the logging configuration rooted at dir.
func (l LogSettings) LoggingConfig(dir string) logging.Config {
	cfg := logging.Config{
		Level:                 l.Level,
		Format:                l.Format,
		MaxSizeMB:             l.MaxMB,
		MaxBackups:            l.Backups,
		MaxAgeDays:            l.RetentionDays,
		Compress:              l.Compress,
		RingBufferSize:        l.RingBufferMB * 1024 * 1024,
		AggregateIntervalSecs: l.AggregateSecs,
	}
	if cfg.AggregateIntervalSecs <= 0 {
		cfg.AggregateIntervalSecs = 30
	}
	if l.Disabled {
		return cfg
	}
	cfg.LogDir = l.Dir
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(dir, "logs")
	}
	return cfg
}

// --- Web / state ---

func (w WebSettings) ListenOrDefault() string {
	if w.Listen == "" {
		return DefaultListen
	}
	return w.Listen
}

func (s StateSettings) DBPathOrDefault(dir string) string {
	if s.DBPath == "" {
		return filepath.Join(dir, "state.db")
	}
	return s.DBPath
}
