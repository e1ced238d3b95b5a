package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/deckhand/internal/action"
	"github.com/asheshgoplani/deckhand/internal/assistant"
	"github.com/asheshgoplani/deckhand/internal/stream"
	"github.com/asheshgoplani/deckhand/internal/terminal"
)

const sampleConfig = `
[terminal]
max_sessions = 4
shell = "/bin/zsh"
status_source = "activity"
silence_ms = 900
cols = 100
rows = 40

[assistant]
provider = "codex"
max_concurrent = 3
timeout_minutes = 2
benign_stderr = ["warming up"]

[assistant.codex]
binary = "/opt/codex"

[actions]
default_wait_timeout_ms = 2500
file = "my-actions.toml"

[notifications]
enabled = false
per_minute = 12

[logs]
level = "debug"
format = "text"

[web]
listen = ":9000"
token = "s3cret"
read_only = true

[state]
db_path = "/var/lib/deckhand.db"
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDir_HomeOverride(t *testing.T) {
	t.Setenv(HomeEnv, "/tmp/deck-home")

	dir, err := Dir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/deck-home", dir)

	path, err := Path()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/deck-home/config.toml", path)
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)

	assert.Equal(t, terminal.DefaultMaxSessions, cfg.Terminal.MaxSessionsOrDefault())
	assert.Equal(t, terminal.DefaultSilenceTimeout, cfg.Terminal.SilenceOrDefault())
	assert.Equal(t, terminal.StatusFromTitle, cfg.Terminal.Source())
	assert.Equal(t, stream.ProviderClaude, cfg.Assistant.ProviderOrDefault())
	assert.Equal(t, assistant.DefaultMaxConcurrent, cfg.Assistant.MaxConcurrentOrDefault())
	assert.Equal(t, assistant.DefaultTimeout, cfg.Assistant.TimeoutOrDefault())
	assert.Equal(t, action.DefaultWaitTimeout, cfg.Actions.WaitTimeoutOrDefault())
	assert.Equal(t, "/base/actions.toml", cfg.Actions.FileOrDefault("/base"))
	assert.True(t, cfg.Notifications.IsEnabled())
	assert.Equal(t, 6, cfg.Notifications.PerMinuteOrDefault())
	assert.Equal(t, 2, cfg.Notifications.BurstOrDefault())
	assert.Equal(t, DefaultListen, cfg.Web.ListenOrDefault())
	assert.Equal(t, "/base/state.db", cfg.State.DBPathOrDefault("/base"))
}

func TestLoad_ParsesAllSections(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), sampleConfig))
	require.NoError(t, err)

	mc := cfg.Terminal.ManagerConfig()
	assert.Equal(t, 4, mc.MaxSessions)
	assert.Equal(t, uint16(100), mc.Cols)
	assert.Equal(t, uint16(40), mc.Rows)
	assert.Equal(t, 900*time.Millisecond, mc.SilenceTimeout)
	assert.Equal(t, "/bin/zsh", cfg.Terminal.Shell)
	assert.Equal(t, terminal.StatusFromActivity, cfg.Terminal.Source())

	oc := cfg.Assistant.OrchestratorConfig()
	assert.Equal(t, stream.ProviderCodex, oc.Provider)
	assert.Equal(t, 3, oc.MaxConcurrent)
	assert.Equal(t, 2*time.Minute, oc.Timeout)
	assert.Equal(t, []string{"warming up"}, oc.BenignStderr)
	require.Contains(t, oc.Providers, stream.ProviderCodex)
	assert.Equal(t, "/opt/codex", oc.Providers[stream.ProviderCodex].Binary)
	assert.NotContains(t, oc.Providers, stream.ProviderClaude, "empty section keeps the built-in")
	assert.Equal(t, map[string]string{"claude": "claude", "codex": "/opt/codex"}, cfg.Assistant.Binaries())

	assert.Equal(t, 2500*time.Millisecond, cfg.Actions.WaitTimeoutOrDefault())
	assert.Equal(t, "/base/my-actions.toml", cfg.Actions.FileOrDefault("/base"))

	assert.False(t, cfg.Notifications.IsEnabled())
	assert.Equal(t, 12, cfg.Notifications.PerMinuteOrDefault())

	assert.Equal(t, ":9000", cfg.Web.ListenOrDefault())
	assert.Equal(t, "s3cret", cfg.Web.Token)
	assert.True(t, cfg.Web.ReadOnly)
	assert.Equal(t, "/var/lib/deckhand.db", cfg.State.DBPathOrDefault("/base"))

	lc := cfg.Logs.LoggingConfig("/base")
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "text", lc.Format)
	assert.Equal(t, "/base/logs", lc.LogDir)
	assert.Equal(t, 30, lc.AggregateIntervalSecs)
}

func TestLoad_ParseErrorReturnsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), "[terminal\nmax_sessions = "))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.toml parse error")
	require.NotNil(t, cfg)
	assert.Equal(t, terminal.DefaultMaxSessions, cfg.Terminal.MaxSessionsOrDefault())
}

func TestLoggingConfig_Disabled(t *testing.T) {
	lc := LogSettings{Disabled: true, RingBufferMB: 2}.LoggingConfig("/base")
	assert.Empty(t, lc.LogDir)
	assert.Equal(t, 2*1024*1024, lc.RingBufferSize)
}

func TestManagerConfig_IgnoresOutOfRangeSize(t *testing.T) {
	mc := TerminalSettings{Cols: -1, Rows: 70000}.ManagerConfig()
	assert.Zero(t, mc.Cols)
	assert.Zero(t, mc.Rows)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[terminal]\nmax_sessions = 1\n")

	var latest atomic.Int64
	w, err := NewWatcher(path, func(cfg *Config) {
		latest.Store(int64(cfg.Terminal.MaxSessions))
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	writeConfig(t, dir, "[terminal]\nmax_sessions = 7\n")
	assert.Eventually(t, func() bool { return latest.Load() == 7 }, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_SkipsBrokenFileAndOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	var calls atomic.Int32
	w, err := NewWatcher(path, func(*Config) { calls.Add(1) })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1"), 0o600))
	writeConfig(t, dir, "[terminal")
	time.Sleep(400 * time.Millisecond)
	assert.Zero(t, calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
