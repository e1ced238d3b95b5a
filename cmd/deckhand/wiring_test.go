package main

import (
	"testing"

	"github.com/asheshgoplani/deckhand/internal/config"
)

func TestNotifyConfigDefaults(t *testing.T) {
	got := notifyConfig(&config.Config{})
	if !got.Enabled || got.PerMinute != 6 || got.Burst != 2 {
		t.Fatalf("unexpected defaults: %+v", got)
	}

	off := false
	got = notifyConfig(&config.Config{Notifications: config.NotificationSettings{Enabled: &off, PerMinute: 1}})
	if got.Enabled || got.PerMinute != 1 {
		t.Fatalf("unexpected config: %+v", got)
	}
}

func TestCommandBuilderUsesConfiguredBinaries(t *testing.T) {
	cfg := &config.Config{Assistant: config.AssistantSettings{
		Provider: "codex",
		Codex:    config.ProviderSettings{Binary: "/opt/codex"},
	}}
	build := commandBuilder(cfg)

	if got := build("", "{{provider}} --full-auto\r"); got != "/opt/codex --full-auto\r" {
		t.Fatalf("default provider: %q", got)
	}
	if got := build("claude", "{{provider}}\r"); got != "claude\r" {
		t.Fatalf("claude: %q", got)
	}
}

func TestOpenStateAndHistory(t *testing.T) {
	dir := t.TempDir()
	env := &environment{cfg: &config.Config{}, dir: dir}

	db := openState(env)
	if db == nil {
		t.Fatal("expected state database")
	}
	defer db.Close()

	prepareState(db)
	rows, err := db.LoadSessions(10)
	if err != nil || len(rows) != 0 {
		t.Fatalf("fresh db: %v %v", rows, err)
	}
	if last, err := db.LastServerStart(); err != nil || last.IsZero() {
		t.Fatalf("server start not recorded: %v %v", last, err)
	}
}
