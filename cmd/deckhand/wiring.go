package main

import (
	"log/slog"

	"github.com/asheshgoplani/deckhand/internal/action"
	"github.com/asheshgoplani/deckhand/internal/assistant"
	"github.com/asheshgoplani/deckhand/internal/config"
	"github.com/asheshgoplani/deckhand/internal/logging"
	"github.com/asheshgoplani/deckhand/internal/notify"
	"github.com/asheshgoplani/deckhand/internal/statedb"
	"github.com/asheshgoplani/deckhand/internal/terminal"
)

var cliLog = logging.ForComponent(logging.CompCLI)

// openState opens and migrates the state database. Commands keep working without
// persistence when it cannot be opened, so failures are logged and nil is returned.
func openState(env *environment) *statedb.StateDB {
	path := env.cfg.State.DBPathOrDefault(env.dir)
	db, err := statedb.Open(path)
	if err != nil {
		cliLog.Warn("state_open_failed", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	if err := db.Migrate(); err != nil {
		cliLog.Warn("state_migrate_failed", slog.String("path", path), slog.String("error", err.Error()))
		_ = db.Close()
		return nil
	}
	return db
}

func managerOptions(cfg *config.Config, db *statedb.StateDB, extra ...terminal.Option) []terminal.Option {
	opts := []terminal.Option{terminal.WithStarter(terminal.PTYStarter{Shell: cfg.Terminal.Shell})}
	if db != nil {
		opts = append(opts, terminal.WithCollectionTracker(db), terminal.WithRecorder(db))
	}
	return append(opts, extra...)
}

func orchestratorOptions(db *statedb.StateDB) []assistant.Option {
	if db == nil {
		return nil
	}
	return []assistant.Option{assistant.WithRecorder(db)}
}

func notifyConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		Enabled:   cfg.Notifications.IsEnabled(),
		PerMinute: cfg.Notifications.PerMinuteOrDefault(),
		Burst:     cfg.Notifications.BurstOrDefault(),
	}
}

func commandBuilder(cfg *config.Config) action.CommandBuilder {
	return action.ExpandProvider(cfg.Assistant.Binaries(), string(cfg.Assistant.ProviderOrDefault()))
}

// actionLoader rereads the actions file on every run so edits apply without a restart.
func actionLoader(path string) action.Loader {
	return func() (*action.File, error) {
		return action.LoadFile(path)
	}
}

func newActionRunner(env *environment, sessions action.Sessions, file string) *action.Runner {
	if file == "" {
		file = env.cfg.Actions.FileOrDefault(env.dir)
	}
	engine := action.NewEngine(sessions, action.WithDefaultWaitTimeout(env.cfg.Actions.WaitTimeoutOrDefault()))
	return action.NewRunner(engine, actionLoader(file), commandBuilder(env.cfg))
}
