package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/deckhand/internal/assistant"
	"github.com/asheshgoplani/deckhand/internal/config"
	"github.com/asheshgoplani/deckhand/internal/logging"
	"github.com/asheshgoplani/deckhand/internal/notify"
	"github.com/asheshgoplani/deckhand/internal/statedb"
	"github.com/asheshgoplani/deckhand/internal/terminal"
	"github.com/asheshgoplani/deckhand/internal/web"
)

const (
	heartbeatInterval = 10 * time.Second
	// heartbeatTimeout is how stale another server's heartbeat may be before its
	// sessions are considered orphaned.
	heartbeatTimeout = 30 * time.Second
	shutdownTimeout  = 5 * time.Second
)

func handleServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", "", "Listen address (default from [web] listen, then "+config.DefaultListen+")")
	token := fs.String("token", "", "Bearer token for API and websocket access")
	readOnly := fs.Bool("read-only", false, "Reject terminal input, spawns and asks")
	fs.Usage = func() {
		fmt.Println("Usage: deckhand serve [options]")
		fmt.Println()
		fmt.Println("Run the web server. Sessions, assistant requests and actions live in this process")
		fmt.Println("and end when it stops. SIGUSR1 writes the recent log tail to")
		fmt.Println("crash-dump-<unix>.jsonl in the config directory.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() > 0 {
		return fail("unexpected arguments: %v", fs.Args())
	}

	env, err := loadEnvironment()
	if err != nil {
		return fail("%v", err)
	}
	defer logging.Shutdown()
	cfg := env.cfg

	db := openState(env)
	if db != nil {
		defer db.Close()
		prepareState(db)
		defer func() { _ = db.UnregisterInstance() }()
	}

	notifier := notify.New(notifyConfig(cfg), nil)
	manager := terminal.NewManager(cfg.Terminal.ManagerConfig(), managerOptions(cfg, db, terminal.WithNotifier(notifier))...)
	defer func() {
		if err := manager.KillAll(); err != nil {
			cliLog.Warn("kill_all_failed", slog.String("error", err.Error()))
		}
	}()

	hub := web.NewAssistantHub()
	orchestrator := assistant.NewOrchestrator(cfg.Assistant.OrchestratorConfig(), hub.Callbacks(), orchestratorOptions(db)...)
	hub.Bind(orchestrator)
	defer orchestrator.Shutdown()

	runner := newActionRunner(env, manager, "")

	server := web.NewServer(web.Config{
		ListenAddr:          firstNonEmpty(*listen, cfg.Web.ListenOrDefault()),
		ReadOnly:            *readOnly || cfg.Web.ReadOnly,
		Token:               firstNonEmpty(*token, cfg.Web.Token),
		Sessions:            manager,
		Assistant:           hub,
		Actions:             runner,
		DefaultStatusSource: cfg.Terminal.Source(),
	})
	notifier.SetPresenter(server)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	watcher, err := config.NewWatcher(env.path, func(next *config.Config) {
		manager.SetMaxSessions(next.Terminal.MaxSessionsOrDefault())
		orchestrator.SetMaxConcurrent(next.Assistant.MaxConcurrentOrDefault())
		notifier.SetConfig(notifyConfig(next))
		runner.SetCommandBuilder(commandBuilder(next))
	})
	if err != nil {
		cliLog.Warn("config_watch_unavailable", slog.String("error", err.Error()))
	} else {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	g.Go(func() error {
		watchDumpSignal(gctx, env.dir)
		return nil
	})

	if db != nil {
		g.Go(func() error {
			runHeartbeat(gctx, db)
			return nil
		})
	}

	fmt.Printf("deckhand v%s listening on http://%s\n", Version, server.Addr())
	if err := g.Wait(); err != nil {
		return fail("%v", err)
	}
	return 0
}

// prepareState registers this server and closes out sessions whose owner died
// without recording an exit.
func prepareState(db *statedb.StateDB) {
	if err := db.RegisterInstance(); err != nil {
		cliLog.Warn("register_instance_failed", slog.String("error", err.Error()))
	}
	if prev, err := db.RecordServerStart(); err != nil {
		cliLog.Warn("record_start_failed", slog.String("error", err.Error()))
	} else if !prev.IsZero() {
		cliLog.Info("previous_start", slog.Time("at", prev))
	}
	if err := db.CleanDeadInstances(heartbeatTimeout); err != nil {
		cliLog.Warn("clean_dead_instances_failed", slog.String("error", err.Error()))
	}
	n, err := db.CloseOrphanedSessions(heartbeatTimeout)
	if err != nil {
		cliLog.Warn("close_orphans_failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		cliLog.Info("orphaned_sessions_closed", slog.Int("count", n))
	}
}

func runHeartbeat(ctx context.Context, db *statedb.StateDB) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.Heartbeat(); err != nil {
				cliLog.Warn("heartbeat_failed", slog.String("error", err.Error()))
			}
		}
	}
}
