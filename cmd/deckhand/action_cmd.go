package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/asheshgoplani/deckhand/internal/action"
	"github.com/asheshgoplani/deckhand/internal/logging"
	"github.com/asheshgoplani/deckhand/internal/terminal"
)

func handleAction(args []string) int {
	fs := flag.NewFlagSet("action", flag.ContinueOnError)
	file := fs.String("file", "", "Actions file (default from [actions] file, then ~/.deckhand/actions.toml)")
	name := fs.String("name", "", "Action to run")
	repo := fs.String("repo", "", "Repository to run in (default: current directory)")
	list := fs.Bool("list", false, "List the actions in the file and exit")
	attach := fs.Bool("attach", false, "Attach this terminal to the session after the action finishes")
	fs.Usage = func() {
		fmt.Println("Usage: deckhand action -name <action> [options]")
		fmt.Println()
		fmt.Println("Run an action's steps in a new session and print the session output.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}
	if *name == "" && fs.NArg() == 1 {
		*name = fs.Arg(0)
	}

	env, err := loadEnvironment()
	if err != nil {
		return fail("%v", err)
	}
	defer logging.Shutdown()

	path := firstNonEmpty(*file, env.cfg.Actions.FileOrDefault(env.dir))
	if *list {
		return listActions(path)
	}
	if *name == "" {
		fs.Usage()
		return 2
	}
	dir, err := repoOrCwd(*repo)
	if err != nil {
		return fail("%v", err)
	}

	db := openState(env)
	if db != nil {
		defer db.Close()
	}
	manager := terminal.NewManager(env.cfg.Terminal.ManagerConfig(), managerOptions(env.cfg, db)...)
	defer func() { _ = manager.KillAll() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := newActionRunner(env, manager, path)
	res, runErr := runner.Run(ctx, *name, dir)
	if res != nil && (runErr != nil || !*attach) {
		if out, err := manager.Output(res.SessionID); err == nil {
			fmt.Print(out)
		}
	}
	if runErr != nil {
		if errors.Is(runErr, action.ErrActionNotFound) {
			return fail("%v (see 'deckhand action -list')", runErr)
		}
		return fail("%v", runErr)
	}
	if !*attach {
		return 0
	}

	// The attach snapshot replays everything the action produced.
	stop()
	outcome, err := attachLocal(manager, res.SessionID, os.Stdin, os.Stdout)
	if err != nil {
		return fail("%v", err)
	}
	if !outcome.detached {
		return outcome.exitCode
	}
	return 0
}

func listActions(path string) int {
	f, err := action.LoadFile(path)
	if err != nil {
		return fail("%v", err)
	}
	for _, a := range f.Actions {
		provider := a.Provider
		if provider == "" {
			provider = "-"
		}
		fmt.Printf("%-24s %-8s %2d steps  %s\n", a.Name, provider, len(a.Steps), a.Description)
	}
	return 0
}
