package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/asheshgoplani/deckhand/internal/logging"
	"github.com/asheshgoplani/deckhand/internal/terminal"
)

func handleShell(args []string) int {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)
	repo := fs.String("repo", "", "Repository to open (default: current directory)")
	track := fs.Bool("track", false, "Mark the session as tracked")
	label := fs.String("label", "", "Task label for the session")
	fs.Usage = func() {
		fmt.Println("Usage: deckhand shell [options]")
		fmt.Println()
		fmt.Println("Open a shell session in a repository and attach this terminal to it.")
		fmt.Println("Press Ctrl+Q to detach; the session ends with this command.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}
	dir, err := repoOrCwd(*repo)
	if err != nil {
		return fail("%v", err)
	}

	env, err := loadEnvironment()
	if err != nil {
		return fail("%v", err)
	}
	defer logging.Shutdown()

	db := openState(env)
	if db != nil {
		defer db.Close()
	}

	manager := terminal.NewManager(env.cfg.Terminal.ManagerConfig(), managerOptions(env.cfg, db)...)
	defer func() { _ = manager.KillAll() }()

	res, err := manager.SpawnWithOptions(terminal.SpawnOptions{
		RepoPath:  dir,
		Track:     *track,
		TaskLabel: *label,
		Source:    env.cfg.Terminal.Source(),
	})
	if err != nil {
		return fail("%v", err)
	}
	if res.IsNew {
		fmt.Fprintf(os.Stderr, "New codename discovered: %s\n", res.Name)
	}
	fmt.Fprintf(os.Stderr, "Attached to %s in %s (Ctrl+Q to detach)\r\n", res.Name, dir)

	outcome, err := attachLocal(manager, res.ID, os.Stdin, os.Stdout)
	if err != nil {
		return fail("%v", err)
	}
	if outcome.detached {
		fmt.Fprintf(os.Stderr, "\r\nDetached from %s\n", res.Name)
		return 0
	}
	fmt.Fprintf(os.Stderr, "\r\n%s exited with code %d\n", res.Name, outcome.exitCode)
	return outcome.exitCode
}
