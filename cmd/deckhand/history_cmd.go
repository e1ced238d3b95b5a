package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/asheshgoplani/deckhand/internal/logging"
	"github.com/asheshgoplani/deckhand/internal/statedb"
)

func handleHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "Number of entries of each kind")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	fs.Usage = func() {
		fmt.Println("Usage: deckhand history [options]")
		fmt.Println()
		fmt.Println("Show recent terminal sessions and assistant requests.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	env, err := loadEnvironment()
	if err != nil {
		return fail("%v", err)
	}
	defer logging.Shutdown()

	db := openState(env)
	if db == nil {
		return fail("state database unavailable at %s", env.cfg.State.DBPathOrDefault(env.dir))
	}
	defer db.Close()

	sessions, err := db.LoadSessions(*limit)
	if err != nil {
		return fail("%v", err)
	}
	requests, err := db.LoadRequests(*limit)
	if err != nil {
		return fail("%v", err)
	}

	lastStart, err := db.LastServerStart()
	if err != nil {
		cliLog.Warn("last_start_unreadable", slog.String("error", err.Error()))
	}

	if *jsonOut {
		out := map[string]any{"sessions": sessions, "requests": requests}
		if !lastStart.IsZero() {
			out["lastServerStart"] = lastStart.UTC()
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fail("%v", err)
		}
		return 0
	}
	printHistory(lastStart, sessions, requests, time.Now())
	return 0
}

func printHistory(lastStart time.Time, sessions []*statedb.SessionRow, requests []*statedb.RequestRow, now time.Time) {
	if !lastStart.IsZero() {
		fmt.Printf("Server last started %s\n\n", formatAge(now.Sub(lastStart)))
	}
	fmt.Println("Sessions:")
	if len(sessions) == 0 {
		fmt.Println("  (none)")
	}
	for _, s := range sessions {
		state := s.Status
		if !s.ExitedAt.IsZero() && s.ExitCode != nil {
			state = fmt.Sprintf("exited %d", *s.ExitCode)
		}
		label := s.TaskLabel
		if label == "" {
			label = "-"
		}
		fmt.Printf("  %-22s %-16s %-10s %s  %s\n", s.Name, state, formatAge(now.Sub(s.CreatedAt)), label, s.RepoPath)
	}

	fmt.Println()
	fmt.Println("Requests:")
	if len(requests) == 0 {
		fmt.Println("  (none)")
	}
	for _, r := range requests {
		outcome := "ok"
		if !r.OK {
			outcome = "failed: " + r.Error
		}
		fmt.Printf("  %-8s %-10s %8s  %s  %s\n", r.Provider, formatAge(now.Sub(r.StartedAt)), r.Duration.Round(time.Millisecond), r.RepoPath, outcome)
	}
}

// formatAge renders d as a short "ago" string.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
