package main

import (
	"fmt"
	"os"

	"github.com/asheshgoplani/deckhand/internal/config"
	"github.com/asheshgoplani/deckhand/internal/logging"
)

const Version = "0.3.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		os.Exit(2)
	}

	var code int
	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("deckhand v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "serve":
		code = handleServe(args[1:])
	case "ask":
		code = handleAsk(args[1:])
	case "shell":
		code = handleShell(args[1:])
	case "action":
		code = handleAction(args[1:])
	case "history":
		code = handleHistory(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		printHelp()
		code = 2
	}
	os.Exit(code)
}

func printHelp() {
	fmt.Println("deckhand - terminal sessions and headless assistants for your repos")
	fmt.Println()
	fmt.Println("Usage: deckhand <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve      Run the web server with session, assistant and action backends")
	fmt.Println("  ask        Send one prompt to a headless assistant and print the reply")
	fmt.Println("  shell      Open a session in a repo and attach this terminal (Ctrl+Q detaches)")
	fmt.Println("  action     Run a named action from the actions file")
	fmt.Println("  history    Show recent sessions and assistant requests")
	fmt.Println("  version    Show version")
	fmt.Println()
	fmt.Printf("Config: $%s/%s (default ~/.deckhand/%s)\n", config.HomeEnv, config.FileName, config.FileName)
	fmt.Println("Run 'deckhand <command> -h' for command options.")
}

// environment is the loaded config plus where it came from.
type environment struct {
	cfg  *config.Config
	dir  string
	path string
}

// loadEnvironment reads the config file and starts logging. A broken config is
// reported and replaced by defaults rather than aborting.
func loadEnvironment() (*environment, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	path, err := config.Path()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}

	logging.Init(cfg.Logs.LoggingConfig(dir))
	return &environment{cfg: cfg, dir: dir, path: path}, nil
}

func repoOrCwd(repo string) (string, error) {
	if repo != "" {
		return repo, nil
	}
	return os.Getwd()
}
