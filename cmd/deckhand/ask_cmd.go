package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/asheshgoplani/deckhand/internal/assistant"
	"github.com/asheshgoplani/deckhand/internal/logging"
	"github.com/asheshgoplani/deckhand/internal/stream"
)

func handleAsk(args []string) int {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	provider := fs.String("provider", "", "Assistant provider: claude or codex (default from [assistant] provider)")
	repo := fs.String("repo", "", "Repository to run in (default: current directory)")
	quiet := fs.Bool("quiet", false, "Do not print tool activity to stderr")
	fs.Usage = func() {
		fmt.Println("Usage: deckhand ask [options] <prompt>")
		fmt.Println()
		fmt.Println("Send one prompt to a headless assistant and stream the reply. Use '-' to read")
		fmt.Println("the prompt from stdin.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  deckhand ask \"why does the build fail?\"")
		fmt.Println("  git diff | deckhand ask -provider codex -")
	}
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	prompt, err := readPrompt(fs.Args(), os.Stdin)
	if err != nil {
		return fail("%v", err)
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

	printer := newReplyPrinter(os.Stdout, os.Stderr, *quiet)
	orchestrator := assistant.NewOrchestrator(env.cfg.Assistant.OrchestratorConfig(), printer.callbacks(), orchestratorOptions(db)...)

	requestID := "cli-" + uuid.NewString()
	if _, err := orchestrator.Ask(assistant.Request{
		RequestID: requestID,
		RepoPath:  dir,
		Prompt:    prompt,
		Provider:  stream.Provider(*provider),
	}); err != nil {
		return fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err = <-printer.done:
	case <-ctx.Done():
		_ = orchestrator.Cancel(requestID)
		err = <-printer.done
	}
	if err != nil {
		return fail("%v", err)
	}
	return 0
}

// readPrompt joins positional args into the prompt; a lone "-" reads it from stdin.
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		args = []string{string(data)}
	}
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return "", errors.New("a prompt is required")
	}
	return prompt, nil
}

// replyPrinter writes one request's stream to the terminal. Deltas go to out as they
// arrive; activity goes to errOut so the reply can be piped.
type replyPrinter struct {
	out    io.Writer
	errOut io.Writer
	quiet  bool
	done   chan error

	mu      sync.Mutex
	printed bool
}

func newReplyPrinter(out, errOut io.Writer, quiet bool) *replyPrinter {
	return &replyPrinter{out: out, errOut: errOut, quiet: quiet, done: make(chan error, 1)}
}

func (p *replyPrinter) callbacks() assistant.Callbacks {
	return assistant.Callbacks{
		Delta: func(_, text string) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if text != "" {
				p.printed = true
			}
			fmt.Fprint(p.out, text)
		},
		Activity: func(_ string, a assistant.Activity) {
			if p.quiet {
				return
			}
			switch a.Type {
			case assistant.ActivityToolStart:
				fmt.Fprintf(p.errOut, "[tool] %s\n", a.Tool)
			case assistant.ActivityToolEnd:
				fmt.Fprintf(p.errOut, "[tool done] %s\n", a.Tool)
			}
		},
		Done: func(_, text string, err error) {
			p.mu.Lock()
			// Providers that only report a final message never streamed a delta.
			if err == nil && !p.printed && text != "" {
				fmt.Fprint(p.out, text)
				p.printed = true
			}
			if p.printed {
				fmt.Fprintln(p.out)
			}
			p.mu.Unlock()
			p.done <- err
		},
	}
}
