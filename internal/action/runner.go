package action

import (
	"context"
	"sync"
)

// Loader returns the current action list. It is called on every Run so edits to the
// actions file apply without a restart.
type Loader func() (*File, error)

// Runner looks actions up by name and executes them with a CommandBuilder applied.
type Runner struct {
	engine *Engine
	load   Loader

	mu    sync.RWMutex
	build CommandBuilder
}

// NewRunner returns a Runner that loads actions with load and expands commands with build.
func NewRunner(engine *Engine, load Loader, build CommandBuilder) *Runner {
	return &Runner{engine: engine, load: load, build: build}
}

// SetCommandBuilder swaps the builder, e.g. after the provider config changed.
func (r *Runner) SetCommandBuilder(build CommandBuilder) {
	r.mu.Lock()
	r.build = build
	r.mu.Unlock()
}

// Run executes the action called name in a new session in repoPath.
func (r *Runner) Run(ctx context.Context, name, repoPath string) (*Result, error) {
	f, err := r.load()
	if err != nil {
		return nil, err
	}
	a, err := f.Find(name)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	build := r.build
	r.mu.RUnlock()
	return r.engine.Execute(ctx, a.WithCommandBuilder(build), repoPath)
}
