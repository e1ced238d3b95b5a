// Package action runs scripted keystroke sequences against a fresh terminal session.
package action

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// StepType tags an ActionStep.
type StepType string

const (
	StepWrite   StepType = "write"
	StepWaitFor StepType = "wait_for"
	StepDelay   StepType = "delay"
)

// Step is one scripted step. Only the fields for its Type are used.
type Step struct {
	Type StepType `toml:"type" json:"type"`
	// Content is written verbatim for StepWrite.
	Content string `toml:"content,omitempty" json:"content,omitempty"`
	// Pattern is a regular expression for StepWaitFor.
	Pattern string `toml:"pattern,omitempty" json:"pattern,omitempty"`
	// TimeoutMs bounds StepWaitFor; zero means the engine default.
	TimeoutMs int `toml:"timeout_ms,omitempty" json:"timeoutMs,omitempty"`
	// Ms is the StepDelay duration.
	Ms int `toml:"ms,omitempty" json:"ms,omitempty"`
}

// Action is an ordered script plus the provider it was written for.
type Action struct {
	Name        string `toml:"name" json:"name"`
	Description string `toml:"description,omitempty" json:"description,omitempty"`
	Provider    string `toml:"provider,omitempty" json:"provider,omitempty"`
	Steps       []Step `toml:"steps" json:"steps"`
}

// CommandBuilder rewrites a write step's content for a provider.
type CommandBuilder func(provider, content string) string

// WithCommandBuilder returns a copy of a whose write steps have been passed through build.
func (a Action) WithCommandBuilder(build CommandBuilder) Action {
	out := a
	out.Steps = make([]Step, len(a.Steps))
	copy(out.Steps, a.Steps)
	if build == nil {
		return out
	}
	for i, s := range out.Steps {
		if s.Type == StepWrite {
			out.Steps[i].Content = build(a.Provider, s.Content)
		}
	}
	return out
}

// ProviderPlaceholder in write content is replaced by ExpandProvider.
const ProviderPlaceholder = "{{provider}}"

// ExpandProvider returns a CommandBuilder that substitutes ProviderPlaceholder with the
// binary configured for the action's provider. Actions without a provider use fallback.
func ExpandProvider(binaries map[string]string, fallback string) CommandBuilder {
	return func(provider, content string) string {
		if provider == "" {
			provider = fallback
		}
		bin, ok := binaries[provider]
		if !ok {
			bin = provider
		}
		return strings.ReplaceAll(content, ProviderPlaceholder, bin)
	}
}

// Validate checks step types, delays and patterns.
func (a Action) Validate() error {
	if len(a.Steps) == 0 {
		return fmt.Errorf("action %q has no steps", a.Name)
	}
	for i, s := range a.Steps {
		switch s.Type {
		case StepWrite:
		case StepWaitFor:
			if s.Pattern == "" {
				return fmt.Errorf("action %q step %d: wait_for needs a pattern", a.Name, i+1)
			}
			if _, err := regexp.Compile(s.Pattern); err != nil {
				return fmt.Errorf("action %q step %d: %w", a.Name, i+1, err)
			}
			if s.TimeoutMs < 0 {
				return fmt.Errorf("action %q step %d: negative timeout", a.Name, i+1)
			}
		case StepDelay:
			if s.Ms < 0 {
				return fmt.Errorf("action %q step %d: negative delay", a.Name, i+1)
			}
		default:
			return fmt.Errorf("action %q step %d: unknown step type %q", a.Name, i+1, s.Type)
		}
	}
	return nil
}

// File is the on-disk action list.
type File struct {
	Actions []Action `toml:"actions"`
}

// ErrActionNotFound is returned by Find.
var ErrActionNotFound = errors.New("action not found")

// LoadFile decodes and validates an actions file. A missing file yields no actions.
func LoadFile(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("parse actions file %s: %w", path, err)
	}
	for _, a := range f.Actions {
		if err := a.Validate(); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// Find returns the action called name.
func (f *File) Find(name string) (Action, error) {
	for _, a := range f.Actions {
		if a.Name == name {
			return a, nil
		}
	}
	return Action{}, fmt.Errorf("%w: %s", ErrActionNotFound, name)
}
