// Package stream turns the line-delimited JSON output of headless assistant CLIs into a
// small provider-neutral event set.
package stream

import (
	"fmt"

	"github.com/asheshgoplani/deckhand/internal/logging"
)

var streamLog = logging.ForComponent(logging.CompStream)

// Provider names a supported assistant CLI.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCodex  Provider = "codex"
)

// Kind identifies a canonical stream event.
type Kind int

const (
	// KindDelta is incremental answer text emitted directly by the provider.
	KindDelta Kind = iota
	// KindPreviewDelta is progress text (reasoning) that is not part of the answer.
	KindPreviewDelta
	// KindSnapshot carries the unseen suffix of a complete-so-far answer snapshot.
	KindSnapshot
	// KindAgentMessage is the provider's final message for the turn.
	KindAgentMessage
	KindToolStart
	KindToolEnd
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindPreviewDelta:
		return "preview_delta"
	case KindSnapshot:
		return "snapshot"
	case KindAgentMessage:
		return "agent_message"
	case KindToolStart:
		return "tool_start"
	case KindToolEnd:
		return "tool_end"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one canonical stream event. Text is always additive for KindDelta,
// KindPreviewDelta and KindSnapshot.
type Event struct {
	Kind Kind
	Text string
	Tool string
}

// Sink receives events in line order.
type Sink func(Event)

// Parser consumes one request's stdout, one line at a time. Unparseable or unknown lines
// are ignored. A Parser is not safe for concurrent use.
type Parser interface {
	ProcessLine(line string)
	// Close force-closes any open tool.
	Close()
}

// New returns the parser for provider.
func New(provider Provider, sink Sink) (Parser, error) {
	if sink == nil {
		sink = func(Event) {}
	}
	switch provider {
	case ProviderClaude:
		return NewClaudeParser(sink), nil
	case ProviderCodex:
		return NewCodexParser(sink), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
