package assistant

import (
	"strings"

	"github.com/asheshgoplani/deckhand/internal/stream"
)

// ProviderConfig is how to invoke one provider CLI headlessly. The prompt is written to
// stdin.
type ProviderConfig struct {
	Binary string
	Args   []string
	Env    []string
}

// DefaultProviders returns the built-in invocations.
func DefaultProviders() map[stream.Provider]ProviderConfig {
	return map[stream.Provider]ProviderConfig{
		stream.ProviderClaude: {
			Binary: "claude",
			Args:   []string{"-p", "--output-format", "stream-json", "--verbose", "--include-partial-messages"},
		},
		stream.ProviderCodex: {
			Binary: "codex",
			Args:   []string{"exec", "--json", "-"},
		},
	}
}

// DefaultBenignStderr lists stderr substrings providers print during normal runs.
var DefaultBenignStderr = []string{
	"Reconnecting...",
	"ExperimentalWarning",
	"DeprecationWarning",
	"(Use `node --trace-warnings",
	"Loaded cached credentials",
}

// isBenign reports whether a stderr line matches a known-harmless warning.
func isBenign(line string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(line, p) {
			return true
		}
	}
	return false
}

func truncateForLog(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
