package terminal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type titleCall struct {
	title   string
	working bool
}

func collect(p *TitleParser, session string, chunks ...string) []titleCall {
	var calls []titleCall
	for _, c := range chunks {
		p.Parse(session, c, func(title string, working bool) {
			calls = append(calls, titleCall{title, working})
		})
	}
	return calls
}

func TestTitleParserSplitStartMarker(t *testing.T) {
	p := NewTitleParser()
	calls := collect(p, "s1", "\x1b]0;", "✳title\x07")
	assert.Equal(t, []titleCall{{"✳title", false}}, calls)
	assert.Empty(t, p.pending("s1"))
}

func TestTitleParserWorkingAndIdle(t *testing.T) {
	p := NewTitleParser()
	calls := collect(p, "s1", "out\x1b]0;⠋ Thinking\x07more\x1b]0;✳ Done\x1b\\tail")
	assert.Equal(t, []titleCall{{"⠋ Thinking", true}, {"✳ Done", false}}, calls)
}

func TestTitleParserPrefersEarliestTerminator(t *testing.T) {
	p := NewTitleParser()
	calls := collect(p, "s1", "\x1b]0;a\x1b\\b\x07")
	assert.Equal(t, []titleCall{{"a", true}}, calls)
}

func TestTitleParserChunkSplitInvariance(t *testing.T) {
	stream := "pre\x1b]0;⠙ Working\x07mid\x1b]0;✳ Idle\x1b\\post\x1b]0;x\x07"
	want := collect(NewTitleParser(), "whole", stream)
	assert.Len(t, want, 3)

	for i := 0; i <= len(stream); i++ {
		for j := i; j <= len(stream); j++ {
			p := NewTitleParser()
			got := collect(p, "split", stream[:i], stream[i:j], stream[j:])
			assert.Equal(t, want, got, "split at %d,%d", i, j)
		}
	}
}

func TestTitleParserDropsOversizedPartial(t *testing.T) {
	p := NewTitleParser()
	collect(p, "s1", "\x1b]0;"+strings.Repeat("x", maxPartialTitle+1))
	assert.Empty(t, p.pending("s1"))

	collect(p, "s1", "\x1b]0;short")
	assert.Equal(t, "\x1b]0;short", p.pending("s1"))
}

func TestTitleParserSessionsAreIndependent(t *testing.T) {
	p := NewTitleParser()
	var a, b []titleCall
	p.Parse("a", "\x1b]0;✳ one", func(title string, w bool) { a = append(a, titleCall{title, w}) })
	p.Parse("b", "\x07", func(title string, w bool) { b = append(b, titleCall{title, w}) })
	assert.Empty(t, a)
	assert.Empty(t, b)

	p.Clear("a")
	p.Parse("a", "\x07", func(title string, w bool) { a = append(a, titleCall{title, w}) })
	assert.Empty(t, a)
}

func TestTitleParserIgnoresPlainOutput(t *testing.T) {
	p := NewTitleParser()
	assert.Empty(t, collect(p, "s1", "just text\r\n", "\x1b[1mbold\x1b[0m"))
	assert.Empty(t, p.pending("s1"))
}
