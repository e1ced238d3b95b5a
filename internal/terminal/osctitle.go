package terminal

import (
	"strings"
	"sync"
)

const (
	oscTitleStart = "\x1b]0;"
	oscBEL        = "\x07"
	oscST         = "\x1b\\"

	// maxPartialTitle bounds the carried-over bytes of an unterminated title sequence.
	maxPartialTitle = 4096

	// IdleTitleGlyph prefixes the terminal title an assistant CLI sets once it has
	// finished a turn. Any other title means it is working.
	IdleTitleGlyph = "✳"
)

// TitleFunc receives each complete title-change sequence.
type TitleFunc func(title string, working bool)

// TitleParser extracts OSC 0 title sequences from PTY output. Sequences may be split at
// any byte across chunks; the unfinished tail is carried per session.
type TitleParser struct {
	mu      sync.Mutex
	partial map[string]string
}

// NewTitleParser creates an empty parser.
func NewTitleParser() *TitleParser {
	return &TitleParser{partial: make(map[string]string)}
}

// Parse scans chunk for title sequences and calls fn once per complete sequence, in order.
func (p *TitleParser) Parse(sessionID, chunk string, fn TitleFunc) {
	p.mu.Lock()
	data := p.partial[sessionID] + chunk
	var titles []string
	rest := ""
	for {
		start := strings.Index(data, oscTitleStart)
		if start < 0 {
			rest = markerPrefixSuffix(data)
			break
		}
		body := data[start+len(oscTitleStart):]
		end, termLen := findTitleTerminator(body)
		if end < 0 {
			rest = data[start:]
			if len(rest) > maxPartialTitle {
				rest = ""
			}
			break
		}
		titles = append(titles, body[:end])
		data = body[end+termLen:]
	}
	if rest == "" {
		delete(p.partial, sessionID)
	} else {
		p.partial[sessionID] = rest
	}
	p.mu.Unlock()

	if fn == nil {
		return
	}
	for _, title := range titles {
		fn(title, !strings.HasPrefix(title, IdleTitleGlyph))
	}
}

// Clear drops any carried-over bytes for sessionID.
func (p *TitleParser) Clear(sessionID string) {
	p.mu.Lock()
	delete(p.partial, sessionID)
	p.mu.Unlock()
}

// pending reports the carried-over bytes for sessionID.
func (p *TitleParser) pending(sessionID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.partial[sessionID]
}

// findTitleTerminator returns the index and length of whichever terminator comes first.
func findTitleTerminator(body string) (int, int) {
	bel := strings.Index(body, oscBEL)
	st := strings.Index(body, oscST)
	switch {
	case bel < 0 && st < 0:
		return -1, 0
	case st < 0 || (bel >= 0 && bel < st):
		return bel, len(oscBEL)
	default:
		return st, len(oscST)
	}
}

// markerPrefixSuffix returns the longest suffix of data that could still grow into a
// start marker once the next chunk arrives.
func markerPrefixSuffix(data string) string {
	for n := min(len(oscTitleStart)-1, len(data)); n > 0; n-- {
		if strings.HasPrefix(oscTitleStart, data[len(data)-n:]) {
			return data[len(data)-n:]
		}
	}
	return ""
}
