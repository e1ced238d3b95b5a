package stream

import (
	"strings"

	"github.com/asheshgoplani/deckhand/internal/logging"
)

const codexReconnecting = "Reconnecting..."

// CodexParser reads `codex exec --json` output: thread/turn lifecycle lines, item.* lines
// for reasoning, agent messages and tool use, and top-level errors. Shapes outside that
// protocol fall back to scanning text-like fields.
type CodexParser struct {
	sink     Sink
	tool     string
	open     map[string]string // item id -> tool name
	snapshot snapshotTracker
}

func NewCodexParser(sink Sink) *CodexParser {
	return &CodexParser{sink: sink, open: make(map[string]string)}
}

func (p *CodexParser) ProcessLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	ev, ok := decodeLine(line)
	if !ok {
		logging.Aggregate(logging.CompStream, "codex_unparsed_line")
		return
	}
	typ := ev.str("type")

	switch {
	case strings.Contains(typ, "tool"):
		p.handleToolEvent(typ, ev)
	case typ == "error" || typ == "turn.failed":
		p.handleError(ev)
	case strings.HasPrefix(typ, "item."):
		p.handleItem(typ, ev.obj("item"))
	case strings.HasPrefix(typ, "thread.") || strings.HasPrefix(typ, "turn."):
	default:
		p.handleFallback(ev)
	}
}

func (p *CodexParser) Close() {
	if p.tool != "" {
		tool := p.tool
		p.tool = ""
		p.sink(Event{Kind: KindToolEnd, Tool: tool})
	}
	clear(p.open)
}

func (p *CodexParser) handleToolEvent(typ string, ev object) {
	name := firstString(ev, "name", "tool", "tool_name")
	if name == "" {
		name = firstString(ev.obj("item"), "name", "tool", "type")
	}
	name = NormalizeToolName(name)

	switch {
	case strings.Contains(typ, "start"):
		p.tool = name
		p.sink(Event{Kind: KindToolStart, Tool: name})
	case strings.Contains(typ, "end") || strings.Contains(typ, "stop"):
		if name == "" {
			name = p.tool
		}
		p.tool = ""
		p.sink(Event{Kind: KindToolEnd, Tool: name})
	}
}

func (p *CodexParser) handleError(ev object) {
	msg := ev.str("message")
	if msg == "" {
		msg = ev.str("error", "message")
	}
	if msg == "" || strings.Contains(msg, codexReconnecting) {
		return
	}
	p.sink(Event{Kind: KindError, Text: msg})
}

func (p *CodexParser) handleItem(typ string, item object) {
	if item == nil {
		return
	}
	text := item.str("text")

	switch item.str("type") {
	case "reasoning":
		if typ == "item.completed" && text != "" {
			p.sink(Event{Kind: KindPreviewDelta, Text: text + "\n"})
		}
	case "agent_message":
		if text == "" {
			return
		}
		if typ == "item.completed" {
			p.sink(Event{Kind: KindAgentMessage, Text: text})
		}
		if d := p.snapshot.apply(text); d != "" {
			p.sink(Event{Kind: KindSnapshot, Text: d})
		}
	case "error":
		if text != "" {
			p.sink(Event{Kind: KindError, Text: text})
		}
	default:
		p.handleGenericItem(typ, item)
	}
}

// handleGenericItem reports any other item as tool use. A completion with no matching
// start is reported as a start/end pair.
func (p *CodexParser) handleGenericItem(typ string, item object) {
	id := item.str("id")
	if id == "" {
		// Items without an id pair by type.
		id = "type:" + item.str("type")
	}
	name := NormalizeToolName(firstString(item, "tool", "type"))

	switch typ {
	case "item.started":
		p.open[id] = name
		p.tool = name
		p.sink(Event{Kind: KindToolStart, Tool: name})
	case "item.completed":
		if started, ok := p.open[id]; ok {
			delete(p.open, id)
			name = started
		} else {
			p.sink(Event{Kind: KindToolStart, Tool: name})
		}
		if p.tool == name {
			p.tool = ""
		}
		p.sink(Event{Kind: KindToolEnd, Tool: name})
	}
}

func (p *CodexParser) handleFallback(ev object) {
	for _, text := range textFields(ev) {
		if d := p.snapshot.apply(text); d != "" {
			p.sink(Event{Kind: KindSnapshot, Text: d})
		}
	}
}

// textFields collects string text/delta/message fields at the top level and one level
// into a content array.
func textFields(ev object) []string {
	var out []string
	collect := func(m map[string]any) {
		for _, key := range []string{"text", "delta", "message"} {
			if s, ok := m[key].(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	collect(ev)
	for _, raw := range ev.array("content") {
		if m, ok := raw.(map[string]any); ok {
			collect(m)
		}
	}
	return out
}

func firstString(o object, keys ...string) string {
	for _, k := range keys {
		if s := o.str(k); s != "" {
			return s
		}
	}
	return ""
}
