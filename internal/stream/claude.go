package stream

import (
	"log/slog"
	"strings"

	"github.com/asheshgoplani/deckhand/internal/logging"
)

// ClaudeParser reads `claude -p --output-format stream-json` output. Partial-message
// stream events carry text deltas and tool blocks; "assistant" lines are full-message
// snapshots; the "result" line carries the final answer.
type ClaudeParser struct {
	sink     Sink
	tool     string
	snapshot snapshotTracker
}

func NewClaudeParser(sink Sink) *ClaudeParser {
	return &ClaudeParser{sink: sink}
}

func (p *ClaudeParser) ProcessLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	msg, ok := decodeLine(line)
	if !ok {
		logging.Aggregate(logging.CompStream, "claude_unparsed_line")
		return
	}

	kind := msg.str("type")
	if kind == "stream_event" {
		if inner := msg.obj("event"); inner != nil {
			p.handleStreamEvent(inner)
		}
		return
	}

	switch kind {
	case "assistant":
		p.handleAssistant(msg)
	case "result":
		p.handleResult(msg)
	case "message_start", "content_block_start", "content_block_delta", "content_block_stop", "error":
		p.handleStreamEvent(msg)
	}
}

func (p *ClaudeParser) Close() {
	p.closeTool()
}

func (p *ClaudeParser) handleStreamEvent(ev object) {
	switch ev.str("type") {
	case "message_start":
		p.snapshot.reset()
	case "content_block_start":
		block := ev.obj("content_block")
		if block.str("type") == "tool_use" {
			p.closeTool()
			p.tool = block.str("name")
			p.sink(Event{Kind: KindToolStart, Tool: p.tool})
		}
	case "content_block_delta":
		delta := ev.obj("delta")
		switch delta.str("type") {
		case "text_delta":
			if text := delta.str("text"); text != "" {
				p.snapshot.append(text)
				p.sink(Event{Kind: KindDelta, Text: text})
			}
		case "thinking_delta":
			if text := delta.str("thinking"); text != "" {
				p.sink(Event{Kind: KindPreviewDelta, Text: text})
			}
		}
	case "content_block_stop":
		p.closeTool()
	case "error":
		if msg := ev.str("error", "message"); msg != "" {
			p.sink(Event{Kind: KindError, Text: msg})
		}
	}
}

func (p *ClaudeParser) handleAssistant(msg object) {
	var b strings.Builder
	found := false
	for _, raw := range msg.array("message", "content") {
		block, ok := raw.(map[string]any)
		if !ok || block["type"] != "text" {
			continue
		}
		if text, ok := block["text"].(string); ok {
			b.WriteString(text)
			found = true
		}
	}
	if !found {
		return
	}
	if d := p.snapshot.apply(b.String()); d != "" {
		p.sink(Event{Kind: KindSnapshot, Text: d})
	}
}

func (p *ClaudeParser) handleResult(msg object) {
	result := msg.str("result")
	if msg.boolean("is_error") {
		if result == "" {
			result = "claude reported an error"
			if sub := msg.str("subtype"); sub != "" {
				result += ": " + sub
			}
		}
		streamLog.Debug("claude_result_error", slog.String("message", result))
		p.sink(Event{Kind: KindError, Text: result})
		return
	}
	if result != "" {
		p.sink(Event{Kind: KindAgentMessage, Text: result})
	}
}

func (p *ClaudeParser) closeTool() {
	if p.tool == "" {
		return
	}
	tool := p.tool
	p.tool = ""
	p.sink(Event{Kind: KindToolEnd, Tool: tool})
}
