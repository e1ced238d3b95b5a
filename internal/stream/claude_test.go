package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func record(events *[]Event) Sink {
	return func(ev Event) { *events = append(*events, ev) }
}

func TestClaudeAssistantSnapshot(t *testing.T) {
	var got []Event
	p := NewClaudeParser(record(&got))
	p.ProcessLine(`{"type":"assistant","message":{"content":[{"type":"text","text":"Hello"}]}}`)
	p.Close()
	assert.Equal(t, []Event{{Kind: KindSnapshot, Text: "Hello"}}, got)
}

func TestClaudeStreamDeltasThenSnapshot(t *testing.T) {
	var got []Event
	p := NewClaudeParser(record(&got))
	lines := []string{
		`{"type":"system","subtype":"init"}`,
		`{"type":"stream_event","event":{"type":"message_start","message":{}}}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Hello"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Hello there"}]}}`,
	}
	for _, l := range lines {
		p.ProcessLine(l)
	}
	assert.Equal(t, []Event{
		{Kind: KindDelta, Text: "Hel"},
		{Kind: KindDelta, Text: "lo"},
		{Kind: KindSnapshot, Text: " there"},
	}, got)
}

func TestClaudeMessageStartResetsBaseline(t *testing.T) {
	var got []Event
	p := NewClaudeParser(record(&got))
	p.ProcessLine(`{"type":"stream_event","event":{"type":"message_start"}}`)
	p.ProcessLine(`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"Checking."}}}`)
	p.ProcessLine(`{"type":"assistant","message":{"content":[{"type":"text","text":"Checking."}]}}`)
	p.ProcessLine(`{"type":"stream_event","event":{"type":"message_start"}}`)
	p.ProcessLine(`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"Done."}}}`)
	p.ProcessLine(`{"type":"assistant","message":{"content":[{"type":"text","text":"Done."}]}}`)

	assert.Equal(t, []Event{
		{Kind: KindDelta, Text: "Checking."},
		{Kind: KindDelta, Text: "Done."},
	}, got)
}

func TestClaudeToolBlocks(t *testing.T) {
	var got []Event
	p := NewClaudeParser(record(&got))
	p.ProcessLine(`{"type":"stream_event","event":{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"t1","name":"Read","input":{}}}}`)
	p.ProcessLine(`{"type":"stream_event","event":{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"path\""}}}`)
	p.ProcessLine(`{"type":"stream_event","event":{"type":"content_block_stop","index":1}}`)
	p.ProcessLine(`{"type":"stream_event","event":{"type":"content_block_stop","index":2}}`)
	p.ProcessLine(`{"type":"stream_event","event":{"type":"content_block_start","index":3,"content_block":{"type":"tool_use","name":"Bash"}}}`)
	p.Close()
	p.Close()

	assert.Equal(t, []Event{
		{Kind: KindToolStart, Tool: "Read"},
		{Kind: KindToolEnd, Tool: "Read"},
		{Kind: KindToolStart, Tool: "Bash"},
		{Kind: KindToolEnd, Tool: "Bash"},
	}, got)
}

func TestClaudeThinkingIsPreview(t *testing.T) {
	var got []Event
	p := NewClaudeParser(record(&got))
	p.ProcessLine(`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"thinking_delta","thinking":"hmm"}}}`)
	assert.Equal(t, []Event{{Kind: KindPreviewDelta, Text: "hmm"}}, got)
}

func TestClaudeResult(t *testing.T) {
	var got []Event
	p := NewClaudeParser(record(&got))
	p.ProcessLine(`{"type":"result","subtype":"success","is_error":false,"result":"All done"}`)
	p.ProcessLine(`{"type":"result","subtype":"error_max_turns","is_error":true}`)
	p.ProcessLine(`{"type":"stream_event","event":{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}}`)

	assert.Equal(t, []Event{
		{Kind: KindAgentMessage, Text: "All done"},
		{Kind: KindError, Text: "claude reported an error: error_max_turns"},
		{Kind: KindError, Text: "Overloaded"},
	}, got)
}

func TestClaudeIgnoresNoise(t *testing.T) {
	var got []Event
	p := NewClaudeParser(record(&got))
	for _, l := range []string{
		"",
		"   ",
		"not json",
		`[1,2,3]`,
		`{"type":"user","message":{"content":[{"type":"tool_result"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read"}]}}`,
		`{"type":"stream_event"}`,
		`{"type":"stream_event","event":{"type":"ping"}}`,
	} {
		p.ProcessLine(l)
	}
	assert.Empty(t, got)
}
