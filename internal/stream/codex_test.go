package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodexTurn(t *testing.T) {
	var got []Event
	p := NewCodexParser(record(&got))
	lines := []string{
		`{"type":"thread.started","thread_id":"th_1"}`,
		`{"type":"turn.started"}`,
		`{"type":"item.completed","item":{"id":"item_0","type":"reasoning","text":"Looking at files"}}`,
		`{"type":"item.started","item":{"id":"item_1","type":"command_execution","command":"ls","status":"in_progress"}}`,
		`{"type":"item.completed","item":{"id":"item_1","type":"command_execution","command":"ls","exit_code":0}}`,
		`{"type":"item.completed","item":{"id":"item_2","type":"agent_message","text":"There are 3 files."}}`,
		`{"type":"turn.completed","usage":{"input_tokens":10,"output_tokens":5}}`,
	}
	for _, l := range lines {
		p.ProcessLine(l)
	}
	p.Close()

	assert.Equal(t, []Event{
		{Kind: KindPreviewDelta, Text: "Looking at files\n"},
		{Kind: KindToolStart, Tool: "Bash"},
		{Kind: KindToolEnd, Tool: "Bash"},
		{Kind: KindAgentMessage, Text: "There are 3 files."},
		{Kind: KindSnapshot, Text: "There are 3 files."},
	}, got)
}

func TestCodexCompletedWithoutStart(t *testing.T) {
	var got []Event
	p := NewCodexParser(record(&got))
	p.ProcessLine(`{"type":"item.completed","item":{"id":"item_5","type":"file_change","changes":[{"path":"a.go","kind":"update"}]}}`)
	p.ProcessLine(`{"type":"item.completed","item":{"id":"item_6","type":"mcp_tool_call","tool":"read_resource"}}`)
	assert.Equal(t, []Event{
		{Kind: KindToolStart, Tool: "file_change"},
		{Kind: KindToolEnd, Tool: "file_change"},
		{Kind: KindToolStart, Tool: "Read"},
		{Kind: KindToolEnd, Tool: "Read"},
	}, got)
}

func TestCodexInterleavedItemsWithoutIDs(t *testing.T) {
	var got []Event
	p := NewCodexParser(record(&got))
	p.ProcessLine(`{"type":"item.started","item":{"type":"command_execution","command":"ls"}}`)
	p.ProcessLine(`{"type":"item.started","item":{"type":"mcp_tool_call","tool":"read_resource"}}`)
	p.ProcessLine(`{"type":"item.completed","item":{"type":"command_execution","command":"ls"}}`)
	p.ProcessLine(`{"type":"item.completed","item":{"type":"mcp_tool_call","tool":"read_resource"}}`)
	assert.Equal(t, []Event{
		{Kind: KindToolStart, Tool: "Bash"},
		{Kind: KindToolStart, Tool: "Read"},
		{Kind: KindToolEnd, Tool: "Bash"},
		{Kind: KindToolEnd, Tool: "Read"},
	}, got)
}

func TestCodexToolTypedEvents(t *testing.T) {
	var got []Event
	p := NewCodexParser(record(&got))
	p.ProcessLine(`{"type":"tool_call_start","name":"apply_patch"}`)
	p.ProcessLine(`{"type":"tool_call_end"}`)
	p.ProcessLine(`{"type":"exec_tool.started","tool":"shell"}`)
	p.Close()

	assert.Equal(t, []Event{
		{Kind: KindToolStart, Tool: "Edit"},
		{Kind: KindToolEnd, Tool: "Edit"},
		{Kind: KindToolStart, Tool: "Bash"},
		{Kind: KindToolEnd, Tool: "Bash"},
	}, got)
}

func TestCodexErrors(t *testing.T) {
	var got []Event
	p := NewCodexParser(record(&got))
	p.ProcessLine(`{"type":"error","message":"Reconnecting... 1/5"}`)
	p.ProcessLine(`{"type":"error","message":"stream disconnected"}`)
	p.ProcessLine(`{"type":"turn.failed","error":{"message":"usage limit reached"}}`)
	p.ProcessLine(`{"type":"item.completed","item":{"type":"error","text":"command timed out"}}`)

	assert.Equal(t, []Event{
		{Kind: KindError, Text: "stream disconnected"},
		{Kind: KindError, Text: "usage limit reached"},
		{Kind: KindError, Text: "command timed out"},
	}, got)
}

func TestCodexAgentMessageUpdates(t *testing.T) {
	var got []Event
	p := NewCodexParser(record(&got))
	p.ProcessLine(`{"type":"item.updated","item":{"id":"m","type":"agent_message","text":"Par"}}`)
	p.ProcessLine(`{"type":"item.updated","item":{"id":"m","type":"agent_message","text":"Partial"}}`)
	p.ProcessLine(`{"type":"item.completed","item":{"id":"m","type":"agent_message","text":"Partial answer"}}`)

	assert.Equal(t, []Event{
		{Kind: KindSnapshot, Text: "Par"},
		{Kind: KindSnapshot, Text: "tial"},
		{Kind: KindAgentMessage, Text: "Partial answer"},
		{Kind: KindSnapshot, Text: " answer"},
	}, got)
}

func TestCodexFallbackFields(t *testing.T) {
	var got []Event
	p := NewCodexParser(record(&got))
	p.ProcessLine(`{"type":"response","text":"Hi"}`)
	p.ProcessLine(`{"type":"response","content":[{"type":"output_text","text":"Hi there"},{"count":2}]}`)
	p.ProcessLine(`{"msg":"no known fields"}`)

	assert.Equal(t, []Event{
		{Kind: KindSnapshot, Text: "Hi"},
		{Kind: KindSnapshot, Text: " there"},
	}, got)
}

func TestCodexIgnoresNoise(t *testing.T) {
	var got []Event
	p := NewCodexParser(record(&got))
	p.ProcessLine("garbage {")
	p.ProcessLine(`{"type":"turn.started"}`)
	p.ProcessLine(`{"type":"item.started","item":{"id":"r","type":"reasoning","text":""}}`)
	p.ProcessLine(`{"type":"item.completed"}`)
	assert.Empty(t, got)
}
