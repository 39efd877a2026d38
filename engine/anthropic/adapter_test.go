package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentbridge/agui"
)

// streamEvent builds a MessageStreamEventUnion from raw JSON, the same way
// the SDK decodes live stream frames.
func streamEvent(t *testing.T, raw string) anthropic.MessageStreamEventUnion {
	t.Helper()

	var u anthropic.MessageStreamEventUnion
	require.NoError(t, json.Unmarshal([]byte(raw), &u))

	return u
}

func collectAdapter(t *testing.T) (*Adapter, *[]agui.Event) {
	t.Helper()

	var events []agui.Event
	adapter := NewAdapter("thread-1", "run-1", func(ev agui.Event) { events = append(events, ev) })

	return adapter, &events
}

func types(events []agui.Event) []agui.EventType {
	out := make([]agui.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type()
	}

	return out
}

func TestAdapterHappyPathTextStream(t *testing.T) {
	adapter, events := collectAdapter(t)

	adapter.Start("hello")
	adapter.HandleEvent(streamEvent(t, `{"type":"message_start","message":{"id":"msg_1","role":"assistant"}}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_stop","index":0}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"message_stop"}`))

	assert.Equal(t, []agui.EventType{
		agui.EventTypeRunStarted,
		agui.EventTypeTextMessageStart,
		agui.EventTypeTextMessageContent,
		agui.EventTypeTextMessageContent,
		agui.EventTypeTextMessageEnd,
		agui.EventTypeRunFinished,
	}, types(*events))

	assert.NoError(t, agui.ValidateSequence((*events)[1:]))

	// Deltas concatenate to the final text, nothing is re-sent.
	var text string
	for _, e := range *events {
		if c, ok := e.(agui.TextMessageContent); ok {
			text += c.Delta
		}
	}
	assert.Equal(t, "Hi there", text)
	assert.Equal(t, "Hi there", adapter.Text())

	finished := (*events)[len(*events)-1].(agui.RunFinished)
	assert.Equal(t, "thread-1", finished.ThreadID)
	assert.Equal(t, "Hi there", finished.Result)
}

func TestAdapterToolCallLifecycle(t *testing.T) {
	adapter, events := collectAdapter(t)

	adapter.Start("read a file")
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t1","name":"read_file"}}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"/x\"}"}}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_stop","index":0}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"message_stop"}`))

	assert.Equal(t, []agui.EventType{
		agui.EventTypeRunStarted,
		agui.EventTypeToolCallStart,
		agui.EventTypeToolCallArgs,
		agui.EventTypeToolCallArgs,
		agui.EventTypeToolCallEnd,
		agui.EventTypeRunFinished,
	}, types(*events))

	start := (*events)[1].(agui.ToolCallStart)
	assert.Equal(t, "t1", start.ToolCallID)
	assert.Equal(t, "read_file", start.ToolName)

	var args string
	for _, e := range *events {
		if a, ok := e.(agui.ToolCallArgs); ok {
			args += a.Delta
		}
	}
	assert.JSONEq(t, `{"path":"/x"}`, args)
}

func TestAdapterThinkingStream(t *testing.T) {
	adapter, events := collectAdapter(t)

	adapter.Start("think")
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"hmm"}}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_stop","index":0}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"message_stop"}`))

	assert.Equal(t, []agui.EventType{
		agui.EventTypeRunStarted,
		agui.EventTypeThinkingStart,
		agui.EventTypeThinkingContent,
		agui.EventTypeThinkingEnd,
		agui.EventTypeRunFinished,
	}, types(*events))
}

func TestAdapterFinalizeClosesOpenBlocks(t *testing.T) {
	adapter, events := collectAdapter(t)

	adapter.Start("hi")
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`))

	// Stream ends abruptly, no content_block_stop, no message_stop.
	adapter.Finalize()
	adapter.Finalize() // idempotent

	assert.Equal(t, []agui.EventType{
		agui.EventTypeRunStarted,
		agui.EventTypeTextMessageStart,
		agui.EventTypeTextMessageContent,
		agui.EventTypeTextMessageEnd,
		agui.EventTypeRunFinished,
	}, types(*events))
}

func TestAdapterAbortClosesBlocksAndEmitsSingleError(t *testing.T) {
	adapter, events := collectAdapter(t)

	adapter.Start("hi")
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`))

	adapter.Abort("TIMEOUT", "no terminal message")
	adapter.Finalize() // must not add a second terminal

	got := types(*events)
	assert.Equal(t, agui.EventTypeTextMessageEnd, got[len(got)-2], "open block closed before the terminal error")
	assert.Equal(t, agui.EventTypeRunError, got[len(got)-1])

	errEv := (*events)[len(*events)-1].(agui.RunError)
	assert.Equal(t, "TIMEOUT", errEv.Code)
}

func TestAdapterEmptyDeltasProduceNoEvents(t *testing.T) {
	adapter, events := collectAdapter(t)

	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":""}}`))
	adapter.HandleEvent(streamEvent(t, `{"type":"content_block_stop","index":0}`))

	assert.Empty(t, *events, "empty text block must not emit start/end")
}
