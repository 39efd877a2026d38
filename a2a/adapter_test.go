package a2a

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentbridge/agui"
)

func collectAdapter(t *testing.T) (*Adapter, *[]Event) {
	t.Helper()

	var events []Event
	adapter := NewAdapter("task-1", "ctx-1", func(ev Event) { events = append(events, ev) })

	return adapter, &events
}

func feed(a *Adapter, events ...agui.Event) {
	for _, ev := range events {
		a.HandleEvent(ev)
	}
}

func TestAdapterLifecycleStatusUpdates(t *testing.T) {
	adapter, events := collectAdapter(t)

	assert.Equal(t, TaskStateSubmitted, adapter.State())

	feed(adapter, agui.RunStarted{ThreadID: "s1", RunID: "r1"})
	require.Len(t, *events, 1)

	working := (*events)[0].(TaskStatusUpdateEvent)
	assert.Equal(t, TaskStateWorking, working.Status.State)
	assert.False(t, working.Final)
	assert.Equal(t, "task-1", working.TaskID)
	assert.Equal(t, "ctx-1", working.ContextID)

	feed(adapter, agui.RunFinished{ThreadID: "s1", RunID: "r1"})

	final := (*events)[len(*events)-1].(TaskStatusUpdateEvent)
	assert.Equal(t, TaskStateCompleted, final.Status.State)
	assert.True(t, final.Final)
}

func TestAdapterDeltaOnlyEmission(t *testing.T) {
	adapter, events := collectAdapter(t)

	feed(adapter,
		agui.RunStarted{},
		agui.TextMessageStart{MessageID: "m1", Role: "assistant"},
		agui.TextMessageContent{MessageID: "m1", Delta: "Hello"},
		agui.TextMessageContent{MessageID: "m1", Delta: " world"},
		agui.TextMessageEnd{MessageID: "m1"},
	)

	var streamed string
	for _, ev := range *events {
		msg, ok := ev.(Message)
		if !ok {
			continue
		}

		require.Len(t, msg.Parts, 1, "each wire message carries exactly one delta part")
		assert.Equal(t, true, msg.Parts[0].Metadata["partial"])
		streamed += msg.Parts[0].Text
	}

	// Concatenated partial parts equal the finalized history entry.
	task := adapter.CreateTask()
	require.Len(t, task.History, 1)
	assert.Equal(t, streamed, task.History[0].Text())
	assert.Equal(t, "Hello world", streamed)
}

func TestAdapterRunFinishedCarriesLastHistoryEntry(t *testing.T) {
	adapter, events := collectAdapter(t)

	feed(adapter,
		agui.RunStarted{},
		agui.TextMessageStart{MessageID: "m1"},
		agui.TextMessageContent{MessageID: "m1", Delta: "done"},
		agui.TextMessageEnd{MessageID: "m1"},
		agui.RunFinished{},
	)

	final := (*events)[len(*events)-1].(TaskStatusUpdateEvent)
	require.NotNil(t, final.Status.Message)
	assert.Equal(t, "done", final.Status.Message.Text())
}

func TestAdapterToolRoundTrip(t *testing.T) {
	adapter, events := collectAdapter(t)

	feed(adapter,
		agui.ToolCallStart{ToolCallID: "t1", ToolName: "read_file"},
		agui.ToolCallArgs{ToolCallID: "t1", Delta: `{"path":`},
		agui.ToolCallArgs{ToolCallID: "t1", Delta: `"/x"}`},
		agui.ToolCallEnd{ToolCallID: "t1"},
		agui.ToolCallResult{ToolCallID: "t1", Result: `{"content":"ok"}`, IsError: false},
	)

	var updates []TaskArtifactUpdateEvent
	for _, ev := range *events {
		if u, ok := ev.(TaskArtifactUpdateEvent); ok {
			updates = append(updates, u)
		}
	}
	require.Len(t, updates, 3)

	started := updates[0].Artifact.Parts[0].Data
	assert.Equal(t, "started", started["status"])
	assert.Equal(t, "read_file", started["toolName"])
	assert.False(t, updates[0].LastChunk)

	executing := updates[1].Artifact.Parts[0].Data
	assert.Equal(t, "executing", executing["status"])
	assert.Equal(t, map[string]any{"path": "/x"}, executing["arguments"])

	completed := updates[2].Artifact.Parts[0].Data
	assert.Equal(t, "completed", completed["status"])
	assert.True(t, updates[2].LastChunk)

	result, ok := completed["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", result["content"])
	assert.Equal(t, false, completed["isError"])
}

func TestAdapterToolArgsParseFailureFallsBackToRawString(t *testing.T) {
	adapter, events := collectAdapter(t)

	feed(adapter,
		agui.ToolCallStart{ToolCallID: "t1", ToolName: "bash"},
		agui.ToolCallArgs{ToolCallID: "t1", Delta: `{"cmd": trunca`},
		agui.ToolCallEnd{ToolCallID: "t1"},
	)

	executing := (*events)[len(*events)-1].(TaskArtifactUpdateEvent)
	assert.Equal(t, `{"cmd": trunca`, executing.Artifact.Parts[0].Data["arguments"])
}

func TestAdapterRunErrorProducesFailedStatus(t *testing.T) {
	adapter, events := collectAdapter(t)

	feed(adapter,
		agui.RunStarted{},
		agui.RunError{Message: "backend exploded", Code: "BACKEND_ERROR"},
	)

	final := (*events)[len(*events)-1].(TaskStatusUpdateEvent)
	assert.Equal(t, TaskStateFailed, final.Status.State)
	assert.True(t, final.Final)
	require.NotNil(t, final.Status.Message)
	assert.Equal(t, "Error: backend exploded", final.Status.Message.Text())
}

func TestAdapterInterruptProducesCanceledStatus(t *testing.T) {
	adapter, events := collectAdapter(t)

	feed(adapter,
		agui.RunStarted{},
		agui.RunError{Message: "turn interrupted", Code: "INTERRUPTED"},
	)

	final := (*events)[len(*events)-1].(TaskStatusUpdateEvent)
	assert.Equal(t, TaskStateCanceled, final.Status.State)
	assert.True(t, final.Final)
}

func TestAdapterStateOnlyMovesForward(t *testing.T) {
	adapter, events := collectAdapter(t)

	feed(adapter,
		agui.RunStarted{},
		agui.RunFinished{},
		// Late events after the terminal state must not transition.
		agui.RunError{Message: "too late"},
		agui.RunStarted{},
	)

	assert.Equal(t, TaskStateCompleted, adapter.State())

	var updates int
	for _, ev := range *events {
		if _, ok := ev.(TaskStatusUpdateEvent); ok {
			updates++
		}
	}
	assert.Equal(t, 2, updates)
}

func TestAdapterThinkingAndRawAreInternalArtifacts(t *testing.T) {
	adapter, events := collectAdapter(t)

	feed(adapter,
		agui.ThinkingStart{MessageID: "th1"},
		agui.ThinkingContent{MessageID: "th1", Delta: "hmm"},
		agui.ThinkingEnd{MessageID: "th1"},
		agui.Raw{Source: "cli", Event: map[string]any{"type": "mystery"}},
	)

	require.Len(t, *events, 4)
	for _, ev := range *events {
		update, ok := ev.(TaskArtifactUpdateEvent)
		require.True(t, ok)
		assert.Equal(t, true, update.Artifact.Metadata["internal"])
		assert.False(t, update.LastChunk)
	}
}

func TestAdapterCreateTaskAtAnyPoint(t *testing.T) {
	adapter, _ := collectAdapter(t)

	task := adapter.CreateTask()
	assert.Equal(t, TaskStateSubmitted, task.Status.State)
	assert.Equal(t, "task-1", task.ID)
	assert.Equal(t, "ctx-1", task.ContextID)

	feed(adapter, agui.RunStarted{})
	assert.Equal(t, TaskStateWorking, adapter.CreateTask().Status.State)

	feed(adapter,
		agui.TextMessageStart{MessageID: "m1"},
		agui.TextMessageContent{MessageID: "m1", Delta: "hi"},
		agui.TextMessageEnd{MessageID: "m1"},
		agui.ToolCallStart{ToolCallID: "t1", ToolName: "bash"},
		agui.ToolCallEnd{ToolCallID: "t1"},
		agui.ToolCallResult{ToolCallID: "t1", Result: "ok"},
		agui.RunFinished{},
	)

	task = adapter.CreateTask()
	assert.Equal(t, TaskStateCompleted, task.Status.State)
	assert.Len(t, task.History, 1)
	assert.NotEmpty(t, task.Artifacts)
	require.NotNil(t, task.Status.Message)
	assert.Equal(t, "hi", task.Status.Message.Text())
}

func TestAdapterResponseText(t *testing.T) {
	adapter, _ := collectAdapter(t)

	feed(adapter,
		agui.TextMessageStart{MessageID: "m1"},
		agui.TextMessageContent{MessageID: "m1", Delta: "first"},
		agui.TextMessageEnd{MessageID: "m1"},
		agui.TextMessageStart{MessageID: "m2"},
		agui.TextMessageContent{MessageID: "m2", Delta: "second"},
		agui.TextMessageEnd{MessageID: "m2"},
	)

	assert.Equal(t, "first\nsecond", adapter.ResponseText())
}
