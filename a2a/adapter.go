package a2a

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentbridge/agui"
)

type toolCall struct {
	id   string
	name string
	args strings.Builder
}

// Adapter re-frames one agui event sequence as A2A task semantics: status
// updates, incremental message deltas and artifact updates. One adapter
// serves exactly one task. Methods are safe for concurrent use so task
// snapshots can be taken while the turn is still streaming.
type Adapter struct {
	mu sync.Mutex

	taskID    string
	contextID string
	emit      func(Event)

	currentMessageID string
	accumulated      strings.Builder
	currentTool      *toolCall
	toolResults      map[string]string
	artifacts        []Artifact
	history          []Message
	lastState        TaskState
	terminalAt       time.Time
}

// NewAdapter creates an adapter for one task. emit receives the wire events;
// nil disables streaming (snapshot-only use).
func NewAdapter(taskID, contextID string, emit func(Event)) *Adapter {
	if emit == nil {
		emit = func(Event) {}
	}

	return &Adapter{
		taskID:      taskID,
		contextID:   contextID,
		emit:        emit,
		toolResults: make(map[string]string),
		lastState:   TaskStateSubmitted,
	}
}

// TaskID returns the task id.
func (a *Adapter) TaskID() string { return a.taskID }

// ContextID returns the context id.
func (a *Adapter) ContextID() string { return a.contextID }

// State returns the last task state.
func (a *Adapter) State() TaskState {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.lastState
}

// TerminalSince reports whether the task reached a terminal state and when.
func (a *Adapter) TerminalSince() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.terminalAt, !a.terminalAt.IsZero()
}

// HandleEvent consumes one agui event and emits zero or more A2A events.
func (a *Adapter) HandleEvent(ev agui.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e := ev.(type) {
	case agui.RunStarted:
		a.transition(TaskStateWorking, nil, false)
	case agui.TextMessageStart:
		a.currentMessageID = e.MessageID
		a.accumulated.Reset()
	case agui.TextMessageContent:
		a.handleTextDelta(e)
	case agui.TextMessageEnd:
		a.finalizeMessage()
	case agui.ToolCallStart:
		a.handleToolStart(e)
	case agui.ToolCallArgs:
		if a.currentTool != nil && a.currentTool.id == e.ToolCallID {
			a.currentTool.args.WriteString(e.Delta)
		}
	case agui.ToolCallEnd:
		a.handleToolEnd(e)
	case agui.ToolCallResult:
		a.handleToolResult(e)
	case agui.RunFinished:
		a.transition(TaskStateCompleted, a.lastHistoryMessage(), true)
	case agui.RunError:
		state := TaskStateFailed
		if e.Code == "INTERRUPTED" {
			state = TaskStateCanceled
		}
		a.transition(state, a.errorMessage(e), true)
	case agui.ThinkingStart, agui.ThinkingContent, agui.ThinkingEnd, agui.Raw, agui.Custom:
		a.handleInternal(ev)
	}
}

// handleTextDelta forwards exactly the new delta as a partial message part.
// Previously sent text is never re-sent; resending the accumulated string
// would turn an O(n) stream into O(n^2) bytes.
func (a *Adapter) handleTextDelta(e agui.TextMessageContent) {
	if e.Delta == "" {
		return
	}

	if a.currentMessageID == "" {
		a.currentMessageID = e.MessageID
	}
	a.accumulated.WriteString(e.Delta)

	part := NewTextPart(e.Delta)
	part.Metadata = map[string]any{"partial": true}

	a.emit(Message{
		Kind:      "message",
		Role:      "agent",
		Parts:     []Part{part},
		MessageID: a.currentMessageID,
		TaskID:    a.taskID,
		ContextID: a.contextID,
	})
}

// finalizeMessage moves the accumulated text into history. The text already
// reached the client as deltas, so nothing is emitted here.
func (a *Adapter) finalizeMessage() {
	if a.currentMessageID == "" {
		return
	}

	a.history = append(a.history, Message{
		Kind:      "message",
		Role:      "agent",
		Parts:     []Part{NewTextPart(a.accumulated.String())},
		MessageID: a.currentMessageID,
		TaskID:    a.taskID,
		ContextID: a.contextID,
	})

	a.currentMessageID = ""
	a.accumulated.Reset()
}

func (a *Adapter) handleToolStart(e agui.ToolCallStart) {
	a.currentTool = &toolCall{id: e.ToolCallID, name: e.ToolName}

	a.emitArtifact(Artifact{
		ArtifactID: e.ToolCallID,
		Name:       e.ToolName,
		Parts: []Part{NewDataPart(map[string]any{
			"toolCallId": e.ToolCallID,
			"toolName":   e.ToolName,
			"status":     "started",
		})},
	}, false)
}

func (a *Adapter) handleToolEnd(e agui.ToolCallEnd) {
	if a.currentTool == nil || a.currentTool.id != e.ToolCallID {
		return
	}

	a.emitArtifact(Artifact{
		ArtifactID: e.ToolCallID,
		Name:       a.currentTool.name,
		Parts: []Part{NewDataPart(map[string]any{
			"toolCallId": e.ToolCallID,
			"toolName":   a.currentTool.name,
			"status":     "executing",
			"arguments":  parseLoose(a.currentTool.args.String()),
		})},
	}, false)
}

func (a *Adapter) handleToolResult(e agui.ToolCallResult) {
	a.toolResults[e.ToolCallID] = e.Result

	name := ""
	if a.currentTool != nil && a.currentTool.id == e.ToolCallID {
		name = a.currentTool.name
		a.currentTool = nil
	}

	artifact := Artifact{
		ArtifactID: e.ToolCallID,
		Name:       name,
		Parts: []Part{NewDataPart(map[string]any{
			"toolCallId": e.ToolCallID,
			"toolName":   name,
			"status":     "completed",
			"result":     parseLoose(e.Result),
			"isError":    e.IsError,
		})},
	}

	a.artifacts = append(a.artifacts, artifact)
	a.emit(TaskArtifactUpdateEvent{
		Kind:      "artifact-update",
		TaskID:    a.taskID,
		ContextID: a.contextID,
		Artifact:  artifact,
		LastChunk: true,
	})
}

// handleInternal surfaces thinking, raw and custom events as internal
// artifacts, hidden from primary UIs but available for audit.
func (a *Adapter) handleInternal(ev agui.Event) {
	data, err := eventData(ev)
	if err != nil {
		return
	}

	a.emitArtifact(Artifact{
		ArtifactID: agui.NewID(),
		Name:       string(ev.Type()),
		Parts:      []Part{NewDataPart(data)},
		Metadata:   map[string]any{"internal": true},
	}, false)
}

// transition moves the task state forward. Terminal states admit no further
// transition; a late event after completed or failed is dropped.
func (a *Adapter) transition(state TaskState, message *Message, final bool) {
	if a.lastState.Terminal() {
		return
	}

	a.lastState = state
	if state.Terminal() {
		a.terminalAt = time.Now()
	}

	a.emit(TaskStatusUpdateEvent{
		Kind:      "status-update",
		TaskID:    a.taskID,
		ContextID: a.contextID,
		Status:    TaskStatus{State: state, Message: message, Timestamp: now()},
		Final:     final,
	})
}

func (a *Adapter) emitArtifact(artifact Artifact, lastChunk bool) {
	a.artifacts = append(a.artifacts, artifact)
	a.emit(TaskArtifactUpdateEvent{
		Kind:      "artifact-update",
		TaskID:    a.taskID,
		ContextID: a.contextID,
		Artifact:  artifact,
		LastChunk: lastChunk,
	})
}

func (a *Adapter) lastHistoryMessage() *Message {
	if len(a.history) == 0 {
		return nil
	}

	msg := a.history[len(a.history)-1]

	return &msg
}

func (a *Adapter) errorMessage(e agui.RunError) *Message {
	return &Message{
		Kind:      "message",
		Role:      "agent",
		Parts:     []Part{NewTextPart("Error: " + e.Message)},
		MessageID: agui.NewID(),
		TaskID:    a.taskID,
		ContextID: a.contextID,
	}
}

// CreateTask projects the current adapter state into a complete Task. Valid
// at any point; before any event the state is submitted.
func (a *Adapter) CreateTask() Task {
	a.mu.Lock()
	defer a.mu.Unlock()

	task := Task{
		Kind:      "task",
		ID:        a.taskID,
		ContextID: a.contextID,
		Status:    TaskStatus{State: a.lastState, Timestamp: now()},
	}

	task.Artifacts = append(task.Artifacts, a.artifacts...)
	task.History = append(task.History, a.history...)

	if msg := a.lastHistoryMessage(); msg != nil && a.lastState.Terminal() {
		task.Status.Message = msg
	}

	return task
}

// ResponseText concatenates all finalized agent messages in history order,
// newline-joined.
func (a *Adapter) ResponseText() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	parts := make([]string, 0, len(a.history))
	for _, msg := range a.history {
		parts = append(parts, msg.Text())
	}

	return strings.Join(parts, "\n")
}

// parseLoose decodes a JSON value, falling back to the raw string when the
// input is empty or not valid JSON. Tool arguments may never have become a
// complete document.
func parseLoose(raw string) any {
	if raw == "" {
		return nil
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}

	return v
}

// eventData round-trips an agui event through JSON into a generic map.
func eventData(ev agui.Event) (map[string]any, error) {
	b, err := agui.Marshal(ev)
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, err
	}

	return data, nil
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }
