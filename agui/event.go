package agui

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the event kinds on the wire.
type EventType string

const (
	// EventTypeRunStarted signals the start of a conversational turn.
	EventTypeRunStarted EventType = "RUN_STARTED"
	// EventTypeRunFinished signals successful completion of a turn.
	EventTypeRunFinished EventType = "RUN_FINISHED"
	// EventTypeRunError signals failure of a turn.
	EventTypeRunError EventType = "RUN_ERROR"
	// EventTypeTextMessageStart opens a streamed assistant message.
	EventTypeTextMessageStart EventType = "TEXT_MESSAGE_START"
	// EventTypeTextMessageContent carries an incremental text delta.
	EventTypeTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	// EventTypeTextMessageEnd closes a streamed assistant message.
	EventTypeTextMessageEnd EventType = "TEXT_MESSAGE_END"
	// EventTypeThinkingStart opens a streamed thinking block.
	EventTypeThinkingStart EventType = "THINKING_START"
	// EventTypeThinkingContent carries an incremental thinking delta.
	EventTypeThinkingContent EventType = "THINKING_CONTENT"
	// EventTypeThinkingEnd closes a streamed thinking block.
	EventTypeThinkingEnd EventType = "THINKING_END"
	// EventTypeToolCallStart announces a tool invocation.
	EventTypeToolCallStart EventType = "TOOL_CALL_START"
	// EventTypeToolCallArgs carries a partial JSON arguments fragment.
	EventTypeToolCallArgs EventType = "TOOL_CALL_ARGS"
	// EventTypeToolCallEnd closes the argument stream of a tool invocation.
	EventTypeToolCallEnd EventType = "TOOL_CALL_END"
	// EventTypeToolCallResult delivers the outcome of a tool invocation.
	EventTypeToolCallResult EventType = "TOOL_CALL_RESULT"
	// EventTypeRaw wraps an unmapped vendor event so nothing is lost.
	EventTypeRaw EventType = "RAW"
	// EventTypeCustom carries out-of-band application events.
	EventTypeCustom EventType = "CUSTOM"
)

// Event is the closed union of all AG-UI events. Concrete event types
// implement the unexported marker enabling exhaustive switches.
type Event interface {
	Type() EventType
	isEvent()
}

// RunStarted signals the start of a turn. ThreadID identifies the backend
// session; RunID identifies this turn within it.
type RunStarted struct {
	ThreadID  string `json:"threadId"`
	RunID     string `json:"runId"`
	Input     string `json:"input,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// RunFinished terminates a successful turn. Result carries the final
// accumulated assistant text (informational, already streamed as deltas).
type RunFinished struct {
	ThreadID  string `json:"threadId"`
	RunID     string `json:"runId"`
	Result    string `json:"result,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// RunError terminates a failed turn. Code uses the stable error taxonomy
// (SPAWN_ERROR, TIMEOUT, ...) where one applies.
type RunError struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// TextMessageStart opens an assistant message stream.
type TextMessageStart struct {
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Timestamp int64  `json:"timestamp"`
}

// TextMessageContent carries one incremental delta of an open message.
type TextMessageContent struct {
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
	Timestamp int64  `json:"timestamp"`
}

// TextMessageEnd closes an assistant message stream.
type TextMessageEnd struct {
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

// ThinkingStart opens a thinking block stream.
type ThinkingStart struct {
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

// ThinkingContent carries one incremental delta of an open thinking block.
type ThinkingContent struct {
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
	Timestamp int64  `json:"timestamp"`
}

// ThinkingEnd closes a thinking block stream.
type ThinkingEnd struct {
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

// ToolCallStart announces a tool invocation by id and name.
type ToolCallStart struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Timestamp  int64  `json:"timestamp"`
}

// ToolCallArgs carries a partial JSON fragment of the tool arguments.
// Consumers accumulate fragments until ToolCallEnd.
type ToolCallArgs struct {
	ToolCallID string `json:"toolCallId"`
	Delta      string `json:"delta"`
	Timestamp  int64  `json:"timestamp"`
}

// ToolCallEnd closes the argument stream of a tool invocation.
type ToolCallEnd struct {
	ToolCallID string `json:"toolCallId"`
	Timestamp  int64  `json:"timestamp"`
}

// ToolCallResult delivers the externally computed outcome of a tool call.
type ToolCallResult struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
	IsError    bool   `json:"isError"`
	Timestamp  int64  `json:"timestamp"`
}

// Raw wraps a vendor event that has no normalized mapping. Source names the
// emitting adapter ("cli", "sdk").
type Raw struct {
	Source    string         `json:"source"`
	Event     map[string]any `json:"event"`
	Timestamp int64          `json:"timestamp"`
}

// Custom event names with protocol meaning to consumers.
const (
	// CustomEventSessionUpdated carries the backend's canonical session id
	// when it differs from the one the turn started with.
	CustomEventSessionUpdated = "session_updated"
	// CustomEventUserMessageInjected announces an externally injected user
	// turn to session observers.
	CustomEventUserMessageInjected = "user_message_injected"
)

// Custom carries out-of-band application events such as session re-sync or
// externally injected turns.
type Custom struct {
	Name      string         `json:"name"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Type implementations.

// Type returns the wire discriminator.
func (RunStarted) Type() EventType { return EventTypeRunStarted }

// Type returns the wire discriminator.
func (RunFinished) Type() EventType { return EventTypeRunFinished }

// Type returns the wire discriminator.
func (RunError) Type() EventType { return EventTypeRunError }

// Type returns the wire discriminator.
func (TextMessageStart) Type() EventType { return EventTypeTextMessageStart }

// Type returns the wire discriminator.
func (TextMessageContent) Type() EventType { return EventTypeTextMessageContent }

// Type returns the wire discriminator.
func (TextMessageEnd) Type() EventType { return EventTypeTextMessageEnd }

// Type returns the wire discriminator.
func (ThinkingStart) Type() EventType { return EventTypeThinkingStart }

// Type returns the wire discriminator.
func (ThinkingContent) Type() EventType { return EventTypeThinkingContent }

// Type returns the wire discriminator.
func (ThinkingEnd) Type() EventType { return EventTypeThinkingEnd }

// Type returns the wire discriminator.
func (ToolCallStart) Type() EventType { return EventTypeToolCallStart }

// Type returns the wire discriminator.
func (ToolCallArgs) Type() EventType { return EventTypeToolCallArgs }

// Type returns the wire discriminator.
func (ToolCallEnd) Type() EventType { return EventTypeToolCallEnd }

// Type returns the wire discriminator.
func (ToolCallResult) Type() EventType { return EventTypeToolCallResult }

// Type returns the wire discriminator.
func (Raw) Type() EventType { return EventTypeRaw }

// Type returns the wire discriminator.
func (Custom) Type() EventType { return EventTypeCustom }

func (RunStarted) isEvent()         {}
func (RunFinished) isEvent()        {}
func (RunError) isEvent()           {}
func (TextMessageStart) isEvent()   {}
func (TextMessageContent) isEvent() {}
func (TextMessageEnd) isEvent()     {}
func (ThinkingStart) isEvent()      {}
func (ThinkingContent) isEvent()    {}
func (ThinkingEnd) isEvent()        {}
func (ToolCallStart) isEvent()      {}
func (ToolCallArgs) isEvent()       {}
func (ToolCallEnd) isEvent()        {}
func (ToolCallResult) isEvent()     {}
func (Raw) isEvent()                {}
func (Custom) isEvent()             {}

// NewID generates a new unique identifier for threads, runs, messages and
// tool calls.
func NewID() string { return uuid.NewString() }

// Now returns the current UTC time in unix milliseconds, the timestamp unit
// used on the wire.
func Now() int64 { return time.Now().UTC().UnixMilli() }
