package a2a

import "encoding/json"

// TaskState is the lifecycle state of an A2A task. States only move forward
// through submitted, working and one terminal state.
type TaskState string

const (
	// TaskStateSubmitted is the state before any lifecycle event arrived.
	TaskStateSubmitted TaskState = "submitted"
	// TaskStateWorking is the state while the turn is executing.
	TaskStateWorking TaskState = "working"
	// TaskStateCompleted is the successful terminal state.
	TaskStateCompleted TaskState = "completed"
	// TaskStateFailed is the failed terminal state.
	TaskStateFailed TaskState = "failed"
	// TaskStateCanceled is the interrupted terminal state.
	TaskStateCanceled TaskState = "canceled"
)

// Terminal reports whether the state admits no further transition.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// Part kinds.
const (
	PartKindText = "text"
	PartKindFile = "file"
	PartKindData = "data"
)

// Part is one content fragment of a message or artifact, discriminated by
// Kind. Exactly one of Text, File or Data is populated.
type Part struct {
	Kind     string         `json:"kind"`
	Text     string         `json:"text,omitempty"`
	File     *FileContent   `json:"file,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FileContent is an inline or referenced file payload.
type FileContent struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// NewTextPart builds a text part.
func NewTextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// NewDataPart builds a structured data part.
func NewDataPart(data map[string]any) Part {
	return Part{Kind: PartKindData, Data: data}
}

// Message is a single conversational message on the A2A wire.
type Message struct {
	Kind      string         `json:"kind"`
	Role      string         `json:"role"`
	Parts     []Part         `json:"parts"`
	MessageID string         `json:"messageId"`
	TaskID    string         `json:"taskId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartKindText {
			out += p.Text
		}
	}

	return out
}

// TaskStatus is the current state of a task plus an optional status message.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// Artifact is a named output produced during a task, such as a tool
// invocation record.
type Artifact struct {
	ArtifactID string         `json:"artifactId"`
	Name       string         `json:"name,omitempty"`
	Parts      []Part         `json:"parts"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Task is the complete server-side view of one turn.
type Task struct {
	Kind      string     `json:"kind"`
	ID        string     `json:"id"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	History   []Message  `json:"history,omitempty"`
}

// TaskStatusUpdateEvent streams a state transition. Final marks terminal
// transitions; no further events follow a final update.
type TaskStatusUpdateEvent struct {
	Kind      string     `json:"kind"`
	TaskID    string     `json:"taskId"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	Final     bool       `json:"final"`
}

// TaskArtifactUpdateEvent streams an artifact addition or extension.
type TaskArtifactUpdateEvent struct {
	Kind      string   `json:"kind"`
	TaskID    string   `json:"taskId"`
	ContextID string   `json:"contextId"`
	Artifact  Artifact `json:"artifact"`
	Append    bool     `json:"append,omitempty"`
	LastChunk bool     `json:"lastChunk,omitempty"`
}

// Event is the closed union of payloads an adapter streams to a client:
// Message, TaskStatusUpdateEvent or TaskArtifactUpdateEvent.
type Event interface {
	isA2AEvent()
}

func (Message) isA2AEvent()                 {}
func (TaskStatusUpdateEvent) isA2AEvent()   {}
func (TaskArtifactUpdateEvent) isA2AEvent() {}

// JSON-RPC 2.0 error codes, standard plus the reserved A2A range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeTaskNotFound                 = -32001
	CodeTaskNotCancelable            = -32002
	CodePushNotificationNotSupported = -32003
	CodeUnsupportedOperation         = -32004
	CodeRateLimited                  = -32005
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// NewResponse wraps a result for the given request id.
func NewResponse(id json.RawMessage, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse wraps an error for the given request id.
func NewErrorResponse(id json.RawMessage, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}}
}

// MessageSendParams are the parameters of message/send and message/stream.
type MessageSendParams struct {
	Message       Message            `json:"message"`
	Configuration *SendConfiguration `json:"configuration,omitempty"`
	Metadata      *SendMetadata      `json:"metadata,omitempty"`
}

// SendConfiguration tunes delivery semantics.
type SendConfiguration struct {
	// Blocking makes message/send wait for the terminal state. Defaults to
	// true; a non-blocking send returns an immediately submitted task.
	Blocking *bool `json:"blocking,omitempty"`
}

// SendMetadata carries engine routing hints.
type SendMetadata struct {
	EngineType string `json:"engineType,omitempty"`
	Model      string `json:"model,omitempty"`
	Workspace  string `json:"workspace,omitempty"`
	// TimeoutMS bounds the turn in milliseconds.
	TimeoutMS int64 `json:"timeout,omitempty"`
}

// TaskQueryParams are the parameters of tasks/get.
type TaskQueryParams struct {
	ID string `json:"id"`
}
