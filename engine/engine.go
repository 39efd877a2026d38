package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentbridge/agui"
)

// Stable error codes surfaced on agui.RunError events.
const (
	// CodeSpawnError marks a backend executable that is missing or failed
	// to start.
	CodeSpawnError = "SPAWN_ERROR"
	// CodeTimeout marks a turn that produced no terminal event within the
	// configured window.
	CodeTimeout = "TIMEOUT"
	// CodeBackendError marks an error reported by the backend itself.
	CodeBackendError = "BACKEND_ERROR"
	// CodeInterrupted marks a turn cancelled by an explicit interrupt.
	CodeInterrupted = "INTERRUPTED"
)

var (
	// ErrEmptyMessage is returned when a request carries no message text.
	ErrEmptyMessage = errors.New("engine: message must not be empty")
	// ErrMissingWorkspace is returned when a request names no workspace.
	ErrMissingWorkspace = errors.New("engine: workspace is required")
	// ErrSessionNotFound is returned by interrupt for unknown or already
	// finished sessions.
	ErrSessionNotFound = errors.New("engine: session not found")
	// ErrTimeout is returned when no terminal event arrived in time.
	ErrTimeout = errors.New("engine: turn timed out")
)

// PermissionMode controls how the backend handles tool permission prompts.
type PermissionMode string

const (
	// PermissionModeDefault prompts per the backend's own policy.
	PermissionModeDefault PermissionMode = "default"
	// PermissionModeAcceptEdits auto-accepts file edit prompts.
	PermissionModeAcceptEdits PermissionMode = "acceptEdits"
	// PermissionModeBypass skips all permission prompts.
	PermissionModeBypass PermissionMode = "bypassPermissions"
	// PermissionModePlan restricts the backend to planning without edits.
	PermissionModePlan PermissionMode = "plan"
)

// Image is an inline attachment submitted with a message.
type Image struct {
	ID       string `json:"id"`
	Data     string `json:"data"` // base64 encoded
	MimeType string `json:"mimeType"`
	Filename string `json:"filename,omitempty"`
}

// Request is the closed set of recognized options for one conversational
// turn. Engines ignore options outside their capability set.
type Request struct {
	// Message is the user input. Required, non-empty.
	Message string `json:"message"`
	// Workspace is the backend working directory. Required.
	Workspace string `json:"workspace"`
	// SessionID continues a prior backend session when set.
	SessionID string `json:"sessionId,omitempty"`
	// Model overrides the engine's default model.
	Model string `json:"model,omitempty"`
	// PermissionMode overrides the backend permission policy.
	PermissionMode PermissionMode `json:"permissionMode,omitempty"`
	// MCPTools selects MCP tool servers by id (SDK engine).
	MCPTools []string `json:"mcpTools,omitempty"`
	// Env overrides environment variables for the turn (SDK engine).
	Env map[string]string `json:"env,omitempty"`
	// Images are inline attachments.
	Images []Image `json:"images,omitempty"`
	// Timeout bounds the turn. Zero means the engine default.
	Timeout time.Duration `json:"-"`
}

// Validate checks the request invariants shared by all engines.
func (r Request) Validate() error {
	if r.Message == "" {
		return ErrEmptyMessage
	}
	if r.Workspace == "" {
		return ErrMissingWorkspace
	}

	return nil
}

// Result is the outcome of a successfully submitted turn.
type Result struct {
	// SessionID is the backend's canonical session id. It may differ from
	// Request.SessionID when the backend assigns its own.
	SessionID string `json:"sessionId"`
}

// EventFunc receives normalized events during a turn. It is invoked on the
// turn's producing goroutine in emission order.
type EventFunc func(ev agui.Event)

// ModelInfo describes one model a backend can run.
type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// Capabilities describes what a concrete engine supports, used by callers to
// gate request options.
type Capabilities struct {
	Type              string `json:"type"`
	SupportsImages    bool   `json:"supportsImages"`
	SupportsResume    bool   `json:"supportsResume"`
	SupportsMCPTools  bool   `json:"supportsMcpTools"`
	SupportsEnv       bool   `json:"supportsEnv"`
	SupportsInterrupt bool   `json:"supportsInterrupt"`
}

// Engine owns the lifecycle of conversational turns against one backend.
type Engine interface {
	// Type returns the engine's registry key ("anthropic", "cli", ...).
	Type() string

	// SendMessage executes one turn. It invokes onEvent zero or more times
	// while the turn runs, then resolves with the backend's canonical
	// session id. Exactly one terminal event (RUN_FINISHED or RUN_ERROR) is
	// emitted per turn, even on failure paths.
	SendMessage(ctx context.Context, req Request, onEvent EventFunc) (*Result, error)

	// InterruptSession terminates the backend process or operation behind
	// the session and removes it from the active registry. Interrupting an
	// unknown or finished session fails with ErrSessionNotFound.
	InterruptSession(sessionID string) error

	// SupportedModels returns the models this engine can run, using the
	// engine's cascading discovery.
	SupportedModels(ctx context.Context) []ModelInfo

	// ActiveSessionCount returns the number of live backend sessions.
	ActiveSessionCount() int

	// Capabilities describes the engine's supported request options.
	Capabilities() Capabilities
}

// NotFoundError decorates ErrSessionNotFound with the session id for
// user-facing messages.
func NotFoundError(sessionID string) error {
	return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
}
