// Package a2a exposes sessions to other agent systems over JSON-RPC 2.0 with
// task, message and artifact framing. The Adapter re-frames agui event
// streams into that vocabulary; the Handler dispatches message/send,
// message/stream and tasks/get.
package a2a

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/hupe1980/agentbridge/agui"
	"github.com/hupe1980/agentbridge/engine"
	"github.com/hupe1980/agentbridge/logging"
	"github.com/hupe1980/agentbridge/session"
	"github.com/hupe1980/agentbridge/sse"
)

// DefaultTaskRetention is how long finished tasks stay queryable via
// tasks/get before they are pruned.
const DefaultTaskRetention = 15 * time.Minute

// HandlerOptions configures the Handler.
type HandlerOptions struct {
	// DefaultWorkspace is used when a request names no workspace.
	DefaultWorkspace string
	// Bus receives the underlying agui events keyed by context id so bus
	// observers can follow A2A-fronted sessions. Optional.
	Bus *session.Bus
	// HeartbeatInterval for message/stream connections. Defaults to the
	// sse package default.
	HeartbeatInterval time.Duration
	// TaskRetention bounds how long terminal tasks stay registered.
	// Defaults to DefaultTaskRetention.
	TaskRetention time.Duration
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Handler serves the A2A JSON-RPC surface over HTTP POST.
type Handler struct {
	manager *engine.Manager
	opts    HandlerOptions
	logger  logging.Logger

	mu    sync.Mutex
	tasks map[string]*Adapter
}

// NewHandler creates a Handler dispatching turns through the manager.
func NewHandler(manager *engine.Manager, optFns ...func(o *HandlerOptions)) *Handler {
	opts := HandlerOptions{
		HeartbeatInterval: sse.DefaultHeartbeatInterval,
		TaskRetention:     DefaultTaskRetention,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.TaskRetention <= 0 {
		opts.TaskRetention = DefaultTaskRetention
	}

	return &Handler{
		manager: manager,
		opts:    opts,
		logger:  opts.Logger,
		tasks:   make(map[string]*Adapter),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, NewErrorResponse(nil, CodeParseError, "invalid JSON payload"))
		return
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		writeJSON(w, NewErrorResponse(req.ID, CodeInvalidRequest, "not a JSON-RPC 2.0 request"))
		return
	}

	switch req.Method {
	case "message/send":
		h.handleSend(w, r, req)
	case "message/stream":
		h.handleStream(w, r, req)
	case "tasks/get":
		h.handleTaskGet(w, req)
	default:
		writeJSON(w, NewErrorResponse(req.ID, CodeMethodNotFound, "unknown method: "+req.Method))
	}
}

// handleSend runs one turn and returns the resulting Task. Blocking by
// default; a non-blocking send answers with a submitted snapshot while the
// turn continues in the background.
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request, req Request) {
	params, rpcErr := h.parseSendParams(req.Params)
	if rpcErr != nil {
		writeJSON(w, Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}

	adapter := h.newTask(params)

	if !blocking(params) {
		// Snapshot first so the response cannot observe background progress.
		task := adapter.CreateTask()

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), turnTimeout(params))
			defer cancel()

			h.runTurn(ctx, params, adapter)
		}()

		writeJSON(w, NewResponse(req.ID, task))
		return
	}

	h.runTurn(r.Context(), params, adapter)
	writeJSON(w, NewResponse(req.ID, adapter.CreateTask()))
}

// handleStream runs one turn and streams every A2A event as a JSON-RPC
// enveloped SSE frame.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request, req Request) {
	params, rpcErr := h.parseSendParams(req.Params)
	if rpcErr != nil {
		writeJSON(w, Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	go writer.Heartbeat(r.Context(), h.opts.HeartbeatInterval)

	adapter := h.newTaskStreaming(params, func(ev Event) {
		if err := writer.Send(kindOf(ev), NewResponse(req.ID, ev)); err != nil {
			// Connection-local failure; the turn keeps running for bus
			// observers and tasks/get.
			h.logger.Debug("a2a stream write failed", "task_id", taskIDOf(ev), "error", err)
		}
	})

	h.runTurn(r.Context(), params, adapter)
}

func (h *Handler) handleTaskGet(w http.ResponseWriter, req Request) {
	var params TaskQueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeJSON(w, NewErrorResponse(req.ID, CodeInvalidParams, "tasks/get requires an id"))
		return
	}

	h.mu.Lock()
	adapter, ok := h.tasks[params.ID]
	h.mu.Unlock()

	if !ok {
		writeJSON(w, NewErrorResponse(req.ID, CodeTaskNotFound, "task not found: "+params.ID))
		return
	}

	writeJSON(w, NewResponse(req.ID, adapter.CreateTask()))
}

func (h *Handler) parseSendParams(raw json.RawMessage) (MessageSendParams, *Error) {
	var params MessageSendParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, &Error{Code: CodeInvalidParams, Message: "invalid message/send params"}
	}

	if params.Message.Text() == "" {
		return params, &Error{Code: CodeInvalidParams, Message: "message must contain a non-empty text part"}
	}

	return params, nil
}

// newTask builds the adapter for one turn and registers it for tasks/get.
func (h *Handler) newTask(params MessageSendParams) *Adapter {
	return h.newTaskStreaming(params, nil)
}

func (h *Handler) newTaskStreaming(params MessageSendParams, emit func(Event)) *Adapter {
	taskID := params.Message.TaskID
	if taskID == "" {
		taskID = agui.NewID()
	}
	contextID := params.Message.ContextID
	if contextID == "" {
		contextID = agui.NewID()
	}

	adapter := NewAdapter(taskID, contextID, emit)

	h.mu.Lock()
	h.pruneTasks(time.Now())
	h.tasks[taskID] = adapter
	h.mu.Unlock()

	return adapter
}

// pruneTasks drops terminal tasks past the retention window so the registry
// does not keep one adapter, with its full history and artifacts, per turn
// forever. Caller holds h.mu.
func (h *Handler) pruneTasks(now time.Time) {
	for id, adapter := range h.tasks {
		if at, done := adapter.TerminalSince(); done && now.Sub(at) > h.opts.TaskRetention {
			delete(h.tasks, id)
		}
	}
}

// runTurn submits the message through the engine manager, fanning agui
// events into the A2A adapter and, when wired, the session bus.
func (h *Handler) runTurn(ctx context.Context, params MessageSendParams, adapter *Adapter) {
	req, engineType := h.buildRequest(params)

	onEvent := func(ev agui.Event) {
		adapter.HandleEvent(ev)
		if h.opts.Bus != nil {
			h.opts.Bus.Emit(adapter.ContextID(), ev)
		}
	}

	if _, err := h.manager.SendMessage(ctx, engineType, req, onEvent); err != nil {
		h.logger.Error("a2a turn failed", "task_id", adapter.TaskID(), "error", err)

		// Engines emit RUN_ERROR on their own failures; cover requests the
		// manager rejected before any engine ran.
		if !adapter.State().Terminal() {
			adapter.HandleEvent(agui.RunError{Message: err.Error(), Code: engine.CodeBackendError, Timestamp: agui.Now()})
		}
	}
}

func (h *Handler) buildRequest(params MessageSendParams) (engine.Request, string) {
	req := engine.Request{
		Message:   params.Message.Text(),
		Workspace: h.opts.DefaultWorkspace,
		SessionID: params.Message.ContextID,
	}

	engineType := ""
	if meta := params.Metadata; meta != nil {
		engineType = meta.EngineType
		req.Model = meta.Model
		if meta.Workspace != "" {
			req.Workspace = meta.Workspace
		}
		if meta.TimeoutMS > 0 {
			req.Timeout = time.Duration(meta.TimeoutMS) * time.Millisecond
		}
	}

	return req, engineType
}

func blocking(params MessageSendParams) bool {
	if params.Configuration == nil || params.Configuration.Blocking == nil {
		return true
	}

	return *params.Configuration.Blocking
}

func turnTimeout(params MessageSendParams) time.Duration {
	if params.Metadata != nil && params.Metadata.TimeoutMS > 0 {
		return time.Duration(params.Metadata.TimeoutMS) * time.Millisecond
	}

	return 10 * time.Minute
}

func kindOf(ev Event) string {
	switch ev.(type) {
	case Message:
		return "message"
	case TaskStatusUpdateEvent:
		return "status-update"
	case TaskArtifactUpdateEvent:
		return "artifact-update"
	default:
		return "event"
	}
}

func taskIDOf(ev Event) string {
	switch e := ev.(type) {
	case Message:
		return e.TaskID
	case TaskStatusUpdateEvent:
		return e.TaskID
	case TaskArtifactUpdateEvent:
		return e.TaskID
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(resp)
}
