package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentbridge/agui"
	"github.com/hupe1980/agentbridge/engine"
	"github.com/hupe1980/agentbridge/session"
)

// scriptedEngine replays a fixed agui sequence for every turn.
type scriptedEngine struct {
	events []agui.Event
	err    error
	delay  time.Duration
}

func (s *scriptedEngine) Type() string { return "scripted" }

func (s *scriptedEngine) SendMessage(ctx context.Context, req engine.Request, onEvent engine.EventFunc) (*engine.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for _, ev := range s.events {
		if onEvent != nil {
			onEvent(ev)
		}
	}

	return &engine.Result{SessionID: "sess-1"}, nil
}

func (s *scriptedEngine) InterruptSession(sessionID string) error {
	return engine.NotFoundError(sessionID)
}

func (s *scriptedEngine) SupportedModels(context.Context) []engine.ModelInfo { return nil }
func (s *scriptedEngine) ActiveSessionCount() int                           { return 0 }
func (s *scriptedEngine) Capabilities() engine.Capabilities {
	return engine.Capabilities{Type: "scripted"}
}

func happyScript() []agui.Event {
	return []agui.Event{
		agui.RunStarted{ThreadID: "sess-1", RunID: "r1"},
		agui.TextMessageStart{MessageID: "m1", Role: "assistant"},
		agui.TextMessageContent{MessageID: "m1", Delta: "Hello"},
		agui.TextMessageEnd{MessageID: "m1"},
		agui.RunFinished{ThreadID: "sess-1", RunID: "r1", Result: "Hello"},
	}
}

func newTestHandler(t *testing.T, eng engine.Engine, optFns ...func(o *HandlerOptions)) *Handler {
	t.Helper()

	manager := engine.NewManager()
	manager.Register(eng)

	optFns = append([]func(o *HandlerOptions){func(o *HandlerOptions) {
		o.DefaultWorkspace = t.TempDir()
	}}, optFns...)

	return NewHandler(manager, optFns...)
}

func rpcCall(t *testing.T, h *Handler, method string, params any) Response {
	t.Helper()

	raw, err := json.Marshal(params)
	require.NoError(t, err)

	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method, Params: raw})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/a2a", bytes.NewReader(body)))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	return resp
}

func textMessage(text string) Message {
	return Message{Kind: "message", Role: "user", Parts: []Part{NewTextPart(text)}, MessageID: "u1"}
}

func decodeTask(t *testing.T, resp Response) Task {
	t.Helper()

	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)

	var task Task
	require.NoError(t, json.Unmarshal(raw, &task))

	return task
}

func TestHandlerMessageSendBlocking(t *testing.T) {
	h := newTestHandler(t, &scriptedEngine{events: happyScript()})

	resp := rpcCall(t, h, "message/send", MessageSendParams{Message: textMessage("hi")})
	task := decodeTask(t, resp)

	assert.Equal(t, TaskStateCompleted, task.Status.State)
	require.Len(t, task.History, 1)
	assert.Equal(t, "Hello", task.History[0].Text())
}

func TestHandlerMessageSendNonBlocking(t *testing.T) {
	blocking := false
	h := newTestHandler(t, &scriptedEngine{events: happyScript(), delay: 200 * time.Millisecond})

	resp := rpcCall(t, h, "message/send", MessageSendParams{
		Message:       textMessage("hi"),
		Configuration: &SendConfiguration{Blocking: &blocking},
	})
	task := decodeTask(t, resp)

	assert.Equal(t, TaskStateSubmitted, task.Status.State, "non-blocking send answers before execution")

	// The background turn still completes and is visible via tasks/get.
	deadline := time.Now().Add(5 * time.Second)
	for {
		got := rpcCall(t, h, "tasks/get", TaskQueryParams{ID: task.ID})
		if got.Error == nil && decodeTask(t, got).Status.State == TaskStateCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("background turn never reached completed")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestHandlerTaskGetUnknown(t *testing.T) {
	h := newTestHandler(t, &scriptedEngine{})

	resp := rpcCall(t, h, "tasks/get", TaskQueryParams{ID: "nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTaskNotFound, resp.Error.Code)
}

func TestHandlerMethodNotFound(t *testing.T) {
	h := newTestHandler(t, &scriptedEngine{})

	resp := rpcCall(t, h, "tasks/mystery", struct{}{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestHandlerInvalidParams(t *testing.T) {
	h := newTestHandler(t, &scriptedEngine{})

	resp := rpcCall(t, h, "message/send", MessageSendParams{Message: Message{Kind: "message"}})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestHandlerParseError(t *testing.T) {
	h := newTestHandler(t, &scriptedEngine{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/a2a", strings.NewReader("{nope")))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
}

func TestHandlerEngineFailureYieldsFailedTask(t *testing.T) {
	h := newTestHandler(t, &scriptedEngine{err: fmt.Errorf("boom")})

	resp := rpcCall(t, h, "message/send", MessageSendParams{Message: textMessage("hi")})
	task := decodeTask(t, resp)

	assert.Equal(t, TaskStateFailed, task.Status.State)
}

func TestHandlerMessageStreamFramesEnvelopedEvents(t *testing.T) {
	h := newTestHandler(t, &scriptedEngine{events: happyScript()})

	raw, err := json.Marshal(MessageSendParams{Message: textMessage("hi")})
	require.NoError(t, err)
	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage(`7`), Method: "message/stream", Params: raw})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/a2a", bytes.NewReader(body)))

	out := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, out, "event: status-update\n")
	assert.Contains(t, out, "event: message\n")
	assert.Contains(t, out, `"jsonrpc":"2.0"`)
	assert.Contains(t, out, `"final":true`)

	// Every data line is a JSON-RPC envelope echoing the request id.
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var resp Response
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &resp))
		assert.Equal(t, json.RawMessage(`7`), resp.ID)
	}
}

func TestHandlerPrunesTerminalTasksAfterRetention(t *testing.T) {
	h := newTestHandler(t, &scriptedEngine{events: happyScript()}, func(o *HandlerOptions) {
		o.TaskRetention = 10 * time.Millisecond
	})

	msg := textMessage("hi")
	msg.TaskID = "task-old"

	resp := rpcCall(t, h, "message/send", MessageSendParams{Message: msg})
	assert.Equal(t, TaskStateCompleted, decodeTask(t, resp).Status.State)

	got := rpcCall(t, h, "tasks/get", TaskQueryParams{ID: "task-old"})
	require.Nil(t, got.Error, "finished task stays queryable inside the retention window")

	time.Sleep(30 * time.Millisecond)

	// Registering the next turn prunes expired terminal tasks.
	rpcCall(t, h, "message/send", MessageSendParams{Message: textMessage("again")})

	got = rpcCall(t, h, "tasks/get", TaskQueryParams{ID: "task-old"})
	require.NotNil(t, got.Error)
	assert.Equal(t, CodeTaskNotFound, got.Error.Code)
}

func TestHandlerPublishesToBus(t *testing.T) {
	bus := session.NewBus()
	h := newTestHandler(t, &scriptedEngine{events: happyScript()}, func(o *HandlerOptions) {
		o.Bus = bus
	})

	// The context id is caller-chosen, so an observer can subscribe first.
	msg := textMessage("hi")
	msg.ContextID = "ctx-observe"

	var seen []agui.EventType
	unsubscribe := bus.Subscribe("ctx-observe", "obs-1", func(ev agui.Event) {
		seen = append(seen, ev.Type())
	})
	defer unsubscribe()

	rpcCall(t, h, "message/send", MessageSendParams{Message: msg})

	require.NotEmpty(t, seen)
	assert.Equal(t, agui.EventTypeRunStarted, seen[0])
	assert.Equal(t, agui.EventTypeRunFinished, seen[len(seen)-1])
}
