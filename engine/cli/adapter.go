package cli

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentbridge/agui"
	"github.com/hupe1980/agentbridge/internal/util"
)

// Adapter is the state machine translating the CLI's newline-delimited JSON
// stream into agui events. The native protocol is loose: assistant content
// may be echoed twice, tool calls are two-phase instead of four, and key
// names are vendor snake_case. One adapter serves exactly one turn, driven
// sequentially by the process's stdout reader.
type Adapter struct {
	threadID string
	runID    string
	emit     func(agui.Event)

	messageID   string // open text message, empty when none
	accumulated strings.Builder
	seenTools   map[string]string // tool call id -> name

	started  bool
	terminal bool
}

// NewAdapter creates an adapter bound to one turn. threadID may be empty;
// the CLI's system/init event supplies the canonical id.
func NewAdapter(threadID, runID string, emit func(agui.Event)) *Adapter {
	if emit == nil {
		emit = func(agui.Event) {}
	}

	return &Adapter{
		threadID:  threadID,
		runID:     runID,
		emit:      emit,
		seenTools: make(map[string]string),
	}
}

// ThreadID returns the backend's canonical session id once revealed, or the
// id the adapter was constructed with.
func (a *Adapter) ThreadID() string { return a.threadID }

// Text returns the de-duplicated accumulated assistant text.
func (a *Adapter) Text() string { return a.accumulated.String() }

// Terminal reports whether a terminal event has been emitted.
func (a *Adapter) Terminal() bool { return a.terminal }

// Start emits RUN_STARTED. No-op when called twice.
func (a *Adapter) Start(input string) {
	if a.started {
		return
	}
	a.started = true

	a.emit(agui.RunStarted{ThreadID: a.threadID, RunID: a.runID, Input: input, Timestamp: agui.Now()})
}

// HandleLine processes one stdout line. Malformed or unknown payloads are
// never fatal and never dropped silently; they surface as RAW events.
func (a *Adapter) HandleLine(line []byte) {
	if a.terminal {
		return
	}

	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return
	}

	if !gjson.Valid(trimmed) {
		a.emit(agui.Raw{Source: "cli", Event: map[string]any{"line": trimmed}, Timestamp: agui.Now()})
		return
	}

	payload := gjson.Parse(trimmed)

	switch payload.Get("type").String() {
	case "system":
		a.handleSystem(payload)
	case "assistant":
		a.handleAssistant(payload)
	case "user":
		a.handleUser(payload)
	case "result":
		a.handleResult(payload)
	default:
		a.emitRaw(payload)
	}
}

func (a *Adapter) handleSystem(payload gjson.Result) {
	if payload.Get("subtype").String() != "init" {
		a.emitRaw(payload)
		return
	}

	sessionID := payload.Get("session_id").String()
	if sessionID == "" || sessionID == a.threadID {
		return
	}

	a.threadID = sessionID
	a.emit(agui.Custom{
		Name:      agui.CustomEventSessionUpdated,
		Data:      map[string]any{"sessionId": sessionID},
		Timestamp: agui.Now(),
	})
}

func (a *Adapter) handleAssistant(payload gjson.Result) {
	// The observed CLI occasionally re-sends an already-delivered assistant
	// block. The authoritative copy carries a per-event uuid; the echo does
	// not. This is a heuristic inferred from vendor behavior, not a
	// documented contract; keep the predicate in one place.
	authoritative := a.isAuthoritative(payload)

	for _, block := range payload.Get("message.content").Array() {
		switch block.Get("type").String() {
		case "text":
			a.handleText(block.Get("text").String(), authoritative)
		case "thinking":
			a.handleThinking(block.Get("thinking").String())
		case "tool_use":
			a.handleToolUse(block)
		default:
			a.emitRaw(payload)
			return
		}
	}
}

// isAuthoritative reports whether an assistant event carries the monotonic
// replay marker distinguishing first deliveries from duplicate echoes.
func (a *Adapter) isAuthoritative(payload gjson.Result) bool {
	return payload.Get("uuid").Exists()
}

func (a *Adapter) handleText(text string, authoritative bool) {
	if text == "" {
		return
	}

	acc := a.accumulated.String()

	// Unmarked echo of already-delivered content: discard.
	if !authoritative && strings.Contains(acc, text) {
		return
	}

	// The CLI alternates between cumulative snapshots and fresh segments;
	// emit only bytes not yet delivered.
	delta := text
	if strings.HasPrefix(text, acc) {
		delta = text[len(acc):]
	}
	if delta == "" {
		return
	}

	if a.messageID == "" {
		a.messageID = agui.NewID()
		a.emit(agui.TextMessageStart{MessageID: a.messageID, Role: "assistant", Timestamp: agui.Now()})
	}

	a.accumulated.WriteString(delta)
	a.emit(agui.TextMessageContent{MessageID: a.messageID, Delta: delta, Timestamp: agui.Now()})
}

func (a *Adapter) handleThinking(thinking string) {
	if thinking == "" {
		return
	}

	// The CLI delivers complete thinking blocks, not deltas.
	id := agui.NewID()
	a.emit(agui.ThinkingStart{MessageID: id, Timestamp: agui.Now()})
	a.emit(agui.ThinkingContent{MessageID: id, Delta: thinking, Timestamp: agui.Now()})
	a.emit(agui.ThinkingEnd{MessageID: id, Timestamp: agui.Now()})
}

// handleToolUse maps the CLI's single "started" phase onto the three agui
// argument phases. The CLI delivers complete arguments up front, so Start,
// Args and End are synthesized immediately.
func (a *Adapter) handleToolUse(block gjson.Result) {
	a.closeTextMessage()

	id := block.Get("id").String()
	name := block.Get("name").String()
	if id == "" {
		a.emitRaw(block)
		return
	}

	a.seenTools[id] = name

	a.emit(agui.ToolCallStart{ToolCallID: id, ToolName: name, Timestamp: agui.Now()})

	if args := normalizeJSON(block.Get("input")); args != "" {
		a.emit(agui.ToolCallArgs{ToolCallID: id, Delta: args, Timestamp: agui.Now()})
	}

	a.emit(agui.ToolCallEnd{ToolCallID: id, Timestamp: agui.Now()})
}

// handleUser processes CLI-injected tool results ("completed" phase).
func (a *Adapter) handleUser(payload gjson.Result) {
	handled := false

	for _, block := range payload.Get("message.content").Array() {
		if block.Get("type").String() != "tool_result" {
			continue
		}
		handled = true

		id := block.Get("tool_use_id").String()
		if _, ok := a.seenTools[id]; !ok {
			// Result for a call we never saw started: preserve as raw.
			a.emitRaw(payload)
			continue
		}

		a.emit(agui.ToolCallResult{
			ToolCallID: id,
			Result:     toolResultText(block.Get("content")),
			IsError:    block.Get("is_error").Bool(),
			Timestamp:  agui.Now(),
		})
	}

	if !handled {
		a.emitRaw(payload)
	}
}

func (a *Adapter) handleResult(payload gjson.Result) {
	a.closeTextMessage()

	if a.terminal {
		return
	}
	a.terminal = true

	if subtype := payload.Get("subtype").String(); subtype != "" && subtype != "success" {
		message := payload.Get("result").String()
		if message == "" {
			message = payload.Get("error").String()
		}
		if message == "" {
			message = subtype
		}

		a.emit(agui.RunError{Message: message, Code: subtype, Timestamp: agui.Now()})
		return
	}

	result := payload.Get("result").String()
	if result == "" {
		result = a.accumulated.String()
	}

	a.emit(agui.RunFinished{ThreadID: a.threadID, RunID: a.runID, Result: result, Timestamp: agui.Now()})
}

// Finalize closes any open text message and appends exactly one
// RUN_FINISHED when no terminal was seen. Idempotent.
func (a *Adapter) Finalize() {
	if a.terminal {
		return
	}
	a.terminal = true

	a.closeTextMessageForce()
	a.emit(agui.RunFinished{ThreadID: a.threadID, RunID: a.runID, Result: a.accumulated.String(), Timestamp: agui.Now()})
}

// Abort closes any open text message and emits exactly one RUN_ERROR.
// Idempotent; a turn never sees both terminals.
func (a *Adapter) Abort(code, message string) {
	if a.terminal {
		return
	}
	a.terminal = true

	a.closeTextMessageForce()
	a.emit(agui.RunError{Message: message, Code: code, Timestamp: agui.Now()})
}

func (a *Adapter) closeTextMessage() {
	if a.terminal {
		return
	}
	a.closeTextMessageForce()
}

func (a *Adapter) closeTextMessageForce() {
	if a.messageID == "" {
		return
	}

	a.emit(agui.TextMessageEnd{MessageID: a.messageID, Timestamp: agui.Now()})
	a.messageID = ""
}

func (a *Adapter) emitRaw(payload gjson.Result) {
	event, ok := payload.Value().(map[string]any)
	if !ok {
		event = map[string]any{"value": payload.Value()}
	}

	a.emit(agui.Raw{Source: "cli", Event: event, Timestamp: agui.Now()})
}

// normalizeJSON re-serializes a vendor JSON value with all nested keys
// converted to camelCase. Returns the raw input string when the value is
// not an object or array.
func normalizeJSON(value gjson.Result) string {
	if !value.Exists() {
		return ""
	}

	v := value.Value()
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(util.CamelizeKeys(v))
		if err != nil {
			return value.Raw
		}

		return string(b)
	default:
		return value.Raw
	}
}

// toolResultText flattens a tool_result content field, which may be a plain
// string or a list of typed blocks, into a single result string with
// normalized keys.
func toolResultText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}

	if content.IsArray() {
		var parts []string
		for _, block := range content.Array() {
			if block.Get("type").String() == "text" {
				parts = append(parts, block.Get("text").String())
			} else {
				parts = append(parts, normalizeJSON(block))
			}
		}

		return strings.Join(parts, "\n")
	}

	return normalizeJSON(content)
}
