package anthropic

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentbridge/agui"
)

// blockKind tracks which kind of content block is open at a stream index.
type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockTool
)

type openBlock struct {
	kind      blockKind
	messageID string // text / thinking blocks
	toolID    string // tool blocks
}

// Adapter is the state machine translating the SDK's streaming callback
// objects into agui events. One adapter serves exactly one turn and is
// driven sequentially by the stream's goroutine; it requires no internal
// locking and must not be reused across turns.
type Adapter struct {
	threadID string
	runID    string
	emit     func(agui.Event)

	open map[int64]*openBlock
	text strings.Builder

	started  bool
	terminal bool
}

// NewAdapter creates an adapter bound to one turn.
func NewAdapter(threadID, runID string, emit func(agui.Event)) *Adapter {
	if emit == nil {
		emit = func(agui.Event) {}
	}

	return &Adapter{
		threadID: threadID,
		runID:    runID,
		emit:     emit,
		open:     make(map[int64]*openBlock),
	}
}

// SetThreadID updates the session id once the backend reveals its canonical
// one. All subsequently emitted lifecycle events carry the new id.
func (a *Adapter) SetThreadID(id string) { a.threadID = id }

// ThreadID returns the current session id.
func (a *Adapter) ThreadID() string { return a.threadID }

// Text returns the accumulated assistant text reconstructed from deltas.
// It is used for session history and the RUN_FINISHED result, never
// re-streamed.
func (a *Adapter) Text() string { return a.text.String() }

// Start emits RUN_STARTED for the turn. It is a no-op when called twice.
func (a *Adapter) Start(input string) {
	if a.started {
		return
	}
	a.started = true

	a.emit(agui.RunStarted{ThreadID: a.threadID, RunID: a.runID, Input: input, Timestamp: agui.Now()})
}

// HandleEvent converts one native stream event into zero or more agui
// events. Unknown native events are preserved as RAW.
func (a *Adapter) HandleEvent(ev anthropic.MessageStreamEventUnion) {
	if a.terminal {
		return
	}

	switch event := ev.AsAny().(type) {
	case anthropic.MessageStartEvent:
		// Message metadata only; blocks arrive separately.
	case anthropic.ContentBlockStartEvent:
		a.handleBlockStart(event)
	case anthropic.ContentBlockDeltaEvent:
		a.handleBlockDelta(event)
	case anthropic.ContentBlockStopEvent:
		a.closeBlock(event.Index)
	case anthropic.MessageDeltaEvent:
		// Stop reason / usage; the terminal event is message_stop.
	case anthropic.MessageStopEvent:
		a.Finalize()
	default:
		a.emit(agui.Raw{Source: "sdk", Event: map[string]any{"type": ev.Type}, Timestamp: agui.Now()})
	}
}

func (a *Adapter) handleBlockStart(event anthropic.ContentBlockStartEvent) {
	switch block := event.ContentBlock.AsAny().(type) {
	case anthropic.ToolUseBlock:
		a.open[event.Index] = &openBlock{kind: blockTool, toolID: block.ID}
		a.emit(agui.ToolCallStart{ToolCallID: block.ID, ToolName: block.Name, Timestamp: agui.Now()})
	case anthropic.ThinkingBlock:
		id := agui.NewID()
		a.open[event.Index] = &openBlock{kind: blockThinking, messageID: id}
		a.emit(agui.ThinkingStart{MessageID: id, Timestamp: agui.Now()})
	default:
		// Text and anything text-like opens lazily on the first delta, so
		// empty blocks never produce dangling start events.
		a.open[event.Index] = &openBlock{kind: blockText}
	}
}

func (a *Adapter) handleBlockDelta(event anthropic.ContentBlockDeltaEvent) {
	block, ok := a.open[event.Index]
	if !ok {
		// Delta without a start: synthesize the block rather than drop data.
		block = &openBlock{kind: blockText}
		a.open[event.Index] = block
	}

	switch delta := event.Delta.AsAny().(type) {
	case anthropic.TextDelta:
		if delta.Text == "" {
			return
		}
		if block.messageID == "" {
			block.messageID = agui.NewID()
			a.emit(agui.TextMessageStart{MessageID: block.messageID, Role: "assistant", Timestamp: agui.Now()})
		}
		a.text.WriteString(delta.Text)
		a.emit(agui.TextMessageContent{MessageID: block.messageID, Delta: delta.Text, Timestamp: agui.Now()})
	case anthropic.ThinkingDelta:
		if delta.Thinking == "" {
			return
		}
		if block.messageID == "" {
			block.messageID = agui.NewID()
			a.emit(agui.ThinkingStart{MessageID: block.messageID, Timestamp: agui.Now()})
		}
		a.emit(agui.ThinkingContent{MessageID: block.messageID, Delta: delta.Thinking, Timestamp: agui.Now()})
	case anthropic.InputJSONDelta:
		if delta.PartialJSON == "" || block.toolID == "" {
			return
		}
		a.emit(agui.ToolCallArgs{ToolCallID: block.toolID, Delta: delta.PartialJSON, Timestamp: agui.Now()})
	}
}

func (a *Adapter) closeBlock(index int64) {
	block, ok := a.open[index]
	if !ok {
		return
	}
	delete(a.open, index)

	switch block.kind {
	case blockText:
		if block.messageID != "" {
			a.emit(agui.TextMessageEnd{MessageID: block.messageID, Timestamp: agui.Now()})
		}
	case blockThinking:
		if block.messageID != "" {
			a.emit(agui.ThinkingEnd{MessageID: block.messageID, Timestamp: agui.Now()})
		}
	case blockTool:
		a.emit(agui.ToolCallEnd{ToolCallID: block.toolID, Timestamp: agui.Now()})
	}
}

func (a *Adapter) closeAllBlocks() {
	for index := range a.open {
		a.closeBlock(index)
	}
}

// Finalize closes any still-open blocks and emits exactly one RUN_FINISHED.
// It is idempotent and callable even when the native stream never delivered
// a terminal message.
func (a *Adapter) Finalize() {
	if a.terminal {
		return
	}
	a.terminal = true

	a.closeAllBlocks()
	a.emit(agui.RunFinished{ThreadID: a.threadID, RunID: a.runID, Result: a.text.String(), Timestamp: agui.Now()})
}

// Abort closes any still-open blocks and emits exactly one RUN_ERROR. Like
// Finalize it is idempotent; a turn never sees both terminals.
func (a *Adapter) Abort(code, message string) {
	if a.terminal {
		return
	}
	a.terminal = true

	a.closeAllBlocks()
	a.emit(agui.RunError{Message: message, Code: code, Timestamp: agui.Now()})
}
