package agui

import "fmt"

// ValidateSequence checks the lifecycle invariants of an emitted event
// sequence: every content delta falls between a matching Start and End,
// tool results follow their tool call, and at most one terminal event
// (RunFinished or RunError) appears, as the last event.
//
// Adapters guarantee these invariants by construction; the validator exists
// for tests and for defensive checks at trust boundaries.
func ValidateSequence(events []Event) error {
	openMessages := map[string]bool{}
	openThinking := map[string]bool{}
	openTools := map[string]bool{}
	seenTools := map[string]bool{}
	terminal := false

	for i, e := range events {
		if terminal {
			return fmt.Errorf("agui: event %d (%s) follows a terminal event", i, e.Type())
		}

		switch ev := e.(type) {
		case TextMessageStart:
			if openMessages[ev.MessageID] {
				return fmt.Errorf("agui: duplicate TEXT_MESSAGE_START for %s", ev.MessageID)
			}
			openMessages[ev.MessageID] = true
		case TextMessageContent:
			if !openMessages[ev.MessageID] {
				return fmt.Errorf("agui: TEXT_MESSAGE_CONTENT for unopened message %s", ev.MessageID)
			}
		case TextMessageEnd:
			if !openMessages[ev.MessageID] {
				return fmt.Errorf("agui: TEXT_MESSAGE_END without start for %s", ev.MessageID)
			}
			delete(openMessages, ev.MessageID)
		case ThinkingStart:
			openThinking[ev.MessageID] = true
		case ThinkingContent:
			if !openThinking[ev.MessageID] {
				return fmt.Errorf("agui: THINKING_CONTENT for unopened block %s", ev.MessageID)
			}
		case ThinkingEnd:
			if !openThinking[ev.MessageID] {
				return fmt.Errorf("agui: THINKING_END without start for %s", ev.MessageID)
			}
			delete(openThinking, ev.MessageID)
		case ToolCallStart:
			openTools[ev.ToolCallID] = true
			seenTools[ev.ToolCallID] = true
		case ToolCallArgs:
			if !openTools[ev.ToolCallID] {
				return fmt.Errorf("agui: TOOL_CALL_ARGS for unopened call %s", ev.ToolCallID)
			}
		case ToolCallEnd:
			if !openTools[ev.ToolCallID] {
				return fmt.Errorf("agui: TOOL_CALL_END without start for %s", ev.ToolCallID)
			}
			delete(openTools, ev.ToolCallID)
		case ToolCallResult:
			if !seenTools[ev.ToolCallID] {
				return fmt.Errorf("agui: TOOL_CALL_RESULT before start for %s", ev.ToolCallID)
			}
		case RunFinished, RunError:
			if len(openMessages) > 0 || len(openThinking) > 0 || len(openTools) > 0 {
				return fmt.Errorf("agui: terminal event %s with open blocks", e.Type())
			}
			terminal = true
		}
	}

	if !terminal {
		return fmt.Errorf("agui: sequence has no terminal event")
	}

	return nil
}
