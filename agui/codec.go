package agui

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ParseError reports a payload that does not match any event variant. It is
// raised at the vendor-adapter boundary; downstream consumers never see
// unclassified payloads.
type ParseError struct {
	Reason string
	Data   []byte
}

// Error implements the error interface.
func (e *ParseError) Error() string { return fmt.Sprintf("agui: parse error: %s", e.Reason) }

// Marshal serializes an event into its wire form, injecting the type
// discriminator alongside the payload fields.
func Marshal(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("agui: marshal %s: %w", e.Type(), err)
	}

	return sjson.SetBytes(b, "type", string(e.Type()))
}

// Parse decodes a wire payload into its concrete event type. Payloads with a
// missing or unknown discriminator yield a *ParseError.
func Parse(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ParseError{Reason: "invalid json", Data: data}
	}

	t := gjson.GetBytes(data, "type")
	if !t.Exists() {
		return nil, &ParseError{Reason: "missing type discriminator", Data: data}
	}

	var (
		ev  Event
		err error
	)

	switch EventType(t.String()) {
	case EventTypeRunStarted:
		ev, err = decode[RunStarted](data)
	case EventTypeRunFinished:
		ev, err = decode[RunFinished](data)
	case EventTypeRunError:
		ev, err = decode[RunError](data)
	case EventTypeTextMessageStart:
		ev, err = decode[TextMessageStart](data)
	case EventTypeTextMessageContent:
		ev, err = decode[TextMessageContent](data)
	case EventTypeTextMessageEnd:
		ev, err = decode[TextMessageEnd](data)
	case EventTypeThinkingStart:
		ev, err = decode[ThinkingStart](data)
	case EventTypeThinkingContent:
		ev, err = decode[ThinkingContent](data)
	case EventTypeThinkingEnd:
		ev, err = decode[ThinkingEnd](data)
	case EventTypeToolCallStart:
		ev, err = decode[ToolCallStart](data)
	case EventTypeToolCallArgs:
		ev, err = decode[ToolCallArgs](data)
	case EventTypeToolCallEnd:
		ev, err = decode[ToolCallEnd](data)
	case EventTypeToolCallResult:
		ev, err = decode[ToolCallResult](data)
	case EventTypeRaw:
		ev, err = decode[Raw](data)
	case EventTypeCustom:
		ev, err = decode[Custom](data)
	default:
		return nil, &ParseError{Reason: fmt.Sprintf("unknown type %q", t.String()), Data: data}
	}

	if err != nil {
		return nil, &ParseError{Reason: err.Error(), Data: data}
	}

	return ev, nil
}

func decode[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}

	return v, nil
}
