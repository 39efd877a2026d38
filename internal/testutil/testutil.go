// Package testutil provides shared helpers for tests: an event collector
// standing in for delivery callbacks and a fluent builder for agui event
// sequences.
package testutil

import (
	"sync"

	"github.com/hupe1980/agentbridge/agui"
)

// Collector records every event passed to its callback. Safe for concurrent
// use so it can stand in for bus observers.
type Collector struct {
	mu     sync.Mutex
	events []agui.Event
}

// NewCollector creates an empty collector.
func NewCollector() *Collector { return &Collector{} }

// Callback returns the recording function.
func (c *Collector) Callback() func(agui.Event) {
	return func(ev agui.Event) {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.events = append(c.events, ev)
	}
}

// Events returns a copy of the recorded events in arrival order.
func (c *Collector) Events() []agui.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]agui.Event, len(c.events))
	copy(out, c.events)

	return out
}

// Types returns the recorded event types in arrival order.
func (c *Collector) Types() []agui.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]agui.EventType, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type()
	}

	return out
}

// Text concatenates all recorded TextMessageContent deltas.
func (c *Collector) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out string
	for _, ev := range c.events {
		if content, ok := ev.(agui.TextMessageContent); ok {
			out += content.Delta
		}
	}

	return out
}

// Len returns the number of recorded events.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.events)
}

// StreamBuilder assembles agui event sequences for tests. Example:
//
//	events := NewStreamBuilder("sess-1", "run-1").
//		Started("hello").
//		Text("m1", "Hi", " there").
//		Finished("Hi there").
//		Build()
//
// Chain only the parts you need; timestamps are applied automatically.
type StreamBuilder struct {
	threadID string
	runID    string
	events   []agui.Event
}

// NewStreamBuilder creates a builder bound to one thread and run.
func NewStreamBuilder(threadID, runID string) *StreamBuilder {
	return &StreamBuilder{threadID: threadID, runID: runID}
}

// Started appends a RUN_STARTED event (chainable).
func (b *StreamBuilder) Started(input string) *StreamBuilder {
	b.events = append(b.events, agui.RunStarted{ThreadID: b.threadID, RunID: b.runID, Input: input, Timestamp: agui.Now()})
	return b
}

// Text appends a full message lifecycle: start, one content event per delta,
// end (chainable).
func (b *StreamBuilder) Text(messageID string, deltas ...string) *StreamBuilder {
	b.events = append(b.events, agui.TextMessageStart{MessageID: messageID, Role: "assistant", Timestamp: agui.Now()})
	for _, delta := range deltas {
		b.events = append(b.events, agui.TextMessageContent{MessageID: messageID, Delta: delta, Timestamp: agui.Now()})
	}
	b.events = append(b.events, agui.TextMessageEnd{MessageID: messageID, Timestamp: agui.Now()})

	return b
}

// ToolCall appends a full tool-call lifecycle including its result (chainable).
func (b *StreamBuilder) ToolCall(id, name, args, result string, isError bool) *StreamBuilder {
	b.events = append(b.events,
		agui.ToolCallStart{ToolCallID: id, ToolName: name, Timestamp: agui.Now()},
		agui.ToolCallArgs{ToolCallID: id, Delta: args, Timestamp: agui.Now()},
		agui.ToolCallEnd{ToolCallID: id, Timestamp: agui.Now()},
		agui.ToolCallResult{ToolCallID: id, Result: result, IsError: isError, Timestamp: agui.Now()},
	)

	return b
}

// Finished appends a RUN_FINISHED terminal (chainable).
func (b *StreamBuilder) Finished(result string) *StreamBuilder {
	b.events = append(b.events, agui.RunFinished{ThreadID: b.threadID, RunID: b.runID, Result: result, Timestamp: agui.Now()})
	return b
}

// Errored appends a RUN_ERROR terminal (chainable).
func (b *StreamBuilder) Errored(code, message string) *StreamBuilder {
	b.events = append(b.events, agui.RunError{Message: message, Code: code, Timestamp: agui.Now()})
	return b
}

// Build returns the assembled sequence.
func (b *StreamBuilder) Build() []agui.Event {
	out := make([]agui.Event, len(b.events))
	copy(out, b.events)

	return out
}
