// Package sse implements the Server-Sent Events framing used by the
// streaming endpoints. Each event is written as
//
//	event: <TYPE>
//	data: <json>
//
// followed by a blank line, and periodic ": heartbeat" comment lines keep
// long-lived connections alive through intermediaries. Heartbeats exist
// solely to detect half-open connections; engines and adapters are
// indifferent to their cadence.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is the cadence of ": heartbeat" comments on
// long-lived streams.
const DefaultHeartbeatInterval = 15 * time.Second

// ErrStreamingUnsupported is returned when the underlying ResponseWriter
// cannot flush incrementally.
var ErrStreamingUnsupported = fmt.Errorf("sse: response writer does not support streaming")

// Writer serializes events onto a long-lived HTTP response. It is safe for
// concurrent use so a heartbeat goroutine can interleave with event writes.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares an SSE response: sets the content-type headers and
// verifies the writer supports flushing.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one framed event. data is JSON-encoded unless it is already a
// json.RawMessage or []byte containing JSON.
func (w *Writer) Send(event string, data any) error {
	payload, err := encode(data)
	if err != nil {
		return fmt.Errorf("sse: encode event %q: %w", event, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	w.flusher.Flush()

	return nil
}

// SendRaw writes a pre-serialized payload under the given event name.
func (w *Writer) SendRaw(event string, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	w.flusher.Flush()

	return nil
}

// Comment writes a comment line, used for heartbeats.
func (w *Writer) Comment(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.w, ": %s\n\n", text); err != nil {
		return err
	}
	w.flusher.Flush()

	return nil
}

// Heartbeat emits ": heartbeat" comments on the given interval until the
// context is canceled or a write fails. It blocks; run it on its own
// goroutine.
func (w *Writer) Heartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Comment("heartbeat"); err != nil {
				return
			}
		}
	}
}

func encode(data any) ([]byte, error) {
	switch v := data.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
