package sse

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterFraming(t *testing.T) {
	rec := httptest.NewRecorder()

	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Send("TEXT_MESSAGE_CONTENT", map[string]string{"delta": "Hi"}))
	require.NoError(t, w.Comment("heartbeat"))
	require.NoError(t, w.SendRaw("RUN_FINISHED", []byte(`{"runId":"r1"}`)))

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "event: TEXT_MESSAGE_CONTENT\ndata: {\"delta\":\"Hi\"}\n\n")
	assert.Contains(t, body, ": heartbeat\n\n")
	assert.Contains(t, body, "event: RUN_FINISHED\ndata: {\"runId\":\"r1\"}\n\n")
}

func TestHeartbeatStopsOnCancel(t *testing.T) {
	rec := httptest.NewRecorder()

	w, err := NewWriter(rec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Heartbeat(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat goroutine did not stop")
	}

	assert.Contains(t, rec.Body.String(), ": heartbeat")
}
