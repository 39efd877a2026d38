package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentbridge/agui"
)

type fakeEngine struct {
	engineType string
	sessions   int
	sent       []Request
	interrupts []string
}

func (f *fakeEngine) Type() string { return f.engineType }

func (f *fakeEngine) SendMessage(_ context.Context, req Request, onEvent EventFunc) (*Result, error) {
	f.sent = append(f.sent, req)
	if onEvent != nil {
		onEvent(agui.RunStarted{ThreadID: "t", RunID: "r"})
		onEvent(agui.RunFinished{ThreadID: "t", RunID: "r"})
	}

	return &Result{SessionID: "canonical-" + f.engineType}, nil
}

func (f *fakeEngine) InterruptSession(sessionID string) error {
	f.interrupts = append(f.interrupts, sessionID)
	if sessionID == "missing" {
		return NotFoundError(sessionID)
	}

	return nil
}

func (f *fakeEngine) SupportedModels(context.Context) []ModelInfo {
	return []ModelInfo{{ID: f.engineType + "-model"}}
}

func (f *fakeEngine) ActiveSessionCount() int { return f.sessions }

func (f *fakeEngine) Capabilities() Capabilities {
	return Capabilities{Type: f.engineType, SupportsResume: true}
}

func TestManagerRegisterAndGet(t *testing.T) {
	m := NewManager()
	sdk := &fakeEngine{engineType: "anthropic"}
	cli := &fakeEngine{engineType: "cli"}

	m.Register(sdk)
	m.Register(cli)

	got, err := m.Get("cli")
	require.NoError(t, err)
	assert.Same(t, cli, got)

	// Empty type resolves to the default (first registered).
	got, err = m.Get("")
	require.NoError(t, err)
	assert.Same(t, sdk, got)

	assert.True(t, m.Has("anthropic"))
	assert.False(t, m.Has("nope"))
}

func TestManagerGetUnknownListsAvailable(t *testing.T) {
	m := NewManager()
	m.Register(&fakeEngine{engineType: "anthropic"})
	m.Register(&fakeEngine{engineType: "cli"})

	_, err := m.Get("gemini")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"gemini" not found`)
	assert.Contains(t, err.Error(), "anthropic, cli")
}

func TestManagerDefaultSelection(t *testing.T) {
	m := NewManager()
	m.Register(&fakeEngine{engineType: "anthropic"})
	m.Register(&fakeEngine{engineType: "cli"})

	assert.Equal(t, "anthropic", m.Default())

	require.NoError(t, m.SetDefault("cli"))
	assert.Equal(t, "cli", m.Default())

	err := m.SetDefault("gemini")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered")
	assert.Equal(t, "cli", m.Default(), "failed SetDefault must not change the default")
}

func TestManagerPassThrough(t *testing.T) {
	m := NewManager()
	cli := &fakeEngine{engineType: "cli"}
	m.Register(cli)

	var events []agui.Event
	res, err := m.SendMessage(context.Background(), "cli", Request{Message: "hi", Workspace: "/w"}, func(ev agui.Event) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	assert.Equal(t, "canonical-cli", res.SessionID)
	assert.Len(t, events, 2)

	require.NoError(t, m.InterruptSession("cli", "s1"))
	assert.Equal(t, []string{"s1"}, cli.interrupts)

	err = m.InterruptSession("cli", "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerAggregation(t *testing.T) {
	m := NewManager()
	m.Register(&fakeEngine{engineType: "cli", sessions: 2})
	m.Register(&fakeEngine{engineType: "anthropic", sessions: 3})

	assert.Equal(t, 5, m.TotalActiveSessions())

	caps := m.AllCapabilities()
	require.Len(t, caps, 2)
	assert.Equal(t, "anthropic", caps[0].Type, "aggregation ordered by type")
	assert.Equal(t, "cli", caps[1].Type)

	models := m.AllModels(context.Background())
	assert.Equal(t, []ModelInfo{{ID: "cli-model"}}, models["cli"])
	assert.Equal(t, []ModelInfo{{ID: "anthropic-model"}}, models["anthropic"])
}

func TestRequestValidate(t *testing.T) {
	assert.ErrorIs(t, Request{}.Validate(), ErrEmptyMessage)
	assert.ErrorIs(t, Request{Message: "hi"}.Validate(), ErrMissingWorkspace)
	assert.NoError(t, Request{Message: "hi", Workspace: "/w"}.Validate())
}
