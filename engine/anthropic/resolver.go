package anthropic

import (
	"context"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentbridge/agui"
)

// Session is a resolved continuation handle: the canonical session id plus
// the prior transcript to replay into the next query.
type Session struct {
	ID       string
	messages []anthropic.MessageParam
}

// History returns a copy of the transcript.
func (s *Session) History() []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, len(s.messages))
	copy(out, s.messages)

	return out
}

// SessionResolver manages session continuation for the SDK engine. Durable
// implementations live outside this module; the engine only needs resolve
// and append.
type SessionResolver interface {
	// Resolve returns the session behind requestedID, creating a fresh one
	// (with a newly assigned canonical id) when requestedID is empty or
	// unknown.
	Resolve(ctx context.Context, requestedID string) (*Session, error)
	// Append records a message onto the session transcript.
	Append(sessionID string, msg anthropic.MessageParam)
}

// InMemoryResolver is the default volatile SessionResolver.
type InMemoryResolver struct {
	mu       sync.Mutex
	sessions map[string][]anthropic.MessageParam
}

// NewInMemoryResolver constructs an empty resolver.
func NewInMemoryResolver() *InMemoryResolver {
	return &InMemoryResolver{sessions: make(map[string][]anthropic.MessageParam)}
}

// Resolve implements SessionResolver.
func (r *InMemoryResolver) Resolve(_ context.Context, requestedID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := requestedID
	if id == "" {
		id = agui.NewID()
	}

	messages, ok := r.sessions[id]
	if !ok {
		r.sessions[id] = nil
	}

	out := make([]anthropic.MessageParam, len(messages))
	copy(out, messages)

	return &Session{ID: id, messages: out}, nil
}

// Append implements SessionResolver.
func (r *InMemoryResolver) Append(sessionID string, msg anthropic.MessageParam) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sessionID] = append(r.sessions[sessionID], msg)
}
