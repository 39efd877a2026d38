// Package agentbridge provides a high-level façade over the engine, session
// and protocol packages, enabling a single client to talk to interchangeable
// AI-agent backends through one standardized event stream. Most applications
// interact with this package by:
//  1. Creating a Bridge via New(), registering one or more engines
//  2. Sending messages through SendMessage (events arrive via callback)
//  3. Optionally serving the HTTP edge returned by Handler()
//
// The façade delegates turn execution to the engine.Manager while keeping
// setup ergonomics concise. All defaults are safe for local development;
// production deployments typically supply a durable session store and a
// structured logger.
package agentbridge

import (
	"context"
	"net/http"
	"time"

	"github.com/hupe1980/agentbridge/agui"
	"github.com/hupe1980/agentbridge/engine"
	"github.com/hupe1980/agentbridge/logging"
	"github.com/hupe1980/agentbridge/server"
	"github.com/hupe1980/agentbridge/session"
	"github.com/hupe1980/agentbridge/sse"
)

// Options configures the Bridge instance.
type Options struct {
	// Engines are registered in order; the first becomes the default unless
	// DefaultEngine overrides it.
	Engines []engine.Engine
	// DefaultEngine selects the default engine type.
	DefaultEngine string

	// Bus fans session events out to observers. Defaults to a fresh bus.
	Bus *session.Bus
	// Store records per-session event history (defaults to in-memory).
	Store session.Store

	// DefaultWorkspace is used by the A2A surface when a request names no
	// workspace.
	DefaultWorkspace string
	// HeartbeatInterval for the HTTP edge's SSE streams.
	HeartbeatInterval time.Duration

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Bridge is the high-level façade aggregating the engine manager, session
// bus and HTTP edge.
type Bridge struct {
	opts    Options
	manager *engine.Manager
	bus     *session.Bus
	store   session.Store
	server  *server.Server
}

// New creates a new Bridge with optional overrides. Any unset collaborator
// is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) (*Bridge, error) {
	opts := Options{
		HeartbeatInterval: sse.DefaultHeartbeatInterval,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Bus == nil {
		opts.Bus = session.NewBus(func(o *session.BusOptions) { o.Logger = opts.Logger })
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}

	manager := engine.NewManager(func(o *engine.ManagerOptions) {
		o.Logger = opts.Logger
	})

	for _, e := range opts.Engines {
		manager.Register(e)
	}

	if opts.DefaultEngine != "" {
		if err := manager.SetDefault(opts.DefaultEngine); err != nil {
			return nil, err
		}
	}

	b := &Bridge{
		opts:    opts,
		manager: manager,
		bus:     opts.Bus,
		store:   opts.Store,
	}
	b.server = server.New(manager, func(o *server.Options) {
		o.Bus = opts.Bus
		o.Store = opts.Store
		o.DefaultWorkspace = opts.DefaultWorkspace
		o.HeartbeatInterval = opts.HeartbeatInterval
		o.Logger = opts.Logger
	})

	return b, nil
}

// Manager returns the engine registry for direct use.
func (b *Bridge) Manager() *engine.Manager { return b.manager }

// Bus returns the session event bus.
func (b *Bridge) Bus() *session.Bus { return b.bus }

// Store returns the session history store.
func (b *Bridge) Store() session.Store { return b.store }

// Handler returns the HTTP edge (AGUI SSE, A2A JSON-RPC, observer streams).
func (b *Bridge) Handler() http.Handler { return b.server.Handler() }

// SendMessage runs one turn on the named engine (empty selects the default),
// mirroring every event onto the bus and history store so observers can
// follow along. It blocks until the turn terminates.
func (b *Bridge) SendMessage(ctx context.Context, engineType string, req engine.Request, onEvent engine.EventFunc) (*engine.Result, error) {
	sessionID := req.SessionID

	wrapped := func(ev agui.Event) {
		if started, ok := ev.(agui.RunStarted); ok && started.ThreadID != "" {
			sessionID = started.ThreadID
		}
		if c, ok := ev.(agui.Custom); ok && c.Name == agui.CustomEventSessionUpdated {
			if id, _ := c.Data["sessionId"].(string); id != "" {
				sessionID = id
			}
		}

		if sessionID != "" {
			b.bus.Emit(sessionID, ev)
			_ = b.store.Append(sessionID, ev)
		}

		if onEvent != nil {
			onEvent(ev)
		}
	}

	return b.manager.SendMessage(ctx, engineType, req, wrapped)
}

// InterruptSession terminates the backend turn behind the session.
func (b *Bridge) InterruptSession(engineType, sessionID string) error {
	return b.manager.InterruptSession(engineType, sessionID)
}
