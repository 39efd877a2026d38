// Package server is the thin HTTP edge: it wires the engine manager, session
// bus and A2A handler onto a chi router with SSE streaming endpoints. No
// auth, CORS or persistence lives here.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/agentbridge/a2a"
	"github.com/hupe1980/agentbridge/agui"
	"github.com/hupe1980/agentbridge/engine"
	"github.com/hupe1980/agentbridge/logging"
	"github.com/hupe1980/agentbridge/session"
	"github.com/hupe1980/agentbridge/sse"
)

// Options configures the Server.
type Options struct {
	// Bus fans events out to observers. Defaults to a fresh bus.
	Bus *session.Bus
	// Store records per-session event history. Defaults to in-memory.
	Store session.Store
	// DefaultWorkspace is used for A2A requests naming no workspace.
	DefaultWorkspace string
	// HeartbeatInterval for all SSE streams.
	HeartbeatInterval time.Duration
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Server exposes the bridge over HTTP.
type Server struct {
	manager *engine.Manager
	bus     *session.Bus
	store   session.Store
	a2a     *a2a.Handler
	opts    Options
	logger  logging.Logger
}

// New creates a Server around the manager.
func New(manager *engine.Manager, optFns ...func(o *Options)) *Server {
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

	s := &Server{
		manager: manager,
		bus:     opts.Bus,
		store:   opts.Store,
		opts:    opts,
		logger:  opts.Logger,
	}
	s.a2a = a2a.NewHandler(manager, func(o *a2a.HandlerOptions) {
		o.Bus = opts.Bus
		o.DefaultWorkspace = opts.DefaultWorkspace
		o.HeartbeatInterval = opts.HeartbeatInterval
		o.Logger = opts.Logger
	})

	return s
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Route("/v1", func(r chi.Router) {
		r.Post("/agui/stream", s.handleAGUIStream)
		r.Post("/a2a", s.a2a.ServeHTTP)
		r.Get("/sessions/{id}/events", s.handleObserve)
		r.Post("/sessions/{id}/interrupt", s.handleInterrupt)
		r.Get("/models", s.handleModels)
		r.Get("/engines", s.handleEngines)
	})

	return r
}

// streamRequest is the body of POST /v1/agui/stream.
type streamRequest struct {
	engine.Request
	EngineType string `json:"engineType,omitempty"`
	// TimeoutMS bounds the turn in milliseconds.
	TimeoutMS int64 `json:"timeout,omitempty"`
}

// handleAGUIStream runs one turn and streams its agui events to the caller,
// mirroring every event onto the bus and the history store.
func (s *Server) handleAGUIStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.TimeoutMS > 0 {
		req.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	go writer.Heartbeat(r.Context(), s.opts.HeartbeatInterval)

	// Observers of a continued session learn about the injected turn before
	// its events start flowing.
	sessionID := req.SessionID
	if sessionID != "" && s.bus.HasObservers(sessionID) {
		s.bus.Emit(sessionID, agui.Custom{
			Name:      agui.CustomEventUserMessageInjected,
			Data:      map[string]any{"message": req.Message},
			Timestamp: agui.Now(),
		})
	}

	onEvent := func(ev agui.Event) {
		// The canonical session id may only be revealed mid-stream.
		if c, ok := ev.(agui.Custom); ok && c.Name == agui.CustomEventSessionUpdated {
			if id, _ := c.Data["sessionId"].(string); id != "" {
				sessionID = id
			}
		}
		if started, ok := ev.(agui.RunStarted); ok && started.ThreadID != "" {
			sessionID = started.ThreadID
		}

		if sessionID != "" {
			s.bus.Emit(sessionID, ev)
			if err := s.store.Append(sessionID, ev); err != nil {
				s.logger.Warn("history append failed", "session_id", sessionID, "error", err)
			}
		}

		payload, err := agui.Marshal(ev)
		if err != nil {
			s.logger.Error("event marshal failed", "type", string(ev.Type()), "error", err)
			return
		}
		// A broken client connection is local to this stream; the turn and
		// the bus observers continue.
		if err := writer.SendRaw(string(ev.Type()), payload); err != nil {
			s.logger.Debug("stream write failed", "session_id", sessionID, "error", err)
		}
	}

	if _, err := s.manager.SendMessage(r.Context(), req.EngineType, req.Request, onEvent); err != nil {
		s.logger.Error("turn failed", "engine", req.EngineType, "error", err)
	}
}

// handleObserve attaches the caller to a session's live event stream. No
// replay: only events emitted after subscription are delivered.
func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	observerID := r.URL.Query().Get("observerId")
	if observerID == "" {
		observerID = agui.NewID()
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	unsubscribe := s.bus.Subscribe(sessionID, observerID, func(ev agui.Event) {
		payload, err := agui.Marshal(ev)
		if err != nil {
			return
		}
		_ = writer.SendRaw(string(ev.Type()), payload)
	})
	defer unsubscribe()

	s.logger.Info("observer attached", "session_id", sessionID, "observer_id", observerID)

	// Detaching this observer must not cancel the backend turn; other
	// observers may still be watching.
	writer.Heartbeat(r.Context(), s.opts.HeartbeatInterval)
}

type interruptRequest struct {
	EngineType string `json:"engineType,omitempty"`
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req interruptRequest
	if r.Body != nil {
		// Body is optional; the default engine is used when absent.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := s.manager.InterruptSession(req.EngineType, sessionID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"models": s.manager.AllModels(r.Context())})
}

func (s *Server) handleEngines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"engines":        s.manager.AllCapabilities(),
		"default":        s.manager.Default(),
		"activeSessions": s.manager.TotalActiveSessions(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(v)
}
