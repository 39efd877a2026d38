package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/agentbridge/logging"
)

// Manager is a registry mapping engine type to engine instance. It routes
// requests to the correct engine, aggregates capability/model/session-count
// queries and owns the process-wide default-engine selection. No protocol
// logic lives here.
type Manager struct {
	mu          sync.RWMutex
	engines     map[string]Engine
	defaultType string
	logger      logging.Logger
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// NewManager constructs an empty engine registry.
func NewManager(optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Manager{
		engines: make(map[string]Engine),
		logger:  opts.Logger,
	}
}

// Register adds an engine under its Type. The first registered engine
// becomes the default. Registering the same type twice replaces the previous
// instance.
func (m *Manager) Register(e Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.engines[e.Type()] = e
	if m.defaultType == "" {
		m.defaultType = e.Type()
	}

	m.logger.Info("engine registered", "engine", e.Type())
}

// Get resolves an engine by type. An empty type resolves to the default
// engine. Unknown types fail with an error listing the available types.
func (m *Manager) Get(engineType string) (Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if engineType == "" {
		engineType = m.defaultType
	}

	e, ok := m.engines[engineType]
	if !ok {
		return nil, fmt.Errorf("engine: engine %q not found (available: %s)", engineType, strings.Join(m.typesLocked(), ", "))
	}

	return e, nil
}

// Has reports whether an engine type is registered.
func (m *Manager) Has(engineType string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.engines[engineType]

	return ok
}

// Types returns the registered engine types, sorted.
func (m *Manager) Types() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.typesLocked()
}

func (m *Manager) typesLocked() []string {
	types := make([]string, 0, len(m.engines))
	for t := range m.engines {
		types = append(types, t)
	}
	sort.Strings(types)

	return types
}

// Default returns the current default engine type.
func (m *Manager) Default() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.defaultType
}

// SetDefault changes the default engine. It fails when the target type is
// not registered.
func (m *Manager) SetDefault(engineType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.engines[engineType]; !ok {
		return fmt.Errorf("engine: cannot set default to unregistered engine %q (available: %s)", engineType, strings.Join(m.typesLocked(), ", "))
	}

	m.defaultType = engineType

	return nil
}

// SendMessage routes a turn to the engine named by engineType (or the
// default when empty).
func (m *Manager) SendMessage(ctx context.Context, engineType string, req Request, onEvent EventFunc) (*Result, error) {
	e, err := m.Get(engineType)
	if err != nil {
		return nil, err
	}

	return e.SendMessage(ctx, req, onEvent)
}

// InterruptSession routes an interrupt to the engine named by engineType.
func (m *Manager) InterruptSession(engineType, sessionID string) error {
	e, err := m.Get(engineType)
	if err != nil {
		return err
	}

	return e.InterruptSession(sessionID)
}

// AllCapabilities aggregates capabilities across registered engines, ordered
// by engine type.
func (m *Manager) AllCapabilities() []Capabilities {
	m.mu.RLock()
	defer m.mu.RUnlock()

	caps := make([]Capabilities, 0, len(m.engines))
	for _, t := range m.typesLocked() {
		caps = append(caps, m.engines[t].Capabilities())
	}

	return caps
}

// AllModels aggregates supported models per engine type.
func (m *Manager) AllModels(ctx context.Context) map[string][]ModelInfo {
	m.mu.RLock()
	engines := make(map[string]Engine, len(m.engines))
	for t, e := range m.engines {
		engines[t] = e
	}
	m.mu.RUnlock()

	models := make(map[string][]ModelInfo, len(engines))
	for t, e := range engines {
		models[t] = e.SupportedModels(ctx)
	}

	return models
}

// TotalActiveSessions sums live sessions across all registered engines.
func (m *Manager) TotalActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, e := range m.engines {
		total += e.ActiveSessionCount()
	}

	return total
}
