// Package cli implements the subprocess-driven agent engine. Each turn spawns
// the vendor's coding-agent CLI in streaming JSON mode, feeds the message on
// stdin and normalizes the stdout line protocol into agui events via the
// package's Adapter.
package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/hupe1980/agentbridge/agui"
	"github.com/hupe1980/agentbridge/engine"
	"github.com/hupe1980/agentbridge/logging"
)

// EngineType is the registry key of this engine.
const EngineType = "cli"

const (
	// DefaultTimeout bounds a turn when the request does not override it.
	DefaultTimeout = 10 * time.Minute
	// DefaultMaxSessionAge is how long an idle subprocess session may live
	// before the sweeper reclaims it.
	DefaultMaxSessionAge = 30 * time.Minute
	// DefaultSweepInterval is how often the sweeper runs.
	DefaultSweepInterval = time.Minute

	// maxLineSize caps a single stdout line. Tool results can be large.
	maxLineSize = 4 << 20
)

// defaultCandidates are well-known install locations probed before falling
// back to PATH lookup.
func defaultCandidates() []string {
	home, _ := os.UserHomeDir()

	return []string{
		filepath.Join(home, ".claude", "local", "claude"),
		filepath.Join(home, ".local", "bin", "claude"),
		"/usr/local/bin/claude",
		"/opt/homebrew/bin/claude",
	}
}

// Options configures the Engine.
type Options struct {
	// Command is the executable name resolved on PATH when no candidate
	// path exists. Defaults to "claude".
	Command string
	// CandidatePaths are probed in order before PATH lookup. Defaults to
	// the vendor's known install locations.
	CandidatePaths []string
	// ExtraArgs are appended to every invocation.
	ExtraArgs []string
	// Env is merged over the inherited environment for spawned processes.
	Env map[string]string
	// Timeout bounds a turn. Defaults to DefaultTimeout.
	Timeout time.Duration
	// MaxSessionAge bounds subprocess session lifetime. Defaults to
	// DefaultMaxSessionAge.
	MaxSessionAge time.Duration
	// SweepInterval is the reclaim cadence. Zero disables the sweeper.
	SweepInterval time.Duration
	// APIKey authenticates REST model discovery. Falls back to
	// ANTHROPIC_API_KEY when empty.
	APIKey string
	// Logger defaults to NoOp.
	Logger logging.Logger
}

type cliSession struct {
	id        string
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	workspace string
	startedAt time.Time
}

// Engine is the subprocess-backed engine implementation.
type Engine struct {
	opts    Options
	logger  logging.Logger
	catalog *engine.Catalog

	execOnce sync.Once
	execPath string
	execErr  error

	mu       sync.Mutex
	sessions map[string]*cliSession

	done      chan struct{}
	closeOnce sync.Once
	sweepWG   sync.WaitGroup
}

var _ engine.Engine = (*Engine)(nil)

// New creates the subprocess-backed engine and starts the session sweeper.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Command:       "claude",
		Timeout:       DefaultTimeout,
		MaxSessionAge: DefaultMaxSessionAge,
		SweepInterval: DefaultSweepInterval,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.CandidatePaths == nil {
		opts.CandidatePaths = defaultCandidates()
	}

	e := &Engine{
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*cliSession),
		done:     make(chan struct{}),
	}
	e.catalog = engine.NewCatalog(e.modelSources(), hardcodedModels, func(o *engine.CatalogOptions) {
		o.Logger = opts.Logger
	})

	if opts.SweepInterval > 0 {
		e.sweepWG.Add(1)
		go e.sweepLoop()
	}

	return e
}

// Close stops the session sweeper and kills any remaining subprocesses.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	e.sweepWG.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	for id, s := range e.sessions {
		killProcess(s.cmd)
		delete(e.sessions, id)
	}

	return nil
}

// Type implements engine.Engine.
func (e *Engine) Type() string { return EngineType }

// Capabilities implements engine.Engine. The stdin protocol is text only, so
// image attachments are not supported.
func (e *Engine) Capabilities() engine.Capabilities {
	return engine.Capabilities{
		Type:              EngineType,
		SupportsImages:    false,
		SupportsResume:    true,
		SupportsMCPTools:  true,
		SupportsEnv:       true,
		SupportsInterrupt: true,
	}
}

// SupportedModels implements engine.Engine via the cascading catalog.
func (e *Engine) SupportedModels(ctx context.Context) []engine.ModelInfo {
	return e.catalog.Models(ctx)
}

// RefreshModels forces the next SupportedModels call to re-run discovery.
func (e *Engine) RefreshModels() { e.catalog.Refresh() }

// ActiveSessionCount implements engine.Engine.
func (e *Engine) ActiveSessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.sessions)
}

// InterruptSession implements engine.Engine. It kills the subprocess behind
// the session.
func (e *Engine) InterruptSession(sessionID string) error {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	delete(e.sessions, sessionID)
	e.mu.Unlock()

	if !ok {
		return engine.NotFoundError(sessionID)
	}

	e.logger.Info("interrupting session", "session_id", sessionID)

	// Canceling the run context kills the process and lets the turn report
	// INTERRUPTED instead of a generic backend failure.
	if s.cancel != nil {
		s.cancel()
	} else {
		killProcess(s.cmd)
	}

	return nil
}

// executable resolves the CLI binary once: candidate paths first, then PATH.
func (e *Engine) executable() (string, error) {
	e.execOnce.Do(func() {
		for _, candidate := range e.opts.CandidatePaths {
			info, err := os.Stat(candidate)
			if err == nil && !info.IsDir() {
				e.execPath = candidate
				return
			}
		}

		path, err := exec.LookPath(e.opts.Command)
		if err != nil {
			e.execErr = fmt.Errorf("cli: executable %q not found in candidate paths or PATH: %w", e.opts.Command, err)
			return
		}

		e.execPath = path
	})

	return e.execPath, e.execErr
}

// SendMessage implements engine.Engine. The subprocess's stdout lines are
// normalized through the Adapter; the call blocks until the process exits,
// the turn times out or the session is interrupted.
//
// When resuming an existing session fails before producing any output, the
// turn is retried exactly once as a fresh session. The CLI discards session
// state on restarts, so a stale resume id is an expected condition rather
// than an error.
func (e *Engine) SendMessage(ctx context.Context, req engine.Request, onEvent engine.EventFunc) (*engine.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	runID := agui.NewID()

	initialID := req.SessionID
	if initialID == "" {
		initialID = runID
	}

	// The registry key follows the CLI's canonical session id as soon as
	// the init event reveals it.
	currentID := initialID

	wrapped := func(ev agui.Event) {
		if c, ok := ev.(agui.Custom); ok && c.Name == agui.CustomEventSessionUpdated {
			if id, _ := c.Data["sessionId"].(string); id != "" && id != currentID {
				e.rekeySession(currentID, id)
				currentID = id
			}
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}

	adapter := NewAdapter(initialID, runID, wrapped)
	adapter.Start(req.Message)

	path, err := e.executable()
	if err != nil {
		adapter.Abort(engine.CodeSpawnError, err.Error())
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.opts.Timeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resume := req.SessionID != ""

	sawOutput, runErr := e.runOnce(runCtx, cancel, path, req, adapter, &currentID, resume)
	if runErr != nil && resume && !sawOutput && runCtx.Err() == nil {
		e.logger.Warn("resume failed without output, retrying as fresh session",
			"session_id", req.SessionID, "error", runErr)

		_, runErr = e.runOnce(runCtx, cancel, path, req, adapter, &currentID, false)
	}

	if runErr != nil {
		return nil, e.failTurn(adapter, runCtx, runErr)
	}

	adapter.Finalize()

	return &engine.Result{SessionID: adapter.ThreadID()}, nil
}

// runOnce spawns one CLI invocation and pumps its stdout through the
// adapter. It reports whether any stdout line was seen so the caller can
// decide on resume retry.
func (e *Engine) runOnce(ctx context.Context, cancel context.CancelFunc, path string, req engine.Request, adapter *Adapter, currentID *string, resume bool) (bool, error) {
	args := e.buildArgs(req, resume)

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = req.Workspace
	cmd.Stdin = bytes.NewBufferString(req.Message)
	cmd.Env = e.buildEnv(req)
	// Do not let a grandchild holding the stdout pipe block Wait forever
	// after the process itself was killed.
	cmd.WaitDelay = 5 * time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return false, fmt.Errorf("cli: stdout pipe: %w", err)
	}

	e.logger.Debug("spawning cli", "path", path, "args", args, "workspace", req.Workspace)

	if err := cmd.Start(); err != nil {
		return false, &spawnError{err: err}
	}

	e.registerSession(*currentID, cmd, cancel, req.Workspace)
	defer e.unregisterCmd(cmd)

	sawOutput := false

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) > 0 {
			sawOutput = true
		}
		adapter.HandleLine(line)
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		return sawOutput, fmt.Errorf("cli: process exited: %w (stderr: %s)", err, truncate(stderr.String(), 512))
	}

	if scanErr != nil {
		return sawOutput, fmt.Errorf("cli: read stdout: %w", scanErr)
	}

	return sawOutput, nil
}

// spawnError marks failures to start the process, distinct from failures of
// a running process.
type spawnError struct{ err error }

func (e *spawnError) Error() string { return fmt.Sprintf("cli: spawn: %v", e.err) }
func (e *spawnError) Unwrap() error { return e.err }

// failTurn maps a process failure onto the error taxonomy. The adapter closes
// open blocks before the terminal RUN_ERROR so consumers never see a stream
// ending mid-block. When the CLI already reported a terminal result line the
// adapter stays untouched; a turn never carries two terminals.
func (e *Engine) failTurn(adapter *Adapter, runCtx context.Context, err error) error {
	var spawn *spawnError

	switch {
	case errors.As(err, &spawn):
		adapter.Abort(engine.CodeSpawnError, err.Error())
		return err
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		adapter.Abort(engine.CodeTimeout, "no terminal message within the configured timeout")
		return fmt.Errorf("%w: %s", engine.ErrTimeout, err)
	case errors.Is(runCtx.Err(), context.Canceled):
		adapter.Abort(engine.CodeInterrupted, "turn interrupted")
		return fmt.Errorf("cli: turn interrupted: %w", err)
	default:
		adapter.Abort(engine.CodeBackendError, err.Error())
		return err
	}
}

// buildArgs assembles the streaming invocation. The message itself travels
// on stdin, never on the command line.
func (e *Engine) buildArgs(req engine.Request, resume bool) []string {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}

	if resume && req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.PermissionMode != "" {
		args = append(args, "--permission-mode", string(req.PermissionMode))
	}
	for _, tool := range req.MCPTools {
		args = append(args, "--allowedTools", tool)
	}

	return append(args, e.opts.ExtraArgs...)
}

// buildEnv merges engine and request environment over the inherited one.
func (e *Engine) buildEnv(req engine.Request) []string {
	env := os.Environ()
	for k, v := range e.opts.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	return env
}

func (e *Engine) registerSession(id string, cmd *exec.Cmd, cancel context.CancelFunc, workspace string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sessions[id] = &cliSession{id: id, cmd: cmd, cancel: cancel, workspace: workspace, startedAt: time.Now()}
}

// rekeySession moves a registry entry under the CLI's canonical session id.
func (e *Engine) rekeySession(oldID, newID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[oldID]
	if !ok {
		return
	}

	delete(e.sessions, oldID)
	s.id = newID
	e.sessions[newID] = s
}

// unregisterCmd removes the entry holding cmd regardless of its current key.
func (e *Engine) unregisterCmd(cmd *exec.Cmd) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, s := range e.sessions {
		if s.cmd == cmd {
			delete(e.sessions, id)
			return
		}
	}
}

func (e *Engine) sweepLoop() {
	defer e.sweepWG.Done()

	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.sweep(time.Now())
		}
	}
}

// sweep reclaims sessions older than MaxSessionAge.
func (e *Engine) sweep(now time.Time) {
	e.mu.Lock()
	var expired []*cliSession
	for id, s := range e.sessions {
		if now.Sub(s.startedAt) > e.opts.MaxSessionAge {
			expired = append(expired, s)
			delete(e.sessions, id)
		}
	}
	e.mu.Unlock()

	for _, s := range expired {
		e.logger.Warn("reclaiming expired session", "session_id", s.id, "age", now.Sub(s.startedAt).String())
		killProcess(s.cmd)
	}
}

func killProcess(cmd *exec.Cmd) {
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
