// Package anthropic implements the SDK-driven agent engine. It submits turns
// through the Anthropic Messages streaming API and normalizes the SDK's
// callback objects into agui events via the package's Adapter.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/agentbridge/agui"
	"github.com/hupe1980/agentbridge/engine"
	"github.com/hupe1980/agentbridge/logging"
)

// EngineType is the registry key of this engine.
const EngineType = "anthropic"

// DefaultTimeout bounds a turn when the request does not override it.
const DefaultTimeout = 10 * time.Minute

// Profile is the agent configuration a turn starts from. Per-request options
// override profile values.
type Profile struct {
	// SystemPrompt is prepended to every turn.
	SystemPrompt string
	// Model is the default model id.
	Model anthropic.Model
	// MaxTokens caps the response length.
	MaxTokens int64
	// Temperature for sampling.
	Temperature float64
	// AllowedTools is the tool allow-list forwarded to the backend.
	AllowedTools []string
	// PermissionMode is the default permission policy.
	PermissionMode engine.PermissionMode
	// MCPServers names the MCP tool servers wired into the agent. Their
	// configuration is resolved by an external collaborator.
	MCPServers []string
}

// ToolResolver turns allow-listed tool names and MCP server names into
// concrete tool definitions for one turn. Tool and MCP server configuration
// lives outside the engine; this is the narrow interface it is consumed
// through.
type ToolResolver interface {
	ResolveTools(ctx context.Context, tools, servers []string) ([]anthropic.ToolUnionParam, error)
}

// Options configures the Engine.
type Options struct {
	// Profile is the agent configuration.
	Profile Profile
	// ToolResolver resolves the turn's tool selection into definitions.
	// Nil disables tool use.
	ToolResolver ToolResolver
	// APIKey for the Anthropic API. Falls back to the SDK's environment
	// resolution when empty.
	APIKey string
	// BaseURL overrides the API endpoint.
	BaseURL string
	// Timeout bounds a turn. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Resolver manages session continuation. Defaults to in-memory.
	Resolver SessionResolver
	// ProviderBaseURL points model discovery at a locally configured
	// OpenAI-compatible provider (discovery level 3). Empty disables it.
	ProviderBaseURL string
	// ProviderAPIKey authenticates against the local provider.
	ProviderAPIKey string
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Engine is the SDK-backed engine implementation.
type Engine struct {
	client   *anthropic.Client
	opts     Options
	catalog  *engine.Catalog
	resolver SessionResolver
	logger   logging.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

var _ engine.Engine = (*Engine)(nil)

// New creates the SDK-backed engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Profile: Profile{
			Model:       anthropic.ModelClaude3_5Sonnet20241022,
			MaxTokens:   8192,
			Temperature: 0.7,
		},
		Timeout: DefaultTimeout,
		Logger:  logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewInMemoryResolver()
	}

	e := &Engine{
		client:   &client,
		opts:     opts,
		resolver: resolver,
		logger:   opts.Logger,
		active:   make(map[string]context.CancelFunc),
	}
	e.catalog = engine.NewCatalog(e.modelSources(), hardcodedModels, func(o *engine.CatalogOptions) {
		o.Logger = opts.Logger
	})

	return e
}

// Type implements engine.Engine.
func (e *Engine) Type() string { return EngineType }

// Capabilities implements engine.Engine. MCP tool support depends on a
// configured ToolResolver; without one a tool selection cannot be honored.
func (e *Engine) Capabilities() engine.Capabilities {
	return engine.Capabilities{
		Type:              EngineType,
		SupportsImages:    true,
		SupportsResume:    true,
		SupportsMCPTools:  e.opts.ToolResolver != nil,
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

	return len(e.active)
}

// InterruptSession implements engine.Engine. It cancels the in-flight query
// behind the session.
func (e *Engine) InterruptSession(sessionID string) error {
	e.mu.Lock()
	cancel, ok := e.active[sessionID]
	delete(e.active, sessionID)
	e.mu.Unlock()

	if !ok {
		return engine.NotFoundError(sessionID)
	}

	cancel()

	return nil
}

// SendMessage implements engine.Engine. The stream's events are normalized
// through the Adapter; the call blocks until a terminal event, interrupt or
// timeout.
func (e *Engine) SendMessage(ctx context.Context, req engine.Request, onEvent engine.EventFunc) (*engine.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sess, err := e.resolver.Resolve(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("anthropic: resolve session: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.opts.Timeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.track(sess.ID, cancel)
	defer e.untrack(sess.ID)

	adapter := NewAdapter(sess.ID, agui.NewID(), onEvent)
	adapter.Start(req.Message)

	userMsg := buildUserMessage(req)

	params, err := e.buildParams(runCtx, e.mergeConfig(req), append(sess.History(), userMsg))
	if err != nil {
		adapter.Abort(engine.CodeBackendError, err.Error())
		return nil, err
	}

	stream := e.client.Messages.NewStreaming(runCtx, params, requestOptions(req.Env)...)
	defer stream.Close()

	for stream.Next() {
		adapter.HandleEvent(stream.Current())
	}

	if err := stream.Err(); err != nil {
		return nil, e.failTurn(adapter, runCtx, err)
	}

	adapter.Finalize()

	e.resolver.Append(sess.ID, userMsg)
	if text := adapter.Text(); text != "" {
		e.resolver.Append(sess.ID, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
	}

	return &engine.Result{SessionID: sess.ID}, nil
}

// failTurn maps a stream failure onto the error taxonomy. The adapter closes
// open blocks before the terminal RUN_ERROR so consumers never see a stream
// ending mid-block.
func (e *Engine) failTurn(adapter *Adapter, runCtx context.Context, err error) error {
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		adapter.Abort(engine.CodeTimeout, "no terminal message within the configured timeout")
		return fmt.Errorf("%w: %s", engine.ErrTimeout, err)
	case errors.Is(runCtx.Err(), context.Canceled):
		adapter.Abort(engine.CodeInterrupted, "turn interrupted")
		return fmt.Errorf("anthropic: turn interrupted: %w", err)
	default:
		adapter.Abort(engine.CodeBackendError, err.Error())
		return fmt.Errorf("anthropic: stream failed: %w", err)
	}
}

func (e *Engine) track(sessionID string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.active[sessionID] = cancel
}

func (e *Engine) untrack(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.active, sessionID)
}

// turnConfig is the resolved configuration of one turn after the profile and
// the request are merged.
type turnConfig struct {
	model          anthropic.Model
	systemPrompt   string
	maxTokens      int64
	temperature    float64
	permissionMode engine.PermissionMode
	tools          []string
	servers        []string
}

// mergeConfig merges the profile with per-request overrides; request values
// win.
func (e *Engine) mergeConfig(req engine.Request) turnConfig {
	profile := e.opts.Profile

	cfg := turnConfig{
		model:          profile.Model,
		systemPrompt:   profile.SystemPrompt,
		maxTokens:      profile.MaxTokens,
		temperature:    profile.Temperature,
		permissionMode: profile.PermissionMode,
		tools:          profile.AllowedTools,
		servers:        profile.MCPServers,
	}

	if req.Model != "" {
		cfg.model = anthropic.Model(req.Model)
	}
	if req.PermissionMode != "" {
		cfg.permissionMode = req.PermissionMode
	}
	if len(req.MCPTools) > 0 {
		cfg.tools = req.MCPTools
	}

	return cfg
}

// buildParams converts a resolved turn configuration into request params. In
// plan mode no tools are attached, so the model can reason about actions but
// never invoke them.
func (e *Engine) buildParams(ctx context.Context, cfg turnConfig, messages []anthropic.MessageParam) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:       cfg.model,
		Messages:    messages,
		MaxTokens:   cfg.maxTokens,
		Temperature: anthropic.Float(cfg.temperature),
	}

	if cfg.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: cfg.systemPrompt}}
	}

	if cfg.permissionMode == engine.PermissionModePlan {
		return params, nil
	}

	if e.opts.ToolResolver != nil && (len(cfg.tools) > 0 || len(cfg.servers) > 0) {
		tools, err := e.opts.ToolResolver.ResolveTools(ctx, cfg.tools, cfg.servers)
		if err != nil {
			return params, fmt.Errorf("anthropic: resolve tools: %w", err)
		}

		params.Tools = tools
	}

	return params, nil
}

// requestOptions maps recognized environment overrides onto per-request
// client options. The Messages API runs no subprocess, so credential and
// endpoint overrides are the meaningful subset of the environment map.
func requestOptions(env map[string]string) []option.RequestOption {
	var opts []option.RequestOption

	if v := env["ANTHROPIC_API_KEY"]; v != "" {
		opts = append(opts, option.WithAPIKey(v))
	}
	if v := env["ANTHROPIC_BASE_URL"]; v != "" {
		opts = append(opts, option.WithBaseURL(v))
	}

	return opts
}

// buildUserMessage converts the request message plus image attachments into
// a single user message.
func buildUserMessage(req engine.Request) anthropic.MessageParam {
	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.Message)}
	for _, img := range req.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MimeType, img.Data))
	}

	return anthropic.NewUserMessage(blocks...)
}
