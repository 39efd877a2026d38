package anthropic

import (
	"context"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentbridge/engine"
)

// recordingResolver captures the tool selection it was asked to resolve.
type recordingResolver struct {
	tools   []string
	servers []string
	calls   int
}

func (r *recordingResolver) ResolveTools(_ context.Context, tools, servers []string) ([]anthropic.ToolUnionParam, error) {
	r.calls++
	r.tools = tools
	r.servers = servers

	schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, name := range tools {
		out[i] = anthropic.ToolUnionParamOfTool(schema, name)
	}

	return out, nil
}

func TestMergeConfigRequestOverridesProfile(t *testing.T) {
	e := New(func(o *Options) {
		o.Profile = Profile{
			Model:          "profile-model",
			SystemPrompt:   "be brief",
			MaxTokens:      1024,
			Temperature:    0.2,
			PermissionMode: engine.PermissionModeAcceptEdits,
			AllowedTools:   []string{"read_file"},
			MCPServers:     []string{"fs"},
		}
	})

	cfg := e.mergeConfig(engine.Request{
		Message:        "hi",
		Workspace:      "/tmp",
		Model:          "request-model",
		PermissionMode: engine.PermissionModeBypass,
		MCPTools:       []string{"write_file", "list_dir"},
	})

	assert.Equal(t, anthropic.Model("request-model"), cfg.model)
	assert.Equal(t, engine.PermissionModeBypass, cfg.permissionMode)
	assert.Equal(t, []string{"write_file", "list_dir"}, cfg.tools)
	// Server wiring comes from the profile; there is no request override.
	assert.Equal(t, []string{"fs"}, cfg.servers)
	assert.Equal(t, "be brief", cfg.systemPrompt)
	assert.Equal(t, int64(1024), cfg.maxTokens)
}

func TestMergeConfigProfileDefaultsApply(t *testing.T) {
	e := New(func(o *Options) {
		o.Profile.AllowedTools = []string{"read_file"}
		o.Profile.PermissionMode = engine.PermissionModePlan
	})

	cfg := e.mergeConfig(engine.Request{Message: "hi", Workspace: "/tmp"})

	assert.Equal(t, e.opts.Profile.Model, cfg.model)
	assert.Equal(t, engine.PermissionModePlan, cfg.permissionMode)
	assert.Equal(t, []string{"read_file"}, cfg.tools)
}

func TestBuildParamsResolvesToolSelection(t *testing.T) {
	resolver := &recordingResolver{}
	e := New(func(o *Options) {
		o.ToolResolver = resolver
		o.Profile.AllowedTools = []string{"read_file", "grep"}
		o.Profile.MCPServers = []string{"fs"}
	})

	params, err := e.buildParams(context.Background(), e.mergeConfig(engine.Request{Message: "hi", Workspace: "/tmp"}), nil)
	require.NoError(t, err)

	require.Len(t, params.Tools, 2)
	assert.Equal(t, []string{"read_file", "grep"}, resolver.tools)
	assert.Equal(t, []string{"fs"}, resolver.servers)
}

func TestBuildParamsPlanModeAttachesNoTools(t *testing.T) {
	resolver := &recordingResolver{}
	e := New(func(o *Options) {
		o.ToolResolver = resolver
		o.Profile.AllowedTools = []string{"read_file"}
	})

	cfg := e.mergeConfig(engine.Request{
		Message:        "hi",
		Workspace:      "/tmp",
		PermissionMode: engine.PermissionModePlan,
	})

	params, err := e.buildParams(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.Empty(t, params.Tools)
	assert.Zero(t, resolver.calls)
}

func TestCapabilitiesReflectToolResolver(t *testing.T) {
	assert.False(t, New().Capabilities().SupportsMCPTools)
	assert.True(t, New(func(o *Options) { o.ToolResolver = &recordingResolver{} }).Capabilities().SupportsMCPTools)
}

func TestRequestOptionsRecognizedEnvOverrides(t *testing.T) {
	opts := requestOptions(map[string]string{
		"ANTHROPIC_API_KEY":  "sk-override",
		"ANTHROPIC_BASE_URL": "http://localhost:9999",
		"UNRELATED":          "ignored",
	})
	assert.Len(t, opts, 2)

	assert.Empty(t, requestOptions(nil))
	assert.Empty(t, requestOptions(map[string]string{"UNRELATED": "x"}))
}
