package anthropic

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentbridge/engine"
)

// modelsEndpoint is the REST fallback (discovery level 2) used when the SDK
// path is unavailable.
const modelsEndpoint = "https://api.anthropic.com/v1/models"

// hardcodedModels is the last-resort list (discovery level 4). Never cached,
// so richer sources are re-attempted on every call.
var hardcodedModels = []engine.ModelInfo{
	{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", Provider: "anthropic"},
	{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", Provider: "anthropic"},
	{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", Provider: "anthropic"},
	{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", Provider: "anthropic"},
}

// modelSources assembles the cascading discovery chain: live SDK listing,
// REST endpoint, locally configured OpenAI-compatible provider.
func (e *Engine) modelSources() []engine.ModelSource {
	sources := []engine.ModelSource{
		{Name: "sdk", Fetch: e.fetchSDKModels},
		{Name: "rest", Fetch: e.fetchRESTModels},
	}

	if e.opts.ProviderBaseURL != "" {
		sources = append(sources, engine.ModelSource{Name: "provider", Fetch: e.fetchProviderModels})
	}

	return sources
}

// fetchSDKModels queries the live backend for its authoritative model list.
func (e *Engine) fetchSDKModels(ctx context.Context) ([]engine.ModelInfo, error) {
	page, err := e.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("anthropic: list models: %w", err)
	}

	models := make([]engine.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, engine.ModelInfo{ID: m.ID, Name: m.DisplayName, Provider: "anthropic"})
	}

	return models, nil
}

// fetchRESTModels hits the public models endpoint directly, for environments
// where the SDK client is not fully wired.
func (e *Engine) fetchRESTModels(ctx context.Context) ([]engine.ModelInfo, error) {
	endpoint := modelsEndpoint
	if e.opts.BaseURL != "" {
		endpoint = e.opts.BaseURL + "/v1/models"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("anthropic-version", "2023-06-01")
	if e.opts.APIKey != "" {
		req.Header.Set("x-api-key", e.opts.APIKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic: models endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var models []engine.ModelInfo
	for _, item := range gjson.GetBytes(body, "data").Array() {
		models = append(models, engine.ModelInfo{
			ID:       item.Get("id").String(),
			Name:     item.Get("display_name").String(),
			Provider: "anthropic",
		})
	}

	return models, nil
}

// fetchProviderModels lists models from a locally configured
// OpenAI-compatible provider (discovery level 3).
func (e *Engine) fetchProviderModels(ctx context.Context) ([]engine.ModelInfo, error) {
	clientOpts := []option.RequestOption{option.WithBaseURL(e.opts.ProviderBaseURL)}
	if e.opts.ProviderAPIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(e.opts.ProviderAPIKey))
	}

	client := openai.NewClient(clientOpts...)

	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("anthropic: provider models: %w", err)
	}

	models := make([]engine.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, engine.ModelInfo{ID: m.ID, Provider: "openai-compatible"})
	}

	return models, nil
}
