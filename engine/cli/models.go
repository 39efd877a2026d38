package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentbridge/engine"
)

// modelsEndpoint is the REST discovery source. The CLI has no model-listing
// command, so discovery goes straight to the vendor API.
const modelsEndpoint = "https://api.anthropic.com/v1/models"

// hardcodedModels is the last-resort list, never cached. The short aliases
// are what the CLI's --model flag accepts without a dated id.
var hardcodedModels = []engine.ModelInfo{
	{ID: "sonnet", Name: "Claude Sonnet (latest)", Provider: "anthropic"},
	{ID: "opus", Name: "Claude Opus (latest)", Provider: "anthropic"},
	{ID: "haiku", Name: "Claude Haiku (latest)", Provider: "anthropic"},
	{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", Provider: "anthropic"},
	{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", Provider: "anthropic"},
}

func (e *Engine) modelSources() []engine.ModelSource {
	return []engine.ModelSource{
		{Name: "rest", Fetch: e.fetchRESTModels},
	}
}

func (e *Engine) fetchRESTModels(ctx context.Context) ([]engine.ModelInfo, error) {
	apiKey := e.opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("cli: no api key for model discovery")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, modelsEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("x-api-key", apiKey)

	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cli: models endpoint returned %s", resp.Status)
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
