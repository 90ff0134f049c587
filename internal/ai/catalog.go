package ai

import (
	"sort"

	"github.com/iago/content-router/internal/domain"
)

const defaultInstructions = "Analyze the following content. Summarize the key points and call out anything actionable."

// ModelSpec binds a catalog key to a concrete backend model. Fallbacks are
// alternative model names the provider may switch to on its side.
type ModelSpec struct {
	Name         string   `json:"model" yaml:"model" toml:"model"`
	Fallbacks    []string `json:"fallbacks,omitempty" yaml:"fallbacks" toml:"fallbacks"`
	MaxTokens    int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Temperature  float64  `json:"temperature" yaml:"temperature" toml:"temperature"`
	CostPerToken float64  `json:"cost_per_token" yaml:"cost_per_token" toml:"cost_per_token"`
	Instructions string   `json:"instructions,omitempty" yaml:"instructions" toml:"instructions"`
}

// Catalog maps destination -> model key -> spec.
type Catalog map[domain.Destination]map[string]ModelSpec

func DefaultCatalog() Catalog {
	return Catalog{
		domain.DestinationLocal: {
			"vision":         {Name: "llava:13b", MaxTokens: 1024, Temperature: 0.2},
			"classification": {Name: "phi3:mini", MaxTokens: 256, Temperature: 0.1},
			"reasoning":      {Name: "deepseek-r1:14b", MaxTokens: 4096, Temperature: 0.3},
			"general":        {Name: "llama3.1:8b", MaxTokens: 2048, Temperature: 0.4},
		},
		domain.DestinationCloud: {
			"advanced": {Name: "anthropic/claude-3-opus", Fallbacks: []string{"anthropic/claude-3.5-sonnet"}, MaxTokens: 4096, Temperature: 0.3, CostPerToken: 0.000015},
			"standard": {Name: "anthropic/claude-3.5-sonnet", Fallbacks: []string{"openai/gpt-4o"}, MaxTokens: 4096, Temperature: 0.3, CostPerToken: 0.000003},
			"fast":     {Name: "anthropic/claude-3-haiku", MaxTokens: 2048, Temperature: 0.3, CostPerToken: 0.00000025},
		},
		domain.DestinationWorkflow: {
			"content_pipeline": {Name: "content-pipeline", Temperature: 0.3},
		},
	}
}

func (c Catalog) Lookup(destination domain.Destination, key string) (ModelSpec, bool) {
	models, ok := c[destination]
	if !ok {
		return ModelSpec{}, false
	}
	spec, ok := models[key]
	return spec, ok
}

// Keys lists the model keys of a destination in sorted order.
func (c Catalog) Keys(destination domain.Destination) []string {
	keys := make([]string, 0, len(c[destination]))
	for key := range c[destination] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
