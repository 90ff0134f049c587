package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iago/content-router/internal/domain"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ProcessResult is the uniform outcome of one backend call.
type ProcessResult struct {
	Result         string        `json:"result"`
	Model          string        `json:"model"`
	ProcessingTime time.Duration `json:"processing_time"`
	Status         string        `json:"status"`
	EstimatedCost  float64       `json:"estimated_cost"`
	Usage          TokenUsage    `json:"usage"`
}

type DispatcherConfig struct {
	Catalog    Catalog
	Generators map[domain.Destination]TextGenerator
	Timeout    time.Duration
}

// Dispatcher resolves a (destination, model key) pair against the catalog
// and calls the generator registered for that destination.
type Dispatcher struct {
	catalog    Catalog
	generators map[domain.Destination]TextGenerator
	timeout    time.Duration
}

func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Catalog == nil {
		config.Catalog = DefaultCatalog()
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	generators := make(map[domain.Destination]TextGenerator, len(config.Generators))
	for destination, generator := range config.Generators {
		if generator != nil {
			generators[destination] = generator
		}
	}
	return &Dispatcher{
		catalog:    config.Catalog,
		generators: generators,
		timeout:    config.Timeout,
	}
}

func (d *Dispatcher) Catalog() Catalog {
	return d.catalog
}

func (d *Dispatcher) Process(
	ctx context.Context,
	destination domain.Destination,
	modelKey string,
	content string,
	options domain.RouteOptions,
) (ProcessResult, error) {
	spec, ok := d.catalog.Lookup(destination, modelKey)
	if !ok {
		return ProcessResult{Status: StatusFailed}, fmt.Errorf("%w: %s/%s", ErrUnknownModelKey, destination, modelKey)
	}

	generator, ok := d.generators[destination]
	if !ok || !generator.Available() {
		return ProcessResult{Model: spec.Name, Status: StatusFailed}, fmt.Errorf("%w: no %s backend configured", ErrBackendUnavailable, destination)
	}

	request := GenerateRequest{
		Model:           spec.Name,
		FallbackModels:  spec.Fallbacks,
		Instructions:    providerFirstNonEmpty(spec.Instructions, defaultInstructions),
		Input:           content,
		Temperature:     spec.Temperature,
		MaxOutputTokens: spec.MaxTokens,
	}
	if options.MaxTokens > 0 {
		request.MaxOutputTokens = options.MaxTokens
	}
	if options.Temperature != nil {
		request.Temperature = *options.Temperature
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := time.Now()
	generated, err := generator.Generate(callCtx, request)
	elapsed := time.Since(started)
	if err != nil {
		result := ProcessResult{Model: spec.Name, ProcessingTime: elapsed, Status: StatusFailed}
		if errors.Is(err, ErrBackendUnavailable) {
			return result, err
		}
		return result, fmt.Errorf("%w: %s/%s: %w", ErrBackendUnavailable, destination, modelKey, err)
	}

	return ProcessResult{
		Result:         strings.TrimSpace(generated.Text),
		Model:          providerFirstNonEmpty(generated.ModelID, spec.Name),
		ProcessingTime: elapsed,
		Status:         StatusSuccess,
		EstimatedCost:  callCost(spec, content, generated),
		Usage:          generated.Usage,
	}, nil
}

// callCost prefers the provider's billed cost, then reported tokens, then a
// local token estimate.
func callCost(spec ModelSpec, content string, generated GenerateResult) float64 {
	if generated.Usage.Cost > 0 {
		return generated.Usage.Cost
	}
	tokens := generated.Usage.TotalTokens
	if tokens <= 0 {
		tokens = EstimateTokens(content) + EstimateTokens(generated.Text)
	}
	return float64(tokens) * spec.CostPerToken
}
