package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OllamaClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// OllamaClient talks to a local Ollama server through the non-streaming
// /api/generate endpoint.
type OllamaClient struct {
	baseURL    string
	timeout    time.Duration
	retry      retryPolicy
	httpClient *http.Client
}

var _ TextGenerator = (*OllamaClient)(nil)

func NewOllamaClient(config OllamaClientConfig) *OllamaClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &OllamaClient{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		timeout:    config.Timeout,
		retry:      retryPolicy{maxRetries: config.MaxRetries, step: time.Second},
		httpClient: config.HTTPClient,
	}
}

func (c *OllamaClient) Available() bool {
	return c.baseURL != ""
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Error           string `json:"error,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (c *OllamaClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if strings.TrimSpace(request.Model) == "" {
		return GenerateResult{}, errors.New("model is required")
	}
	if strings.TrimSpace(request.Input) == "" {
		return GenerateResult{}, errors.New("input is required")
	}

	body, err := json.Marshal(ollamaRequest{
		Model:  request.Model,
		Prompt: request.Input,
		System: strings.TrimSpace(request.Instructions),
		Stream: false,
		Options: ollamaOptions{
			Temperature: request.Temperature,
			NumPredict:  request.MaxOutputTokens,
		},
	})
	if err != nil {
		return GenerateResult{}, fmt.Errorf("marshal ollama request: %w", err)
	}

	result, err := c.retry.do(ctx, func(ctx context.Context) (GenerateResult, error) {
		return c.doRequest(ctx, body, request.Model)
	})
	if err != nil {
		return GenerateResult{}, fmt.Errorf("ollama: %w", err)
	}
	return result, nil
}

func (c *OllamaClient) doRequest(ctx context.Context, body []byte, requestedModel string) (GenerateResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return GenerateResult{}, fmt.Errorf("create ollama request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return GenerateResult{}, fmt.Errorf("ollama timeout: %w", err)
		}
		return GenerateResult{}, fmt.Errorf("ollama transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	respBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("read ollama body: %w", err)
	}
	if httpResponse.StatusCode != http.StatusOK {
		return GenerateResult{}, &providerHTTPError{
			Provider:   "ollama",
			StatusCode: httpResponse.StatusCode,
			Message:    truncateBody(respBody),
		}
	}

	var raw ollamaResponse
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return GenerateResult{}, fmt.Errorf("decode ollama response: %w", err)
	}
	if raw.Error != "" {
		return GenerateResult{}, fmt.Errorf("ollama error: %s", raw.Error)
	}
	if strings.TrimSpace(raw.Response) == "" {
		return GenerateResult{}, errors.New("empty response from ollama")
	}

	return GenerateResult{
		Text:    strings.TrimSpace(raw.Response),
		ModelID: providerFirstNonEmpty(raw.Model, requestedModel),
		Usage: TokenUsage{
			InputTokens:  raw.PromptEvalCount,
			OutputTokens: raw.EvalCount,
			TotalTokens:  raw.PromptEvalCount + raw.EvalCount,
		},
	}, nil
}
