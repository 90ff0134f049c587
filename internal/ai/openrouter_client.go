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

var ErrOpenRouterUnavailable = fmt.Errorf("openrouter api key not configured: %w", ErrBackendUnavailable)

type OpenRouterClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	SiteURL    string
	AppName    string
}

// OpenRouterClient serves the cloud destination. Catalog fallbacks travel as
// the models list so OpenRouter can switch upstream providers itself, and
// usage accounting is always requested so the billed cost comes back with
// the answer.
type OpenRouterClient struct {
	apiKey     string
	endpoint   string
	timeout    time.Duration
	retry      retryPolicy
	httpClient *http.Client
	headers    http.Header
}

var _ TextGenerator = (*OpenRouterClient)(nil)

func NewOpenRouterClient(config OpenRouterClientConfig) *OpenRouterClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://openrouter.ai/api/v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 2
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	if site := strings.TrimSpace(config.SiteURL); site != "" {
		headers.Set("HTTP-Referer", site)
	}
	headers.Set("X-Title", providerFirstNonEmpty(config.AppName, "Content Router"))

	return &OpenRouterClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		endpoint:   strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/") + "/chat/completions",
		timeout:    config.Timeout,
		retry:      retryPolicy{maxRetries: config.MaxRetries, step: 350 * time.Millisecond},
		httpClient: config.HTTPClient,
		headers:    headers,
	}
}

func (c *OpenRouterClient) Available() bool {
	return c.apiKey != ""
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterUsageOption struct {
	Include bool `json:"include"`
}

type openRouterRequest struct {
	Model       string                `json:"model"`
	Models      []string              `json:"models,omitempty"`
	Messages    []openRouterMessage   `json:"messages"`
	Temperature float64               `json:"temperature"`
	MaxTokens   int                   `json:"max_tokens,omitempty"`
	Usage       openRouterUsageOption `json:"usage"`
}

type openRouterPromptDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

type openRouterCompletionDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}

type openRouterUsage struct {
	PromptTokens            int                         `json:"prompt_tokens"`
	CompletionTokens        int                         `json:"completion_tokens"`
	TotalTokens             int                         `json:"total_tokens"`
	Cost                    float64                     `json:"cost"`
	PromptTokensDetails     openRouterPromptDetails     `json:"prompt_tokens_details"`
	CompletionTokensDetails openRouterCompletionDetails `json:"completion_tokens_details"`
}

func (u openRouterUsage) tokenUsage() TokenUsage {
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return TokenUsage{
		InputTokens:     u.PromptTokens,
		OutputTokens:    u.CompletionTokens,
		TotalTokens:     total,
		CachedTokens:    u.PromptTokensDetails.CachedTokens,
		ReasoningTokens: u.CompletionTokensDetails.ReasoningTokens,
		Cost:            u.Cost,
	}
}

type openRouterMessageContent struct {
	Content json.RawMessage `json:"content"`
}

type openRouterChoice struct {
	Message openRouterMessageContent `json:"message"`
}

type openRouterError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type openRouterResponse struct {
	Model   string             `json:"model"`
	Choices []openRouterChoice `json:"choices"`
	Usage   openRouterUsage    `json:"usage"`
	Error   *openRouterError   `json:"error,omitempty"`
}

func (c *OpenRouterClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, ErrOpenRouterUnavailable
	}
	if strings.TrimSpace(request.Model) == "" {
		return GenerateResult{}, errors.New("model is required")
	}
	if strings.TrimSpace(request.Input) == "" {
		return GenerateResult{}, errors.New("input is required")
	}

	payload := openRouterRequest{
		Model:       request.Model,
		Models:      fallbackChain(request.Model, request.FallbackModels),
		Temperature: request.Temperature,
		MaxTokens:   request.MaxOutputTokens,
		Usage:       openRouterUsageOption{Include: true},
	}
	if instructions := strings.TrimSpace(request.Instructions); instructions != "" {
		payload.Messages = append(payload.Messages, openRouterMessage{Role: "system", Content: instructions})
	}
	payload.Messages = append(payload.Messages, openRouterMessage{Role: "user", Content: request.Input})

	body, err := json.Marshal(payload)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("marshal openrouter payload: %w", err)
	}

	return c.retry.do(ctx, func(ctx context.Context) (GenerateResult, error) {
		return c.complete(ctx, body, request.Model)
	})
}

func (c *OpenRouterClient) complete(ctx context.Context, body []byte, requestedModel string) (GenerateResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return GenerateResult{}, fmt.Errorf("create openrouter request: %w", err)
	}
	httpRequest.Header = c.headers.Clone()
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return GenerateResult{}, fmt.Errorf("openrouter timeout: %w", err)
		}
		return GenerateResult{}, fmt.Errorf("openrouter transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	respBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("read openrouter body: %w", err)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return GenerateResult{}, &providerHTTPError{
			Provider:   "openrouter",
			StatusCode: httpResponse.StatusCode,
			Message:    truncateBody(respBody),
		}
	}

	var decoded openRouterResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return GenerateResult{}, fmt.Errorf("decode openrouter response: %w", err)
	}
	// Upstream provider failures can arrive inside a 200 body.
	if decoded.Error != nil {
		status := decoded.Error.Code
		if status == 0 {
			status = http.StatusBadGateway
		}
		return GenerateResult{}, &providerHTTPError{Provider: "openrouter", StatusCode: status, Message: decoded.Error.Message}
	}
	if len(decoded.Choices) == 0 {
		return GenerateResult{}, errors.New("openrouter response without choices")
	}

	text := messageText(decoded.Choices[0].Message.Content)
	if text == "" {
		return GenerateResult{}, errors.New("openrouter response without text output")
	}

	return GenerateResult{
		Text:    text,
		ModelID: providerFirstNonEmpty(decoded.Model, requestedModel),
		Usage:   decoded.Usage.tokenUsage(),
	}, nil
}

// fallbackChain lists the primary model first followed by distinct
// fallbacks. It is nil when there is nothing to fall back to.
func fallbackChain(primary string, fallbacks []string) []string {
	seen := map[string]struct{}{primary: {}}
	chain := []string{primary}
	for _, model := range fallbacks {
		model = strings.TrimSpace(model)
		if model == "" {
			continue
		}
		if _, dup := seen[model]; dup {
			continue
		}
		seen[model] = struct{}{}
		chain = append(chain, model)
	}
	if len(chain) == 1 {
		return nil
	}
	return chain
}

// messageText accepts a plain string or a list of typed content parts.
func messageText(raw json.RawMessage) string {
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return strings.TrimSpace(plain)
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	fragments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.Type != "" && part.Type != "text" {
			continue
		}
		if text := strings.TrimSpace(part.Text); text != "" {
			fragments = append(fragments, text)
		}
	}
	return strings.Join(fragments, "\n")
}
