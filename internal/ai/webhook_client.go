package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type WebhookClientConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// WebhookClient hands content to an external workflow engine. The model name
// from the catalog is the webhook path under BaseURL.
type WebhookClient struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

var _ TextGenerator = (*WebhookClient)(nil)

func NewWebhookClient(config WebhookClientConfig) *WebhookClient {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &WebhookClient{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		token:      strings.TrimSpace(config.Token),
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}
}

func (c *WebhookClient) Available() bool {
	return c.baseURL != ""
}

type webhookRequest struct {
	Workflow     string  `json:"workflow"`
	Instructions string  `json:"instructions,omitempty"`
	Content      string  `json:"content"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

type webhookResponse struct {
	Result any        `json:"result"`
	Output string     `json:"output"`
	Usage  TokenUsage `json:"usage"`
}

func (c *WebhookClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, fmt.Errorf("workflow webhook not configured: %w", ErrBackendUnavailable)
	}
	if strings.TrimSpace(request.Model) == "" {
		return GenerateResult{}, errors.New("workflow name is required")
	}

	body, err := json.Marshal(webhookRequest{
		Workflow:     request.Model,
		Instructions: request.Instructions,
		Content:      request.Input,
		Temperature:  request.Temperature,
		MaxTokens:    request.MaxOutputTokens,
	})
	if err != nil {
		return GenerateResult{}, fmt.Errorf("marshal webhook payload: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/" + url.PathEscape(request.Model)
	httpRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return GenerateResult{}, fmt.Errorf("create webhook request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return GenerateResult{}, fmt.Errorf("webhook timeout: %w", err)
		}
		return GenerateResult{}, fmt.Errorf("webhook transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	respBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("read webhook body: %w", err)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return GenerateResult{}, &providerHTTPError{
			Provider:   "webhook",
			StatusCode: httpResponse.StatusCode,
			Message:    truncateBody(respBody),
		}
	}

	text, usage := decodeWebhookBody(respBody)
	return GenerateResult{
		Text:    text,
		ModelID: request.Model,
		Usage:   usage,
	}, nil
}

// decodeWebhookBody accepts {"result": ...}, {"output": "..."} or any
// other body verbatim.
func decodeWebhookBody(body []byte) (string, TokenUsage) {
	var decoded webhookResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return strings.TrimSpace(string(body)), TokenUsage{}
	}
	if decoded.Output != "" {
		return strings.TrimSpace(decoded.Output), decoded.Usage
	}
	switch typed := decoded.Result.(type) {
	case nil:
	case string:
		return strings.TrimSpace(typed), decoded.Usage
	default:
		if encoded, err := json.Marshal(typed); err == nil {
			return string(encoded), decoded.Usage
		}
	}
	return strings.TrimSpace(string(body)), decoded.Usage
}
