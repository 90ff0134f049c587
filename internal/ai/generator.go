package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrUnknownModelKey    = errors.New("unknown model key")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// TokenUsage is what a provider reports for one call. Cost is only set by
// providers that bill per request and say so in the response.
type TokenUsage struct {
	InputTokens     int     `json:"input_tokens"`
	OutputTokens    int     `json:"output_tokens"`
	TotalTokens     int     `json:"total_tokens"`
	CachedTokens    int     `json:"cached_tokens,omitempty"`
	ReasoningTokens int     `json:"reasoning_tokens,omitempty"`
	Cost            float64 `json:"cost,omitempty"`
}

type GenerateRequest struct {
	Model           string
	FallbackModels  []string
	Instructions    string
	Input           string
	Temperature     float64
	MaxOutputTokens int
}

type GenerateResult struct {
	Text    string
	ModelID string
	Usage   TokenUsage
}

// TextGenerator is implemented once per backend family.
type TextGenerator interface {
	Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error)
	Available() bool
}

// EstimateTokens blends a word count and a four-characters-per-token
// estimate. Used when a provider reports no usage.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	chars := len(text)
	return (words + chars/4) / 2
}

func providerFirstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

type providerHTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func isRetryableProviderError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *providerHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") || strings.Contains(message, "tempor")
}

// retryPolicy runs a provider call until it succeeds, fails with a
// non-retryable error, or runs out of attempts.
type retryPolicy struct {
	maxRetries int
	step       time.Duration
}

func (p retryPolicy) do(ctx context.Context, call func(context.Context) (GenerateResult, error)) (GenerateResult, error) {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		result, err := call(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryableProviderError(err) || attempt == p.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return GenerateResult{}, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * p.step):
		}
	}
	return GenerateResult{}, lastErr
}

func truncateBody(body []byte) string {
	message := strings.TrimSpace(string(body))
	if len(message) > 700 {
		message = message[:700]
	}
	return message
}
