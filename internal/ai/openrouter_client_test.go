package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/content-router/internal/domain"
)

func newOpenRouterServer(t *testing.T, handler func(payload openRouterRequest) (int, string)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer router-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var payload openRouterRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, body := handler(payload)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOpenRouterClientSendsCatalogFallbacksAndMapsUsage(t *testing.T) {
	var seen openRouterRequest
	server := newOpenRouterServer(t, func(payload openRouterRequest) (int, string) {
		seen = payload
		return http.StatusOK, `{
			"model":"openai/gpt-4o",
			"choices":[{"message":{"role":"assistant","content":"Battery output grew 12%."}}],
			"usage":{
				"prompt_tokens":900,"completion_tokens":120,"total_tokens":1020,"cost":0.0042,
				"prompt_tokens_details":{"cached_tokens":512},
				"completion_tokens_details":{"reasoning_tokens":40}
			}
		}`
	})

	client := NewOpenRouterClient(OpenRouterClientConfig{APIKey: "router-key", BaseURL: server.URL, Timeout: 2 * time.Second})
	result, err := client.Generate(context.Background(), GenerateRequest{
		Model:           "anthropic/claude-3.5-sonnet",
		FallbackModels:  []string{"openai/gpt-4o", "anthropic/claude-3.5-sonnet", " "},
		Instructions:    "Summarize",
		Input:           "quarterly report",
		MaxOutputTokens: 300,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if want := []string{"anthropic/claude-3.5-sonnet", "openai/gpt-4o"}; !reflect.DeepEqual(seen.Models, want) {
		t.Fatalf("expected models %v, got %v", want, seen.Models)
	}
	if !seen.Usage.Include || seen.MaxTokens != 300 || len(seen.Messages) != 2 || seen.Messages[0].Role != "system" {
		t.Fatalf("unexpected payload: %+v", seen)
	}

	if result.ModelID != "openai/gpt-4o" {
		t.Fatalf("expected the serving fallback model, got %q", result.ModelID)
	}
	want := TokenUsage{InputTokens: 900, OutputTokens: 120, TotalTokens: 1020, CachedTokens: 512, ReasoningTokens: 40, Cost: 0.0042}
	if result.Usage != want {
		t.Fatalf("expected usage %+v, got %+v", want, result.Usage)
	}
}

func TestOpenRouterClientOmitsModelsWithoutFallbacks(t *testing.T) {
	var seen openRouterRequest
	server := newOpenRouterServer(t, func(payload openRouterRequest) (int, string) {
		seen = payload
		return http.StatusOK, `{"choices":[{"message":{"content":[{"type":"text","text":"line 1"},{"type":"image_url"},{"type":"text","text":"line 2"}]}}],
			"usage":{"prompt_tokens":5,"completion_tokens":5}}`
	})

	client := NewOpenRouterClient(OpenRouterClientConfig{APIKey: "router-key", BaseURL: server.URL})
	result, err := client.Generate(context.Background(), GenerateRequest{Model: "anthropic/claude-3-haiku", Input: "text"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if seen.Models != nil || len(seen.Messages) != 1 {
		t.Fatalf("unexpected payload: %+v", seen)
	}
	if result.Text != "line 1\nline 2" || result.ModelID != "anthropic/claude-3-haiku" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Usage.TotalTokens != 10 {
		t.Fatalf("expected total derived from parts, got %+v", result.Usage)
	}
}

func TestOpenRouterClientRetriesUpstreamErrorInBody(t *testing.T) {
	var calls int32
	server := newOpenRouterServer(t, func(openRouterRequest) (int, string) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return http.StatusOK, `{"error":{"code":502,"message":"provider returned error"}}`
		}
		return http.StatusOK, `{"choices":[{"message":{"content":"ok"}}],"usage":{"total_tokens":3}}`
	})

	client := NewOpenRouterClient(OpenRouterClientConfig{APIKey: "router-key", BaseURL: server.URL, MaxRetries: 1})
	if _, err := client.Generate(context.Background(), GenerateRequest{Model: "anthropic/claude-3-haiku", Input: "text"}); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestOpenRouterClientUnavailableWithoutKey(t *testing.T) {
	_, err := NewOpenRouterClient(OpenRouterClientConfig{}).Generate(context.Background(), GenerateRequest{Model: "m", Input: "x"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestDispatcherUsesBilledCostFromOpenRouter(t *testing.T) {
	var billed atomic.Bool
	billed.Store(true)
	server := newOpenRouterServer(t, func(openRouterRequest) (int, string) {
		if billed.Load() {
			return http.StatusOK, `{"model":"anthropic/claude-3.5-sonnet","choices":[{"message":{"content":"summary"}}],
				"usage":{"prompt_tokens":800,"completion_tokens":200,"total_tokens":1000,"cost":0.0042}}`
		}
		return http.StatusOK, `{"model":"anthropic/claude-3.5-sonnet","choices":[{"message":{"content":"summary"}}],
			"usage":{"prompt_tokens":800,"completion_tokens":200,"total_tokens":1000}}`
	})

	dispatcher := NewDispatcher(DispatcherConfig{
		Generators: map[domain.Destination]TextGenerator{
			domain.DestinationCloud: NewOpenRouterClient(OpenRouterClientConfig{APIKey: "router-key", BaseURL: server.URL}),
		},
	})

	result, err := dispatcher.Process(context.Background(), domain.DestinationCloud, "standard", "content", domain.RouteOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.EstimatedCost != 0.0042 || result.Usage.Cost != 0.0042 {
		t.Fatalf("expected billed cost 0.0042, got %+v", result)
	}

	billed.Store(false)
	result, err = dispatcher.Process(context.Background(), domain.DestinationCloud, "standard", "content", domain.RouteOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if diff := result.EstimatedCost - 0.003; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("expected catalog price for 1000 tokens, got %v", result.EstimatedCost)
	}
}
