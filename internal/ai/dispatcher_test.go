package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/content-router/internal/domain"
)

type stubGenerator struct {
	result    GenerateResult
	err       error
	available bool
	requests  []GenerateRequest
}

func (s *stubGenerator) Generate(_ context.Context, request GenerateRequest) (GenerateResult, error) {
	s.requests = append(s.requests, request)
	return s.result, s.err
}

func (s *stubGenerator) Available() bool { return s.available }

func TestDispatcherUnknownModelKey(t *testing.T) {
	dispatcher := NewDispatcher(DispatcherConfig{})
	_, err := dispatcher.Process(context.Background(), domain.DestinationLocal, "does-not-exist", "x", domain.RouteOptions{})
	if !errors.Is(err, ErrUnknownModelKey) {
		t.Fatalf("expected ErrUnknownModelKey, got %v", err)
	}
}

func TestDispatcherMissingBackend(t *testing.T) {
	dispatcher := NewDispatcher(DispatcherConfig{})
	_, err := dispatcher.Process(context.Background(), domain.DestinationCloud, "fast", "x", domain.RouteOptions{})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestDispatcherComputesCostFromUsage(t *testing.T) {
	cloud := &stubGenerator{
		available: true,
		result:    GenerateResult{Text: "done", Usage: TokenUsage{TotalTokens: 1000}},
	}
	dispatcher := NewDispatcher(DispatcherConfig{
		Generators: map[domain.Destination]TextGenerator{domain.DestinationCloud: cloud},
	})

	temperature := 0.9
	result, err := dispatcher.Process(context.Background(), domain.DestinationCloud, "standard", "content", domain.RouteOptions{
		MaxTokens:   64,
		Temperature: &temperature,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Status != StatusSuccess || result.Model != "anthropic/claude-3.5-sonnet" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if diff := result.EstimatedCost - 0.003; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("expected cost 0.003, got %v", result.EstimatedCost)
	}
	if got := cloud.requests[0]; got.MaxOutputTokens != 64 || got.Temperature != 0.9 {
		t.Fatalf("options not applied: %+v", got)
	}
}

func TestDispatcherEstimatesTokensWithoutUsage(t *testing.T) {
	cloud := &stubGenerator{available: true, result: GenerateResult{Text: "four words of output"}}
	dispatcher := NewDispatcher(DispatcherConfig{
		Generators: map[domain.Destination]TextGenerator{domain.DestinationCloud: cloud},
	})
	result, err := dispatcher.Process(context.Background(), domain.DestinationCloud, "advanced", "some input text here", domain.RouteOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.EstimatedCost <= 0 {
		t.Fatalf("expected estimated cost, got %v", result.EstimatedCost)
	}
}

func TestDispatcherWrapsGeneratorErrors(t *testing.T) {
	local := &stubGenerator{available: true, err: errors.New("connection refused")}
	dispatcher := NewDispatcher(DispatcherConfig{
		Generators: map[domain.Destination]TextGenerator{domain.DestinationLocal: local},
	})
	result, err := dispatcher.Process(context.Background(), domain.DestinationLocal, "general", "x", domain.RouteOptions{})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", result.Status)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	// 2 words, 11 chars: (2 + 2) / 2
	if got := EstimateTokens("hello world"); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestOllamaClientGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var payload ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Stream {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.1:8b","response":" summary ","prompt_eval_count":12,"eval_count":8}`))
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaClientConfig{BaseURL: server.URL, Timeout: 2 * time.Second})
	result, err := client.Generate(context.Background(), GenerateRequest{Model: "llama3.1:8b", Input: "text"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Text != "summary" || result.Usage.TotalTokens != 20 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestOllamaClientRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"loading model"}`))
			return
		}
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaClientConfig{BaseURL: server.URL, Timeout: 2 * time.Second, MaxRetries: 1})
	result, err := client.Generate(context.Background(), GenerateRequest{Model: "phi3:mini", Input: "text"})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if result.ModelID != "phi3:mini" {
		t.Fatalf("expected requested model as fallback id, got %q", result.ModelID)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestOllamaClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaClientConfig{BaseURL: server.URL, MaxRetries: 3})
	if _, err := client.Generate(context.Background(), GenerateRequest{Model: "missing", Input: "text"}); err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestWebhookClientPostsToWorkflowPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hooks/content-pipeline" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer hook-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"queued":true},"usage":{"total_tokens":5}}`))
	}))
	defer server.Close()

	client := NewWebhookClient(WebhookClientConfig{BaseURL: server.URL + "/hooks/", Token: "hook-token"})
	result, err := client.Generate(context.Background(), GenerateRequest{Model: "content-pipeline", Input: "text"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Text != `{"queued":true}` || result.Usage.TotalTokens != 5 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestWebhookClientUnconfigured(t *testing.T) {
	_, err := NewWebhookClient(WebhookClientConfig{}).Generate(context.Background(), GenerateRequest{Model: "x", Input: "y"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}
