// Command loadgen benchmarks the routing API in-process against a simulated
// backend and prints latency percentiles as JSON.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iago/content-router/internal/ai"
	"github.com/iago/content-router/internal/domain"
	httpserver "github.com/iago/content-router/internal/http"
	"github.com/iago/content-router/internal/http/handlers"
	"github.com/iago/content-router/internal/queue"
	"github.com/iago/content-router/internal/service"
	"github.com/iago/content-router/internal/worker"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	BackendDelayMS int64            `json:"backend_delay_ms"`
	Results        []scenarioResult `json:"results"`
	Stats          json.RawMessage  `json:"router_stats"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

// simulatedBackend answers every model call after a fixed delay.
type simulatedBackend struct {
	delay time.Duration
}

func (b simulatedBackend) Process(ctx context.Context, destination domain.Destination, modelKey, content string, _ domain.RouteOptions) (ai.ProcessResult, error) {
	timer := time.NewTimer(b.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ai.ProcessResult{Model: modelKey, Status: ai.StatusFailed}, fmt.Errorf("%w: %w", ai.ErrBackendUnavailable, ctx.Err())
	case <-timer.C:
	}
	tokens := ai.EstimateTokens(content)
	return ai.ProcessResult{
		Result:         fmt.Sprintf("Simulated %s/%s answer over %d tokens.", destination, modelKey, tokens),
		Model:          modelKey,
		ProcessingTime: b.delay,
		Status:         ai.StatusSuccess,
		EstimatedCost:  float64(tokens) * 0.000001,
	}, nil
}

func main() {
	routeTotal := flag.Int("route-total", 400, "total unique single-item route requests")
	routeConcurrency := flag.Int("route-concurrency", 24, "concurrency for single-item route requests")
	duplicateTotal := flag.Int("duplicate-total", 400, "total repeated route requests served from the record cache")
	batchTotal := flag.Int("batch-total", 40, "total batch requests")
	batchSize := flag.Int("batch-size", 25, "items per batch request")
	asyncTotal := flag.Int("async-total", 200, "total async enqueue requests")
	backendDelay := flag.Duration("backend-delay", 20*time.Millisecond, "simulated model latency")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server := startBenchmarkServer(ctx, *backendDelay)
	defer server.Close()

	client := &http.Client{Timeout: 30 * time.Second}
	url := func(path string) string { return server.URL + path }

	results := []scenarioResult{
		runScenario("route_unique", *routeTotal, *routeConcurrency, func(index int) error {
			return postJSON(client, url("/v1/route"), itemPayload(fmt.Sprintf("unique-%d", index), index), http.StatusOK)
		}),
		runScenario("route_duplicate", *duplicateTotal, *routeConcurrency, func(index int) error {
			return postJSON(client, url("/v1/route"), itemPayload("unique-0", 0), http.StatusOK)
		}),
		runScenario("route_batch", *batchTotal, 4, func(index int) error {
			items := make([]map[string]any, *batchSize)
			for i := range items {
				items[i] = itemPayload(fmt.Sprintf("batch-%d-%d", index, i), i)
			}
			return postJSON(client, url("/v1/route/batch"), map[string]any{"items": items}, http.StatusOK)
		}),
		runScenario("route_async_enqueue", *asyncTotal, *routeConcurrency, func(index int) error {
			return postJSON(client, url("/v1/route/async"), itemPayload(fmt.Sprintf("async-%d", index), index), http.StatusAccepted)
		}),
	}

	stats, err := fetch(client, url("/v1/stats"))
	if err != nil {
		log.Printf("failed to fetch router stats: %v", err)
	}

	slo := map[string]bool{
		"duplicate_p95_le_50ms":        results[1].P95MS <= 50,
		"single_route_overhead_le_2x":  results[0].P50MS <= 2*float64(backendDelay.Milliseconds())+5,
		"async_enqueue_p95_le_25ms":    results[3].P95MS <= 25,
		"no_errors_in_unique_scenario": results[0].Errors == 0,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		BackendDelayMS: backendDelay.Milliseconds(),
		Results:        results,
		Stats:          stats,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}
	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}
	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkServer(ctx context.Context, delay time.Duration) *httptest.Server {
	logger := log.New(io.Discard, "", 0)

	router := service.NewRouter(service.Dependencies{
		Backend: simulatedBackend{delay: delay},
		Logger:  logger,
	})
	localQueue := queue.NewLocalQueue(8192, queue.DefaultMaxAttempts, logger)
	api := handlers.NewAPI(handlers.Dependencies{Router: router, Producer: localQueue, Logger: logger})
	handler := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		RateLimitRPS:   100000,
		RateLimitBurst: 100000,
	})

	go worker.NewProcessor(localQueue, router, logger).Start(ctx)
	return httptest.NewServer(handler)
}

// itemPayload varies length and vocabulary so requests spread across rules.
func itemPayload(seed string, index int) map[string]any {
	body := "Quick note " + seed + "."
	switch index % 4 {
	case 1:
		body += " Analysis of the trading strategy and stock portfolio hedge with regression data."
	case 2:
		body += " " + strings.Repeat("Plain paragraph text for a longer article. ", 60)
	case 3:
		body = "arbitrage trading tesla stock " + seed + " " + strings.Repeat("lorem ipsum ", 500)
	}
	return map[string]any{"content": body, "tags": []string{"bench"}}
}

func runScenario(name string, total, concurrency int, requestFn func(index int) error) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		mu           sync.Mutex
		durations    = make([]float64, 0, total)
		errorSamples = make([]string, 0, 5)
		failures     int
	)

	startedAt := time.Now()
	var group errgroup.Group
	group.SetLimit(concurrency)
	for index := 0; index < total; index++ {
		index := index
		group.Go(func() error {
			requestStart := time.Now()
			err := requestFn(index)
			elapsed := float64(time.Since(requestStart).Microseconds()) / 1000.0

			mu.Lock()
			defer mu.Unlock()
			durations = append(durations, elapsed)
			if err != nil {
				failures++
				if len(errorSamples) < cap(errorSamples) {
					errorSamples = append(errorSamples, err.Error())
				}
			}
			return nil
		})
	}
	_ = group.Wait()

	sort.Float64s(durations)
	throughput := 0.0
	if seconds := time.Since(startedAt).Seconds(); seconds > 0 {
		throughput = float64(total) / seconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       total - failures,
		Errors:        failures,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func postJSON(client *http.Client, url string, payload any, expectedStatus int) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func fetch(client *http.Client, url string) (json.RawMessage, error) {
	response, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", response.StatusCode, string(body))
	}
	return json.RawMessage(bytes.TrimSpace(body)), nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	rank = max(0, min(rank, len(values)-1))
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
