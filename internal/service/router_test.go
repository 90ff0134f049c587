package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/content-router/internal/ai"
	"github.com/iago/content-router/internal/dedup"
	"github.com/iago/content-router/internal/domain"
	"github.com/iago/content-router/internal/fingerprint"
	"github.com/iago/content-router/internal/policy"
	"github.com/iago/content-router/internal/repository"
	"github.com/iago/content-router/internal/routing"
)

type backendCall struct {
	destination domain.Destination
	model       string
}

type fakeBackend struct {
	mu          sync.Mutex
	calls       []backendCall
	failures    map[domain.Destination]error
	delay       time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (b *fakeBackend) Process(ctx context.Context, destination domain.Destination, modelKey, content string, _ domain.RouteOptions) (ai.ProcessResult, error) {
	current := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		seen := b.maxInFlight.Load()
		if current <= seen || b.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	b.mu.Lock()
	b.calls = append(b.calls, backendCall{destination: destination, model: modelKey})
	failure := b.failures[destination]
	b.mu.Unlock()

	if failure != nil {
		return ai.ProcessResult{Model: modelKey, Status: ai.StatusFailed}, failure
	}
	return ai.ProcessResult{
		Result:         fmt.Sprintf("Processed by %s/%s with a useful summary.", destination, modelKey),
		Model:          modelKey,
		ProcessingTime: 5 * time.Millisecond,
		Status:         ai.StatusSuccess,
		EstimatedCost:  0.001,
	}, nil
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type panickingEngine struct{}

func (panickingEngine) Apply(routing.Input) (domain.RoutingDecision, error) {
	panic("rule table corrupted")
}

func newTestRouter(backend Backend) *Router {
	return NewRouter(Dependencies{
		Tracker: dedup.NewTracker(dedup.Dependencies{Store: repository.NewMemoryRecordStore()}),
		Backend: backend,
	})
}

func textRequest(text string) RouteRequest {
	return RouteRequest{Item: domain.ContentItem{Text: text}, ContentType: domain.ContentTypeText}
}

func longTradingText() string {
	body := "arbitrage trading tesla stock "
	return body + strings.Repeat("lorem ipsum ", 500)
}

func TestRouteShortContentToLocalClassification(t *testing.T) {
	backend := &fakeBackend{}
	router := newTestRouter(backend)

	response := router.Route(context.Background(), textRequest("Hello"))
	if response.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", response)
	}
	if response.RoutingDecision.RouteTo != domain.DestinationLocal || response.RoutingDecision.Model != "classification" {
		t.Fatalf("unexpected decision: %+v", response.RoutingDecision)
	}
	if response.Fingerprint == "" || response.QualityScore == nil {
		t.Fatalf("expected fingerprint and quality score: %+v", response)
	}

	record, err := router.Lookup(context.Background(), response.Fingerprint)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if record.Status != domain.RecordStatusCompleted || record.Model != "classification" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestRouteReturnsCachedResultForDuplicate(t *testing.T) {
	backend := &fakeBackend{}
	router := newTestRouter(backend)
	ctx := context.Background()

	first := router.Route(ctx, textRequest("Hello"))
	second := router.Route(ctx, textRequest("Hello"))

	if second.Status != StatusDuplicate {
		t.Fatalf("expected duplicate, got %+v", second)
	}
	if second.RoutingDecision.RouteTo != domain.DestinationCache || second.RoutingDecision.Model != "classification" {
		t.Fatalf("unexpected duplicate decision: %+v", second.RoutingDecision)
	}
	if string(second.Result) != string(first.Result) {
		t.Fatalf("expected cached result %s, got %s", first.Result, second.Result)
	}
	if backend.callCount() != 1 {
		t.Fatalf("expected one backend call, got %d", backend.callCount())
	}
	if stats := router.Stats(); stats.CacheHits != 1 {
		t.Fatalf("expected one cache hit, got %+v", stats)
	}
}

func TestRouteForceReprocessOptionBypassesDuplicate(t *testing.T) {
	backend := &fakeBackend{}
	router := newTestRouter(backend)
	ctx := context.Background()

	router.Route(ctx, textRequest("Hello"))
	request := textRequest("Hello")
	request.Options.ForceReprocess = true
	response := router.Route(ctx, request)

	if response.Status != StatusCompleted {
		t.Fatalf("expected reprocessing, got %+v", response)
	}
	if response.Reprocess == nil || !response.Reprocess.Reprocess {
		t.Fatalf("expected reprocess decision, got %+v", response.Reprocess)
	}
	if backend.callCount() != 2 {
		t.Fatalf("expected two backend calls, got %d", backend.callCount())
	}
}

func TestRouteComplexTradingToCloudAdvanced(t *testing.T) {
	backend := &fakeBackend{}
	router := newTestRouter(backend)

	response := router.Route(context.Background(), textRequest(longTradingText()))
	if response.RoutingDecision.RouteTo != domain.DestinationCloud || response.RoutingDecision.Model != "advanced" {
		t.Fatalf("unexpected decision: %+v", response.RoutingDecision)
	}
	if response.Classification == nil || !response.Classification.HasCategory("trading") {
		t.Fatalf("expected trading classification, got %+v", response.Classification)
	}
}

func TestRouteImageToVision(t *testing.T) {
	backend := &fakeBackend{}
	router := newTestRouter(backend)

	response := router.Route(context.Background(), RouteRequest{
		Item:        domain.ContentItem{Text: "chart of tesla trading volume"},
		ContentType: domain.ContentTypeImage,
	})
	if response.RoutingDecision.Model != "vision" || response.RoutingDecision.RouteTo != domain.DestinationLocal {
		t.Fatalf("unexpected decision: %+v", response.RoutingDecision)
	}
}

func TestRouteFallsBackToCloudWhenLocalFails(t *testing.T) {
	backend := &fakeBackend{failures: map[domain.Destination]error{
		domain.DestinationLocal: fmt.Errorf("%w: connection refused", ai.ErrBackendUnavailable),
	}}
	router := newTestRouter(backend)

	response := router.Route(context.Background(), textRequest(strings.Repeat("plain words here. ", 150)))
	if response.Status != StatusCompleted {
		t.Fatalf("expected completed after fallback, got %+v", response)
	}
	decision := response.RoutingDecision
	if decision.RouteTo != domain.DestinationCloud || decision.Model != "standard" {
		t.Fatalf("expected cloud standard, got %+v", decision)
	}
	if decision.OriginalDecision == nil || decision.OriginalDecision.Model != "reasoning" {
		t.Fatalf("expected original local reasoning decision, got %+v", decision.OriginalDecision)
	}
	if backend.callCount() != 2 {
		t.Fatalf("expected local attempt plus cloud retry, got %d calls", backend.callCount())
	}
}

func TestRouteBackendFailureMarksRecordFailed(t *testing.T) {
	backend := &fakeBackend{failures: map[domain.Destination]error{
		domain.DestinationLocal: errors.New("model crashed for user@example.com"),
	}}
	router := newTestRouter(backend)
	ctx := context.Background()

	response := router.Route(ctx, textRequest("Hello"))
	if response.Status != StatusFailed {
		t.Fatalf("expected failed, got %+v", response)
	}
	if strings.Contains(response.Error, "user@example.com") {
		t.Fatalf("expected redacted error, got %q", response.Error)
	}

	record, err := router.Lookup(ctx, response.Fingerprint)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if record.Status != domain.RecordStatusFailed || record.ErrorCount != 1 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if stats := router.Stats(); stats.Failures != 1 {
		t.Fatalf("expected one failure, got %+v", stats)
	}

	backend.mu.Lock()
	backend.failures = nil
	backend.mu.Unlock()
	retried := router.Route(ctx, textRequest("Hello"))
	if retried.Status != StatusCompleted {
		t.Fatalf("expected failed record to be retried, got %+v", retried)
	}
}

func TestRouteUsesFallbackRouteWhenDeterminationPanics(t *testing.T) {
	backend := &fakeBackend{}
	router := NewRouter(Dependencies{Engine: panickingEngine{}, Backend: backend})

	response := router.Route(context.Background(), textRequest("Hello"))
	if response.Status != StatusCompleted {
		t.Fatalf("expected completed on fallback route, got %+v", response)
	}
	if response.RoutingDecision.Rule != routing.FallbackRoute().Rule || response.RoutingDecision.Model != "general" {
		t.Fatalf("expected fallback route, got %+v", response.RoutingDecision)
	}
}

func TestRouteExtractsHTML(t *testing.T) {
	backend := &fakeBackend{}
	router := newTestRouter(backend)

	response := router.Route(context.Background(), RouteRequest{
		Item:        domain.ContentItem{Text: "<html><head><title>Note</title></head><body><p>Hello there</p></body></html>"},
		ContentType: domain.ContentTypeHTML,
	})
	if response.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", response)
	}
	record, err := router.Lookup(context.Background(), response.Fingerprint)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if record.Title != "Note" || record.ContentType != domain.ContentTypeText {
		t.Fatalf("expected extracted text record, got %+v", record)
	}
}

func TestRouteRejectsEmptyContent(t *testing.T) {
	backend := &fakeBackend{}
	router := newTestRouter(backend)

	response := router.Route(context.Background(), textRequest("   "))
	if response.Status != StatusError || backend.callCount() != 0 {
		t.Fatalf("expected error without backend call, got %+v", response)
	}
}

func TestRouteStoresResultAsJSON(t *testing.T) {
	router := newTestRouter(&fakeBackend{})

	response := router.Route(context.Background(), textRequest("Hello"))
	var text string
	if err := json.Unmarshal(response.Result, &text); err != nil {
		t.Fatalf("result is not a JSON string: %v", err)
	}
	if !strings.Contains(text, "local/classification") {
		t.Fatalf("unexpected result text: %q", text)
	}
}

func TestForceReprocessByURLThenRoute(t *testing.T) {
	backend := &fakeBackend{}
	router := newTestRouter(backend)
	ctx := context.Background()
	request := RouteRequest{Item: domain.ContentItem{Text: "Hello", URL: "https://x.com/posts/123"}}

	router.Route(ctx, request)
	updated, err := router.ForceReprocess(ctx, "https://x.com/posts/123", "model upgrade")
	if err != nil {
		t.Fatalf("force reprocess: %v", err)
	}
	if len(updated) != 1 {
		t.Fatalf("expected one updated record, got %v", updated)
	}

	response := router.Route(ctx, request)
	if response.Status != StatusCompleted || backend.callCount() != 2 {
		t.Fatalf("expected flagged record to be reprocessed, got %+v", response)
	}
}

func TestRouteBatchPreservesOrderAndBoundsConcurrency(t *testing.T) {
	backend := &fakeBackend{delay: 10 * time.Millisecond}
	router := newTestRouter(backend)

	items := make([]BatchItem, 25)
	for i := range items {
		items[i] = BatchItem{ID: fmt.Sprintf("item-%02d", i), RouteRequest: textRequest(fmt.Sprintf("note number %d", i))}
	}
	items[7].Item.Text = ""

	results := router.RouteBatch(context.Background(), items)
	if len(results) != len(items) {
		t.Fatalf("expected %d results, got %d", len(items), len(results))
	}
	for i, result := range results {
		if result.ID != items[i].ID {
			t.Fatalf("result %d out of order: %s", i, result.ID)
		}
		if i == 7 {
			if result.Status != StatusError {
				t.Fatalf("expected empty item to error, got %+v", result.RouteResponse)
			}
			continue
		}
		if result.Status != StatusCompleted {
			t.Fatalf("item %d: unexpected status %+v", i, result.RouteResponse)
		}
	}
	if peak := backend.maxInFlight.Load(); peak > DefaultBatchSize {
		t.Fatalf("expected at most %d concurrent calls, got %d", DefaultBatchSize, peak)
	}
	if backend.callCount() != 24 {
		t.Fatalf("expected 24 backend calls, got %d", backend.callCount())
	}
}

func TestGroupBounds(t *testing.T) {
	bounds := groupBounds(25, 10)
	expected := [][2]int{{0, 10}, {10, 20}, {20, 25}}
	if len(bounds) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, bounds)
	}
	for i := range expected {
		if bounds[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, bounds)
		}
	}
	if len(groupBounds(0, 10)) != 0 {
		t.Fatal("expected no groups for an empty batch")
	}
}

func TestRouteReportsInFlightDuplicateAsProcessing(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	tracker := dedup.NewTracker(dedup.Dependencies{Store: repository.NewMemoryRecordStore()})
	router := NewRouter(Dependencies{Tracker: tracker, Backend: backend})

	request := textRequest("Hello")
	if _, err := tracker.MarkAsProcessing(ctx, fingerprint.Generate(request.Item), request.Item, domain.ContentTypeText); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	response := router.Route(ctx, request)
	if response.Status != StatusProcessing || len(response.Result) != 0 {
		t.Fatalf("expected in-flight response without result, got %+v", response)
	}
	if response.Reprocess == nil || response.Reprocess.Reason != policy.ReasonInFlight {
		t.Fatalf("expected in-flight reason, got %+v", response.Reprocess)
	}
	if backend.callCount() != 0 {
		t.Fatalf("expected no backend call, got %d", backend.callCount())
	}
	if stats := router.Stats(); stats.CacheHits != 0 {
		t.Fatalf("in-flight duplicates are not cache hits, got %+v", stats)
	}
}
