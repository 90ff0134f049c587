package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/iago/content-router/internal/ai"
	"github.com/iago/content-router/internal/classify"
	"github.com/iago/content-router/internal/dedup"
	"github.com/iago/content-router/internal/domain"
	"github.com/iago/content-router/internal/extract"
	"github.com/iago/content-router/internal/fingerprint"
	"github.com/iago/content-router/internal/policy"
	"github.com/iago/content-router/internal/quality"
	"github.com/iago/content-router/internal/routing"
)

// StatusProcessing reports a duplicate whose first run is still in flight.
const (
	StatusCompleted  = "completed"
	StatusDuplicate  = "duplicate"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
	StatusError      = "error"
)

const DefaultBatchSize = 10

// Backend executes a routing decision.
type Backend interface {
	Process(ctx context.Context, destination domain.Destination, modelKey, content string, options domain.RouteOptions) (ai.ProcessResult, error)
}

// RuleEngine maps classified content to a routing decision.
type RuleEngine interface {
	Apply(in routing.Input) (domain.RoutingDecision, error)
}

type Dependencies struct {
	Tracker     *dedup.Tracker
	Classifier  *classify.Classifier
	Engine      RuleEngine
	Optimizer   *routing.Optimizer
	Performance *routing.PerformanceTracker
	Backend     Backend
	Scorer      *quality.Scorer
	BatchSize   int
	Logger      *log.Logger
}

type RouteRequest struct {
	Item        domain.ContentItem  `json:"item"`
	ContentType domain.ContentType  `json:"content_type"`
	Options     domain.RouteOptions `json:"options"`
}

type RouteResponse struct {
	Fingerprint      string                       `json:"fingerprint,omitempty"`
	RoutingDecision  domain.RoutingDecision       `json:"routing_decision"`
	Result           json.RawMessage              `json:"result,omitempty"`
	Status           string                       `json:"status"`
	Error            string                       `json:"error,omitempty"`
	Reprocess        *policy.Decision             `json:"reprocess,omitempty"`
	BackendModel     string                       `json:"backend_model,omitempty"`
	QualityScore     *float64                     `json:"quality_score,omitempty"`
	ProcessingTimeMS int64                        `json:"processing_time_ms,omitempty"`
	EstimatedCost    float64                      `json:"estimated_cost,omitempty"`
	Complexity       *classify.ComplexityAnalysis `json:"complexity,omitempty"`
	Classification   *classify.Classification     `json:"classification,omitempty"`
}

// Router sequences dedup, classification, rule matching, optimization,
// execution and recording for one item. All mutable state it touches is
// owned by the collaborators it was built with.
type Router struct {
	tracker     *dedup.Tracker
	classifier  *classify.Classifier
	engine      RuleEngine
	optimizer   *routing.Optimizer
	performance *routing.PerformanceTracker
	backend     Backend
	scorer      *quality.Scorer
	batchSize   int
	logger      *log.Logger
}

func NewRouter(deps Dependencies) *Router {
	if deps.Tracker == nil {
		deps.Tracker = dedup.NewTracker(dedup.Dependencies{Logger: deps.Logger})
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.New(nil)
	}
	if deps.Engine == nil {
		deps.Engine = routing.NewEngine(nil)
	}
	if deps.Performance == nil {
		deps.Performance = routing.NewPerformanceTracker()
	}
	if deps.Optimizer == nil {
		deps.Optimizer = routing.NewOptimizer(routing.OptimizerConfig{}, deps.Performance)
	}
	if deps.Backend == nil {
		deps.Backend = ai.NewDispatcher(ai.DispatcherConfig{})
	}
	if deps.Scorer == nil {
		deps.Scorer = quality.NewScorer()
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}

	return &Router{
		tracker:     deps.Tracker,
		classifier:  deps.Classifier,
		engine:      deps.Engine,
		optimizer:   deps.Optimizer,
		performance: deps.Performance,
		backend:     deps.Backend,
		scorer:      deps.Scorer,
		batchSize:   deps.BatchSize,
		logger:      deps.Logger,
	}
}

// Route always returns a response. Failures are reported through Status and
// Error rather than a Go error.
func (r *Router) Route(ctx context.Context, request RouteRequest) (response RouteResponse) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logf("route panic fingerprint=%s: %v", response.Fingerprint, recovered)
			response.Status = StatusError
			response.Error = fmt.Sprintf("internal routing error: %v", recovered)
			if response.RoutingDecision.RouteTo == "" {
				response.RoutingDecision = routing.FallbackRoute()
			}
		}
	}()

	item, contentType := r.normalize(request)
	if strings.TrimSpace(item.Text) == "" {
		return RouteResponse{
			RoutingDecision: routing.FallbackRoute(),
			Status:          StatusError,
			Error:           "content is required",
		}
	}

	check, err := r.tracker.CheckIfProcessed(ctx, item, request.Options)
	if err != nil {
		r.logf("duplicate check degraded to cache only: %v", err)
	}
	fp := check.FingerprintOf()
	response.Fingerprint = fp.Primary

	if duplicate, ok := check.(dedup.Duplicate); ok {
		decision := duplicate.Decision
		if !decision.Reprocess && decision.Reason == policy.ReasonInFlight {
			return RouteResponse{
				Fingerprint: fp.Primary,
				RoutingDecision: domain.RoutingDecision{
					RouteTo:   domain.DestinationCache,
					Model:     duplicate.Record.Model,
					Reasoning: "content is already being processed",
				},
				Status:    StatusProcessing,
				Reprocess: &decision,
			}
		}
		if !decision.Reprocess {
			r.performance.RecordCacheHit()
			return RouteResponse{
				Fingerprint: fp.Primary,
				RoutingDecision: domain.RoutingDecision{
					RouteTo:   domain.DestinationCache,
					Model:     duplicate.Record.Model,
					Reasoning: "content already processed: " + decision.Reason,
				},
				Result:    duplicate.Record.Result,
				Status:    StatusDuplicate,
				Reprocess: &decision,
			}
		}
		response.Reprocess = &decision
		r.logf("reprocessing fingerprint=%s reason=%s", fp.Primary, decision.Reason)
	}

	var (
		complexity     classify.ComplexityAnalysis
		classification classify.Classification
	)
	decision, err := routing.Determine(func() (domain.RoutingDecision, error) {
		complexity = r.classifier.Analyze(item)
		classification = r.classifier.Classify(item, contentType)
		return r.engine.Apply(routing.Input{
			Item:           item,
			ContentType:    contentType,
			Complexity:     complexity,
			Classification: classification,
			Options:        request.Options,
		})
	})
	if err != nil {
		r.logf("fingerprint=%s: %v", fp.Primary, err)
	}
	response.Complexity = &complexity
	response.Classification = &classification

	decision = r.optimizer.Optimize(decision, request.Options)
	response.RoutingDecision = decision

	if _, err := r.tracker.MarkAsProcessing(ctx, fp, item, contentType); err != nil {
		r.logf("mark processing fingerprint=%s: %v", fp.Primary, err)
	}

	result, decision, execErr := r.execute(ctx, decision, item.Text, request.Options)
	response.RoutingDecision = decision
	response.BackendModel = result.Model
	response.ProcessingTimeMS = result.ProcessingTime.Milliseconds()

	if execErr != nil {
		r.performance.RecordFailure()
		if err := r.tracker.MarkAsFailed(ctx, fp.Primary, execErr); err != nil {
			r.logf("mark failed fingerprint=%s: %v", fp.Primary, err)
		}
		response.Status = StatusFailed
		response.Error = policy.RedactError(execErr.Error())
		return response
	}

	encoded, err := json.Marshal(result.Result)
	if err != nil {
		encoded = json.RawMessage(`null`)
	}
	score := r.scorer.Score(item.Text, result.Result).Score
	if err := r.tracker.MarkAsCompleted(ctx, fp.Primary, encoded, score, decision); err != nil {
		r.logf("mark completed fingerprint=%s: %v", fp.Primary, err)
	}
	r.performance.Record(decision.RouteTo, decision.Model, result.ProcessingTime, result.EstimatedCost)

	response.Status = StatusCompleted
	response.Result = encoded
	response.QualityScore = &score
	response.EstimatedCost = result.EstimatedCost
	return response
}

// execute runs the decision and, for local decisions flagged with
// fallback_to_cloud, retries once on the standard cloud model.
func (r *Router) execute(
	ctx context.Context,
	decision domain.RoutingDecision,
	content string,
	options domain.RouteOptions,
) (ai.ProcessResult, domain.RoutingDecision, error) {
	result, err := r.backend.Process(ctx, decision.RouteTo, decision.Model, content, options)
	if err == nil {
		return result, decision, nil
	}
	if !decision.FallbackToCloud || decision.RouteTo != domain.DestinationLocal || errors.Is(err, context.Canceled) {
		return result, decision, err
	}

	r.logf("local model %s failed, falling back to cloud: %v", decision.Model, err)
	original := decision
	if original.OriginalDecision != nil {
		original = *original.OriginalDecision
	}
	original.OriginalDecision = nil
	fallback := domain.RoutingDecision{
		RouteTo:          domain.DestinationCloud,
		Model:            "standard",
		Reasoning:        "local backend failed, retried on cloud",
		Rule:             "fallback_to_cloud",
		OriginalDecision: &original,
	}

	retried, retryErr := r.backend.Process(ctx, fallback.RouteTo, fallback.Model, content, options)
	if retryErr != nil {
		return retried, fallback, fmt.Errorf("local: %w; cloud fallback: %w", err, retryErr)
	}
	return retried, fallback, nil
}

// FingerprintOf returns the primary fingerprint Route will record request
// under.
func (r *Router) FingerprintOf(request RouteRequest) string {
	item, _ := r.normalize(request)
	return fingerprint.Generate(item).Primary
}

// normalize replaces html items with their extracted text.
func (r *Router) normalize(request RouteRequest) (domain.ContentItem, domain.ContentType) {
	item := request.Item
	contentType := request.ContentType
	if contentType == "" {
		contentType = domain.ContentTypeText
	}
	if contentType != domain.ContentTypeHTML {
		return item, contentType
	}

	extracted, err := extract.Item(item)
	if err != nil {
		r.logf("html extraction failed, routing raw markup: %v", err)
		return item, domain.ContentTypeText
	}
	return extracted, domain.ContentTypeText
}

func (r *Router) ForceReprocess(ctx context.Context, identifier, reason string) ([]string, error) {
	return r.tracker.ForceReprocess(ctx, identifier, reason)
}

func (r *Router) Lookup(ctx context.Context, fingerprint string) (*domain.ProcessingRecord, error) {
	return r.tracker.Lookup(ctx, fingerprint)
}

func (r *Router) Stats() routing.Snapshot {
	return r.performance.Snapshot()
}

func (r *Router) logf(format string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}
