package routing

import (
	"fmt"
	"time"

	"github.com/iago/content-router/internal/domain"
)

const (
	DefaultDailyCostCeiling = 10.0
	DefaultLatencyThreshold = 30 * time.Second
)

type OptimizerConfig struct {
	DailyCostCeiling float64
	LatencyThreshold time.Duration
	// CostFallbackModel is the local model used once the budget is spent.
	CostFallbackModel string
	// LatencyFallbackModel is the cloud model used when the local one is slow.
	LatencyFallbackModel string
}

// Optimizer overrides a rule decision based on live spend and latency.
type Optimizer struct {
	cfg  OptimizerConfig
	perf *PerformanceTracker
}

func NewOptimizer(cfg OptimizerConfig, perf *PerformanceTracker) *Optimizer {
	if cfg.DailyCostCeiling <= 0 {
		cfg.DailyCostCeiling = DefaultDailyCostCeiling
	}
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = DefaultLatencyThreshold
	}
	if cfg.CostFallbackModel == "" {
		cfg.CostFallbackModel = "reasoning"
	}
	if cfg.LatencyFallbackModel == "" {
		cfg.LatencyFallbackModel = "fast"
	}
	if perf == nil {
		perf = NewPerformanceTracker()
	}
	return &Optimizer{cfg: cfg, perf: perf}
}

func (o *Optimizer) Optimize(decision domain.RoutingDecision, options domain.RouteOptions) domain.RoutingDecision {
	original := decision

	if options.CostMode == domain.CostModeOptimize && decision.RouteTo == domain.DestinationCloud {
		if spent := o.perf.DailyCost(); spent > o.cfg.DailyCostCeiling {
			decision = domain.RoutingDecision{
				RouteTo:   domain.DestinationLocal,
				Model:     o.cfg.CostFallbackModel,
				Reasoning: fmt.Sprintf("daily cost %.2f exceeds ceiling %.2f, using local model", spent, o.cfg.DailyCostCeiling),
				Rule:      "cost_guard",
			}
		}
	}

	if options.Priority == domain.PriorityHigh && decision.RouteTo == domain.DestinationLocal {
		if average, ok := o.perf.AverageLatency(decision.RouteTo, decision.Model); ok && average > o.cfg.LatencyThreshold {
			decision = domain.RoutingDecision{
				RouteTo:   domain.DestinationCloud,
				Model:     o.cfg.LatencyFallbackModel,
				Reasoning: fmt.Sprintf("local model %s averages %s, above %s for high priority", decision.Model, average.Round(time.Millisecond), o.cfg.LatencyThreshold),
				Rule:      "latency_guard",
			}
		}
	}

	if decision != original {
		first := original
		first.OriginalDecision = nil
		decision.OriginalDecision = &first
	}
	return decision
}
