package routing

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/iago/content-router/internal/classify"
	"github.com/iago/content-router/internal/domain"
	"github.com/stretchr/testify/require"
)

func inputFor(text string, contentType domain.ContentType) Input {
	item := domain.ContentItem{Text: text}
	classifier := classify.New(nil)
	return Input{
		Item:           item,
		ContentType:    contentType,
		Complexity:     classifier.Analyze(item),
		Classification: classifier.Classify(item, contentType),
	}
}

func longTradingText() string {
	body := "arbitrage trading tesla stock "
	return body + strings.Repeat("lorem ipsum ", 500)
}

func TestDefaultRulesShortSimple(t *testing.T) {
	decision, err := NewEngine(nil).Apply(inputFor("Hello", domain.ContentTypeText))
	require.NoError(t, err)
	require.Equal(t, domain.DestinationLocal, decision.RouteTo)
	require.Equal(t, "classification", decision.Model)
	require.Equal(t, "short_simple", decision.Rule)
	require.NotEmpty(t, decision.Reasoning)
}

func TestDefaultRulesComplexTrading(t *testing.T) {
	decision, err := NewEngine(nil).Apply(inputFor(longTradingText(), domain.ContentTypeText))
	require.NoError(t, err)
	require.Equal(t, domain.DestinationCloud, decision.RouteTo)
	require.Equal(t, "advanced", decision.Model)
}

func TestImageRulePreemptsTrading(t *testing.T) {
	decision, err := NewEngine(nil).Apply(inputFor(longTradingText(), domain.ContentTypeImage))
	require.NoError(t, err)
	require.Equal(t, domain.DestinationLocal, decision.RouteTo)
	require.Equal(t, "vision", decision.Model)
}

func TestLongModerateFlagsFallback(t *testing.T) {
	in := inputFor(strings.Repeat("plain words here ", 200), domain.ContentTypeText)
	decision, err := NewEngine(nil).Apply(in)
	require.NoError(t, err)
	require.Equal(t, "reasoning", decision.Model)
	require.True(t, decision.FallbackToCloud)
}

func TestHighComplexityGoesToCloudStandard(t *testing.T) {
	in := inputFor("short", domain.ContentTypeText)
	in.Complexity.Score = 0.85
	decision, err := NewEngine(nil).Apply(in)
	require.NoError(t, err)
	require.Equal(t, domain.DestinationCloud, decision.RouteTo)
	require.Equal(t, "standard", decision.Model)
}

func TestMiddleBandFallsThroughToDefault(t *testing.T) {
	in := inputFor(strings.Repeat("x", 1000), domain.ContentTypeText)
	in.Complexity.Score = 0.5
	decision, err := NewEngine(nil).Apply(in)
	require.NoError(t, err)
	require.Equal(t, "general", decision.Model)
	require.Equal(t, "default", decision.Rule)
}

func TestEngineWithoutCatchAllReportsNoMatch(t *testing.T) {
	engine := NewEngine([]Rule{{
		Name:      "images_only",
		When:      Condition{ContentTypes: []domain.ContentType{domain.ContentTypeImage}},
		RouteTo:   domain.DestinationLocal,
		Model:     "vision",
		Reasoning: "images",
	}})
	_, err := engine.Apply(inputFor("text", domain.ContentTypeText))
	require.ErrorIs(t, err, ErrNoRuleMatched)
}

func TestAnyTagsCondition(t *testing.T) {
	rule := Rule{When: Condition{AnyTags: []string{"Urgent"}}}
	in := inputFor("x", domain.ContentTypeText)
	require.False(t, rule.Matches(in))
	in.Item.Tags = []string{" urgent "}
	require.True(t, rule.Matches(in))
}

func TestDetermineRecoversPanics(t *testing.T) {
	decision, err := Determine(func() (domain.RoutingDecision, error) {
		panic("boom")
	})
	require.ErrorIs(t, err, ErrRoutingDeterminationFailed)
	require.Equal(t, FallbackRoute(), decision)

	decision, err = Determine(func() (domain.RoutingDecision, error) {
		return domain.RoutingDecision{}, ErrNoRuleMatched
	})
	require.True(t, errors.Is(err, ErrNoRuleMatched))
	require.Equal(t, "general", decision.Model)
}

func TestRuleValidate(t *testing.T) {
	require.NoError(t, DefaultRules()[0].Validate())
	require.Error(t, Rule{Name: "x", RouteTo: "nowhere", Model: "m", Reasoning: "r"}.Validate())
	require.Error(t, Rule{Name: "x", RouteTo: domain.DestinationLocal, Model: "m"}.Validate())
}

func TestOptimizerCostGuard(t *testing.T) {
	perf := NewPerformanceTracker()
	perf.Record(domain.DestinationCloud, "advanced", time.Second, 12.5)
	optimizer := NewOptimizer(OptimizerConfig{}, perf)

	cloud := domain.RoutingDecision{RouteTo: domain.DestinationCloud, Model: "advanced", Reasoning: "r"}
	optimized := optimizer.Optimize(cloud, domain.RouteOptions{CostMode: domain.CostModeOptimize})
	require.Equal(t, domain.DestinationLocal, optimized.RouteTo)
	require.Equal(t, "reasoning", optimized.Model)
	require.NotNil(t, optimized.OriginalDecision)
	require.Equal(t, "advanced", optimized.OriginalDecision.Model)

	untouched := optimizer.Optimize(cloud, domain.RouteOptions{})
	require.Equal(t, cloud, untouched)
}

func TestOptimizerLatencyGuard(t *testing.T) {
	perf := NewPerformanceTracker()
	perf.Record(domain.DestinationLocal, "general", 45*time.Second, 0)
	optimizer := NewOptimizer(OptimizerConfig{}, perf)

	local := domain.RoutingDecision{RouteTo: domain.DestinationLocal, Model: "general"}
	optimized := optimizer.Optimize(local, domain.RouteOptions{Priority: domain.PriorityHigh})
	require.Equal(t, domain.DestinationCloud, optimized.RouteTo)
	require.Equal(t, "fast", optimized.Model)
	require.Equal(t, "general", optimized.OriginalDecision.Model)

	perf.Record(domain.DestinationLocal, "general", 5*time.Second, 0)
	perf.Record(domain.DestinationLocal, "general", 5*time.Second, 0)
	recovered := optimizer.Optimize(local, domain.RouteOptions{Priority: domain.PriorityHigh})
	require.Equal(t, domain.DestinationLocal, recovered.RouteTo)
}

func TestOptimizerKeepsFirstOriginalDecision(t *testing.T) {
	perf := NewPerformanceTracker()
	perf.Record(domain.DestinationCloud, "advanced", time.Second, 20)
	perf.Record(domain.DestinationLocal, "reasoning", time.Minute, 0)
	optimizer := NewOptimizer(OptimizerConfig{}, perf)

	cloud := domain.RoutingDecision{RouteTo: domain.DestinationCloud, Model: "advanced"}
	optimized := optimizer.Optimize(cloud, domain.RouteOptions{CostMode: domain.CostModeOptimize, Priority: domain.PriorityHigh})
	require.Equal(t, "fast", optimized.Model)
	require.Equal(t, "advanced", optimized.OriginalDecision.Model)
	require.Nil(t, optimized.OriginalDecision.OriginalDecision)
}

func TestPerformanceTrackerDailyCostResets(t *testing.T) {
	perf := NewPerformanceTracker()
	day := time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC)
	perf.now = func() time.Time { return day }
	perf.Record(domain.DestinationCloud, "standard", time.Second, 3)
	require.InDelta(t, 3.0, perf.DailyCost(), 1e-9)

	day = day.Add(2 * time.Hour)
	require.Zero(t, perf.DailyCost())

	perf.RecordCacheHit()
	snapshot := perf.Snapshot()
	require.Equal(t, 2, snapshot.TotalRequests)
	require.Equal(t, 1, snapshot.CacheHits)
	require.InDelta(t, 3.0, snapshot.TotalCost, 1e-9)
	require.Len(t, snapshot.Routes, 1)
	require.EqualValues(t, 1000, snapshot.Routes[0].AverageLatencyMS)
}
