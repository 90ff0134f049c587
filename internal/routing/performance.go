package routing

import (
	"sort"
	"sync"
	"time"

	"github.com/iago/content-router/internal/domain"
)

type routeKey struct {
	route domain.Destination
	model string
}

type routeTotals struct {
	count        int
	totalLatency time.Duration
	totalCost    float64
}

// RouteStats is one (route, model) row of a Snapshot.
type RouteStats struct {
	RouteTo          domain.Destination `json:"route_to"`
	Model            string             `json:"model"`
	Count            int                `json:"count"`
	AverageLatencyMS int64              `json:"average_latency_ms"`
	TotalCost        float64            `json:"total_cost"`
}

type Snapshot struct {
	TotalRequests int          `json:"total_requests"`
	CacheHits     int          `json:"cache_hits"`
	Failures      int          `json:"failures"`
	DailyCost     float64      `json:"daily_cost"`
	TotalCost     float64      `json:"total_cost"`
	Routes        []RouteStats `json:"routes"`
}

// PerformanceTracker keeps cumulative latency and cost per (route, model)
// plus spend per UTC day. Averages are always derived from the sums.
type PerformanceTracker struct {
	mu        sync.Mutex
	routes    map[routeKey]*routeTotals
	daily     map[string]float64
	cacheHits int
	failures  int
	now       func() time.Time
}

func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{
		routes: make(map[routeKey]*routeTotals),
		daily:  make(map[string]float64),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *PerformanceTracker) Record(route domain.Destination, model string, latency time.Duration, cost float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := routeKey{route: route, model: model}
	totals, ok := p.routes[key]
	if !ok {
		totals = &routeTotals{}
		p.routes[key] = totals
	}
	totals.count++
	totals.totalLatency += latency
	totals.totalCost += cost
	p.daily[p.today()] += cost
}

func (p *PerformanceTracker) RecordCacheHit() {
	p.mu.Lock()
	p.cacheHits++
	p.mu.Unlock()
}

func (p *PerformanceTracker) RecordFailure() {
	p.mu.Lock()
	p.failures++
	p.mu.Unlock()
}

// AverageLatency reports false when the pair has no samples yet.
func (p *PerformanceTracker) AverageLatency(route domain.Destination, model string) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	totals, ok := p.routes[routeKey{route: route, model: model}]
	if !ok || totals.count == 0 {
		return 0, false
	}
	return totals.totalLatency / time.Duration(totals.count), true
}

func (p *PerformanceTracker) DailyCost() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.daily[p.today()]
}

func (p *PerformanceTracker) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := Snapshot{
		CacheHits: p.cacheHits,
		Failures:  p.failures,
		DailyCost: p.daily[p.today()],
		Routes:    make([]RouteStats, 0, len(p.routes)),
	}
	for key, totals := range p.routes {
		stats := RouteStats{
			RouteTo:   key.route,
			Model:     key.model,
			Count:     totals.count,
			TotalCost: totals.totalCost,
		}
		if totals.count > 0 {
			stats.AverageLatencyMS = (totals.totalLatency / time.Duration(totals.count)).Milliseconds()
		}
		snapshot.TotalRequests += totals.count
		snapshot.TotalCost += totals.totalCost
		snapshot.Routes = append(snapshot.Routes, stats)
	}
	snapshot.TotalRequests += p.cacheHits
	sort.Slice(snapshot.Routes, func(i, j int) bool {
		if snapshot.Routes[i].RouteTo != snapshot.Routes[j].RouteTo {
			return snapshot.Routes[i].RouteTo < snapshot.Routes[j].RouteTo
		}
		return snapshot.Routes[i].Model < snapshot.Routes[j].Model
	})
	return snapshot
}

func (p *PerformanceTracker) today() string {
	return p.now().UTC().Format("2006-01-02")
}
