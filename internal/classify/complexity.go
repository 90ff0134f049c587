package classify

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const LongContentThreshold = 5000

var (
	tokenPattern     = regexp.MustCompile(`[a-z0-9]+`)
	technicalPattern = regexp.MustCompile("(?i)```|\\b(api|algorithm|function|database|kubernetes|docker|python|golang|javascript|sql|endpoint|latency|compiler|runtime)\\b")
)

type family struct {
	name    string
	base    float64
	perHit  float64
	members map[string]struct{}
}

var families = []family{
	{
		name:   "analysis_terms",
		base:   0.15,
		perHit: 0.05,
		members: wordSet(
			"analysis", "analyze", "analyse", "strategy", "strategic", "evaluate",
			"evaluation", "assessment", "forecast", "implications", "framework", "tradeoff",
		),
	},
	{
		name:   "financial_terms",
		base:   0.2,
		perHit: 0.1,
		members: wordSet(
			"trading", "trade", "trader", "stock", "stocks", "options", "arbitrage",
			"portfolio", "hedge", "futures", "dividend", "earnings", "tesla", "tsla",
			"crypto", "bitcoin", "forex", "valuation",
		),
	},
	{
		name:   "data_terms",
		base:   0.1,
		perHit: 0.05,
		members: wordSet(
			"data", "dataset", "statistics", "statistical", "metrics", "correlation",
			"regression", "probability", "percentile", "variance", "benchmark",
		),
	},
}

// ComplexityAnalysis is the additive score plus the signals behind it.
type ComplexityAnalysis struct {
	Score   float64  `json:"complexity_score"`
	Factors []string `json:"factors"`
}

// AnalyzeComplexity scores text in [0,1].
func AnalyzeComplexity(text string) ComplexityAnalysis {
	score := 0.0
	factors := make([]string, 0, 5)

	if utf8.RuneCountInString(text) > LongContentThreshold {
		score += 0.3
		factors = append(factors, "long_content")
	}

	tokens := tokenSet(text)
	for _, fam := range families {
		hits := countHits(tokens, fam.members)
		if hits == 0 {
			continue
		}
		score += fam.base + fam.perHit*float64(hits)
		factors = append(factors, fmt.Sprintf("%s(%d)", fam.name, hits))
	}

	if technicalPattern.MatchString(text) {
		score += 0.15
		factors = append(factors, "technical_content")
	}

	return ComplexityAnalysis{Score: clamp(score), Factors: factors}
}

// ApplyPriorityTags scales the score by the largest multiplier among the
// item's tags. Tags without a multiplier are ignored.
func ApplyPriorityTags(analysis ComplexityAnalysis, tags []string, multipliers map[string]float64) ComplexityAnalysis {
	best := 1.0
	matched := ""
	for _, tag := range tags {
		key := strings.ToLower(strings.TrimSpace(tag))
		if multiplier, ok := multipliers[key]; ok && multiplier > best {
			best = multiplier
			matched = key
		}
	}
	if matched == "" {
		return analysis
	}

	factors := append(append([]string(nil), analysis.Factors...), fmt.Sprintf("priority_tag:%s(x%.2g)", matched, best))
	return ComplexityAnalysis{Score: clamp(analysis.Score * best), Factors: factors}
}

func tokenSet(text string) map[string]struct{} {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

func countHits(tokens, members map[string]struct{}) int {
	hits := 0
	for member := range members {
		if _, ok := tokens[member]; ok {
			hits++
		}
	}
	return hits
}

func matchedWords(tokens, members map[string]struct{}) []string {
	out := make([]string, 0)
	for member := range members {
		if _, ok := tokens[member]; ok {
			out = append(out, member)
		}
	}
	sort.Strings(out)
	return out
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}

func clamp(score float64) float64 {
	score = math.Round(score*1000) / 1000
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
