package classify

import (
	"regexp"
	"strings"

	"github.com/iago/content-router/internal/domain"
)

const (
	CategoryTrading        = "trading"
	CategoryTechnical      = "technical"
	CategoryInformational  = "informational"
	CategoryMultimedia     = "multimedia"
	CategoryPriorityTagged = "priority_tagged"
)

var tradingVocabulary = wordSet(
	"trading", "trade", "trader", "stock", "stocks", "options", "arbitrage",
	"portfolio", "hedge", "futures", "tesla", "tsla", "earnings", "dividend",
	"crypto", "bitcoin", "forex", "ticker", "nasdaq",
)

var informationalPattern = regexp.MustCompile(`(?i)\b(news|update|announcement|report|guide|tutorial|explained|overview|how to)\b`)

// Classification tags an item for the rule engine.
type Classification struct {
	Categories               []string `json:"categories"`
	Keywords                 []string `json:"keywords"`
	Priority                 string   `json:"priority"`
	RequiresCloud            bool     `json:"requires_cloud"`
	RequiresSpecializedModel bool     `json:"requires_specialized_model"`
}

func (c Classification) HasCategory(category string) bool {
	for _, current := range c.Categories {
		if current == category {
			return true
		}
	}
	return false
}

type Classifier struct {
	priorityTags map[string]float64
}

// New builds a classifier. priorityTags maps a lowercase tag to its
// complexity multiplier.
func New(priorityTags map[string]float64) *Classifier {
	tags := make(map[string]float64, len(priorityTags))
	for tag, multiplier := range priorityTags {
		key := strings.ToLower(strings.TrimSpace(tag))
		if key != "" {
			tags[key] = multiplier
		}
	}
	return &Classifier{priorityTags: tags}
}

func (c *Classifier) Classify(item domain.ContentItem, contentType domain.ContentType) Classification {
	result := Classification{
		Categories: make([]string, 0, 4),
		Keywords:   make([]string, 0),
		Priority:   domain.PriorityMedium,
	}

	keywords := matchedWords(tokenSet(item.Text), tradingVocabulary)
	if len(keywords) > 0 {
		result.Categories = append(result.Categories, CategoryTrading)
		result.Keywords = keywords
		result.Priority = domain.PriorityHigh
		result.RequiresCloud = len(keywords) > 2
	}

	if technicalPattern.MatchString(item.Text) {
		result.Categories = append(result.Categories, CategoryTechnical)
	}
	if informationalPattern.MatchString(item.Text) {
		result.Categories = append(result.Categories, CategoryInformational)
	}

	if contentType == domain.ContentTypeImage || contentType == domain.ContentTypeVideo {
		result.Categories = append(result.Categories, CategoryMultimedia)
		result.RequiresSpecializedModel = true
	}

	if c.hasPriorityTag(item.Tags) {
		result.Categories = append(result.Categories, CategoryPriorityTagged)
		result.Priority = domain.PriorityHigh
	}

	return result
}

// Analyze runs AnalyzeComplexity and applies the priority tag multipliers.
func (c *Classifier) Analyze(item domain.ContentItem) ComplexityAnalysis {
	return ApplyPriorityTags(AnalyzeComplexity(item.Text), item.Tags, c.priorityTags)
}

func (c *Classifier) hasPriorityTag(tags []string) bool {
	for _, tag := range tags {
		if _, ok := c.priorityTags[strings.ToLower(strings.TrimSpace(tag))]; ok {
			return true
		}
	}
	return false
}
