package routing

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/iago/content-router/internal/classify"
	"github.com/iago/content-router/internal/domain"
)

var (
	ErrNoRuleMatched              = errors.New("no routing rule matched")
	ErrRoutingDeterminationFailed = errors.New("routing determination failed")
)

const fallbackReasoning = "routing determination failed, using fallback route"

// Condition is the restricted predicate language for a rule. Zero values
// are ignored, so an empty Condition always matches.
type Condition struct {
	ContentTypes      []domain.ContentType `json:"content_types,omitempty" yaml:"content_types" toml:"content_types"`
	Categories        []string             `json:"categories,omitempty" yaml:"categories" toml:"categories"`
	AnyTags           []string             `json:"any_tags,omitempty" yaml:"any_tags" toml:"any_tags"`
	LengthBelow       int                  `json:"length_below,omitempty" yaml:"length_below" toml:"length_below"`
	LengthAtLeast     int                  `json:"length_at_least,omitempty" yaml:"length_at_least" toml:"length_at_least"`
	ComplexityAbove   *float64             `json:"complexity_above,omitempty" yaml:"complexity_above" toml:"complexity_above"`
	ComplexityBelow   *float64             `json:"complexity_below,omitempty" yaml:"complexity_below" toml:"complexity_below"`
	ComplexityAtLeast *float64             `json:"complexity_at_least,omitempty" yaml:"complexity_at_least" toml:"complexity_at_least"`
}

func (c Condition) IsEmpty() bool {
	return len(c.ContentTypes) == 0 &&
		len(c.Categories) == 0 &&
		len(c.AnyTags) == 0 &&
		c.LengthBelow == 0 &&
		c.LengthAtLeast == 0 &&
		c.ComplexityAbove == nil &&
		c.ComplexityBelow == nil &&
		c.ComplexityAtLeast == nil
}

type Rule struct {
	Name            string             `json:"name" yaml:"name" toml:"name"`
	When            Condition          `json:"when" yaml:"when" toml:"when"`
	RouteTo         domain.Destination `json:"route_to" yaml:"route_to" toml:"route_to"`
	Model           string             `json:"model" yaml:"model" toml:"model"`
	Reasoning       string             `json:"reasoning" yaml:"reasoning" toml:"reasoning"`
	FallbackToCloud bool               `json:"fallback_to_cloud,omitempty" yaml:"fallback_to_cloud" toml:"fallback_to_cloud"`
}

// Input is everything a rule may look at.
type Input struct {
	Item           domain.ContentItem
	ContentType    domain.ContentType
	Complexity     classify.ComplexityAnalysis
	Classification classify.Classification
	Options        domain.RouteOptions
}

func (in Input) length() int {
	return utf8.RuneCountInString(in.Item.Text)
}

func (r Rule) Matches(in Input) bool {
	when := r.When
	if len(when.ContentTypes) > 0 && !containsType(when.ContentTypes, in.ContentType) {
		return false
	}
	for _, category := range when.Categories {
		if !in.Classification.HasCategory(category) {
			return false
		}
	}
	if len(when.AnyTags) > 0 && !anyTag(when.AnyTags, in.Item.Tags) {
		return false
	}

	length := in.length()
	if when.LengthBelow > 0 && length >= when.LengthBelow {
		return false
	}
	if when.LengthAtLeast > 0 && length < when.LengthAtLeast {
		return false
	}

	score := in.Complexity.Score
	if when.ComplexityAbove != nil && !(score > *when.ComplexityAbove) {
		return false
	}
	if when.ComplexityBelow != nil && !(score < *when.ComplexityBelow) {
		return false
	}
	if when.ComplexityAtLeast != nil && !(score >= *when.ComplexityAtLeast) {
		return false
	}
	return true
}

func (r Rule) Decision() domain.RoutingDecision {
	return domain.RoutingDecision{
		RouteTo:         r.RouteTo,
		Model:           r.Model,
		Reasoning:       r.Reasoning,
		FallbackToCloud: r.FallbackToCloud,
		Rule:            r.Name,
	}
}

func (r Rule) Validate() error {
	if r.Name == "" {
		return errors.New("rule name is required")
	}
	switch r.RouteTo {
	case domain.DestinationLocal, domain.DestinationCloud, domain.DestinationWorkflow:
	default:
		return fmt.Errorf("rule %s: invalid route_to %q", r.Name, r.RouteTo)
	}
	if r.Model == "" {
		return fmt.Errorf("rule %s: model is required", r.Name)
	}
	if r.Reasoning == "" {
		return fmt.Errorf("rule %s: reasoning is required", r.Name)
	}
	return nil
}

// DefaultRules is the built-in table used when no routing file is given.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "image_content",
			When:      Condition{ContentTypes: []domain.ContentType{domain.ContentTypeImage}},
			RouteTo:   domain.DestinationLocal,
			Model:     "vision",
			Reasoning: "image content requires the local vision model",
		},
		{
			Name:      "complex_trading",
			When:      Condition{Categories: []string{classify.CategoryTrading}, ComplexityAbove: floatPtr(0.7)},
			RouteTo:   domain.DestinationCloud,
			Model:     "advanced",
			Reasoning: "complex trading analysis requires the most capable model",
		},
		{
			Name:      "short_simple",
			When:      Condition{LengthBelow: 500, ComplexityBelow: floatPtr(0.3)},
			RouteTo:   domain.DestinationLocal,
			Model:     "classification",
			Reasoning: "short, simple content handled by the fast local model",
		},
		{
			Name:            "long_moderate",
			When:            Condition{LengthAtLeast: 2000, ComplexityBelow: floatPtr(0.8)},
			RouteTo:         domain.DestinationLocal,
			Model:           "reasoning",
			Reasoning:       "long content with moderate complexity handled by the local reasoning model",
			FallbackToCloud: true,
		},
		{
			Name:      "high_complexity",
			When:      Condition{ComplexityAtLeast: floatPtr(0.8)},
			RouteTo:   domain.DestinationCloud,
			Model:     "standard",
			Reasoning: "high complexity content sent to the cloud model",
		},
		{
			Name:      "default",
			RouteTo:   domain.DestinationLocal,
			Model:     "general",
			Reasoning: "default routing to the general local model",
		},
	}
}

// FallbackRoute is used whenever routing cannot be determined.
func FallbackRoute() domain.RoutingDecision {
	return domain.RoutingDecision{
		RouteTo:   domain.DestinationLocal,
		Model:     "general",
		Reasoning: fallbackReasoning,
		Rule:      "fallback",
	}
}

func containsType(types []domain.ContentType, target domain.ContentType) bool {
	for _, current := range types {
		if current == target {
			return true
		}
	}
	return false
}

func anyTag(wanted, tags []string) bool {
	for _, tag := range tags {
		normalized := normalizeTag(tag)
		for _, candidate := range wanted {
			if normalizeTag(candidate) == normalized {
				return true
			}
		}
	}
	return false
}

func floatPtr(value float64) *float64 {
	return &value
}
