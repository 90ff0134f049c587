package routing

import (
	"fmt"
	"strings"

	"github.com/iago/content-router/internal/domain"
)

// Engine evaluates an ordered rule table. The first matching rule wins.
type Engine struct {
	rules []Rule
}

func NewEngine(rules []Rule) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Engine{rules: append([]Rule(nil), rules...)}
}

func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

func (e *Engine) Apply(in Input) (domain.RoutingDecision, error) {
	for _, rule := range e.rules {
		if rule.Matches(in) {
			return rule.Decision(), nil
		}
	}
	return domain.RoutingDecision{}, ErrNoRuleMatched
}

// Determine runs fn and turns any error or panic into FallbackRoute plus an
// error wrapping ErrRoutingDeterminationFailed.
func Determine(fn func() (domain.RoutingDecision, error)) (decision domain.RoutingDecision, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			decision = FallbackRoute()
			err = fmt.Errorf("%w: panic: %v", ErrRoutingDeterminationFailed, recovered)
		}
	}()

	decision, err = fn()
	if err != nil {
		return FallbackRoute(), fmt.Errorf("%w: %w", ErrRoutingDeterminationFailed, err)
	}
	return decision, nil
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
