package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/iago/content-router/internal/ai"
	"github.com/iago/content-router/internal/domain"
	"github.com/iago/content-router/internal/policy"
	"github.com/iago/content-router/internal/routing"
	"gopkg.in/yaml.v3"
)

var ErrInvalidRouting = errors.New("invalid routing config")

// Routing is the resolved, validated routing setup. It is loaded once at
// startup and never reloaded.
type Routing struct {
	Catalog             ai.Catalog
	Rules               []routing.Rule
	PriorityTags        map[string]float64
	CurrentVersion      string
	PriorityTagsVersion string
	DailyCostCeiling    float64
	LatencyThreshold    time.Duration
	QualityThreshold    float64
	MaxRetries          int
}

// routingFile mirrors the on-disk layout shared by the YAML and TOML forms.
type routingFile struct {
	Versions struct {
		Current      string `yaml:"current" toml:"current"`
		PriorityTags string `yaml:"priority_tags" toml:"priority_tags"`
	} `yaml:"versions" toml:"versions"`
	LocalModels  map[string]ai.ModelSpec `yaml:"local_models" toml:"local_models"`
	CloudModels  map[string]ai.ModelSpec `yaml:"cloud_models" toml:"cloud_models"`
	Workflows    map[string]ai.ModelSpec `yaml:"workflows" toml:"workflows"`
	Rules        []routing.Rule          `yaml:"rules" toml:"rules"`
	PriorityTags map[string]float64      `yaml:"priority_tags" toml:"priority_tags"`
	Thresholds   struct {
		DailyCostCeiling   float64 `yaml:"daily_cost_ceiling" toml:"daily_cost_ceiling"`
		LatencyThresholdMS int     `yaml:"latency_threshold_ms" toml:"latency_threshold_ms"`
		QualityThreshold   float64 `yaml:"quality_threshold" toml:"quality_threshold"`
		MaxRetries         int     `yaml:"max_retries" toml:"max_retries"`
	} `yaml:"thresholds" toml:"thresholds"`
}

func DefaultRouting() Routing {
	return Routing{
		Catalog: ai.DefaultCatalog(),
		Rules:   routing.DefaultRules(),
		PriorityTags: map[string]float64{
			"tesla":    1.5,
			"tsla":     1.5,
			"earnings": 1.3,
		},
		CurrentVersion:      policy.DefaultCurrentVersion,
		PriorityTagsVersion: policy.DefaultPriorityTagsVersion,
		DailyCostCeiling:    routing.DefaultDailyCostCeiling,
		LatencyThreshold:    routing.DefaultLatencyThreshold,
		QualityThreshold:    policy.DefaultQualityThreshold,
		MaxRetries:          policy.DefaultMaxRetries,
	}
}

// LoadRouting reads a .yaml/.yml or .toml routing file layered over the
// defaults. An empty path yields the defaults.
func LoadRouting(path string) (Routing, error) {
	resolved := DefaultRouting()
	path = strings.TrimSpace(path)
	if path == "" {
		return resolved, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Routing{}, fmt.Errorf("read routing config: %w", err)
	}

	var file routingFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(raw))
		decoder.KnownFields(true)
		if err := decoder.Decode(&file); err != nil {
			return Routing{}, fmt.Errorf("%w: decode yaml: %v", ErrInvalidRouting, err)
		}
	case ".toml":
		meta, err := toml.Decode(string(raw), &file)
		if err != nil {
			return Routing{}, fmt.Errorf("%w: decode toml: %v", ErrInvalidRouting, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Routing{}, fmt.Errorf("%w: unknown toml keys %v", ErrInvalidRouting, undecoded)
		}
	default:
		return Routing{}, fmt.Errorf("%w: unsupported routing file extension %q", ErrInvalidRouting, filepath.Ext(path))
	}

	file.applyTo(&resolved)
	if err := resolved.Validate(); err != nil {
		return Routing{}, err
	}
	return resolved, nil
}

func (f routingFile) applyTo(resolved *Routing) {
	if f.Versions.Current != "" {
		resolved.CurrentVersion = f.Versions.Current
	}
	if f.Versions.PriorityTags != "" {
		resolved.PriorityTagsVersion = f.Versions.PriorityTags
	}
	mergeModels(resolved.Catalog, domain.DestinationLocal, f.LocalModels)
	mergeModels(resolved.Catalog, domain.DestinationCloud, f.CloudModels)
	mergeModels(resolved.Catalog, domain.DestinationWorkflow, f.Workflows)
	if len(f.Rules) > 0 {
		resolved.Rules = f.Rules
	}
	if len(f.PriorityTags) > 0 {
		tags := make(map[string]float64, len(f.PriorityTags))
		for tag, multiplier := range f.PriorityTags {
			tags[strings.ToLower(strings.TrimSpace(tag))] = multiplier
		}
		resolved.PriorityTags = tags
	}
	if f.Thresholds.DailyCostCeiling > 0 {
		resolved.DailyCostCeiling = f.Thresholds.DailyCostCeiling
	}
	if f.Thresholds.LatencyThresholdMS > 0 {
		resolved.LatencyThreshold = time.Duration(f.Thresholds.LatencyThresholdMS) * time.Millisecond
	}
	if f.Thresholds.QualityThreshold > 0 {
		resolved.QualityThreshold = f.Thresholds.QualityThreshold
	}
	if f.Thresholds.MaxRetries > 0 {
		resolved.MaxRetries = f.Thresholds.MaxRetries
	}
}

func mergeModels(catalog ai.Catalog, destination domain.Destination, models map[string]ai.ModelSpec) {
	if len(models) == 0 {
		return
	}
	if catalog[destination] == nil {
		catalog[destination] = make(map[string]ai.ModelSpec, len(models))
	}
	for key, spec := range models {
		catalog[destination][key] = spec
	}
}

// Validate checks that every rule is well formed, references a model of its
// own destination, and that the table ends with an unconditional rule.
func (r Routing) Validate() error {
	if len(r.Rules) == 0 {
		return fmt.Errorf("%w: no rules", ErrInvalidRouting)
	}
	seen := make(map[string]struct{}, len(r.Rules))
	for _, rule := range r.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRouting, err)
		}
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("%w: duplicate rule name %q", ErrInvalidRouting, rule.Name)
		}
		seen[rule.Name] = struct{}{}
		if _, ok := r.Catalog.Lookup(rule.RouteTo, rule.Model); !ok {
			return fmt.Errorf("%w: rule %s references unknown model %s/%s (known: %s)",
				ErrInvalidRouting, rule.Name, rule.RouteTo, rule.Model, strings.Join(r.Catalog.Keys(rule.RouteTo), ", "))
		}
	}
	if !r.Rules[len(r.Rules)-1].When.IsEmpty() {
		return fmt.Errorf("%w: last rule %q must be unconditional", ErrInvalidRouting, r.Rules[len(r.Rules)-1].Name)
	}

	fallback := routing.FallbackRoute()
	required := []struct {
		destination domain.Destination
		key         string
	}{
		{fallback.RouteTo, fallback.Model},
		{domain.DestinationLocal, "reasoning"},
		{domain.DestinationCloud, "fast"},
		{domain.DestinationCloud, "standard"},
	}
	for _, model := range required {
		if _, ok := r.Catalog.Lookup(model.destination, model.key); !ok {
			return fmt.Errorf("%w: catalog lacks required model %s/%s", ErrInvalidRouting, model.destination, model.key)
		}
	}
	for destination, models := range r.Catalog {
		for key, spec := range models {
			if strings.TrimSpace(spec.Name) == "" {
				return fmt.Errorf("%w: model %s/%s has no name", ErrInvalidRouting, destination, key)
			}
			if spec.CostPerToken < 0 {
				return fmt.Errorf("%w: model %s/%s has negative cost", ErrInvalidRouting, destination, key)
			}
		}
	}
	if r.QualityThreshold > 1 {
		return fmt.Errorf("%w: quality threshold %.2f above 1", ErrInvalidRouting, r.QualityThreshold)
	}
	return nil
}
