package policy

import (
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/iago/content-router/internal/domain"
)

const (
	ReasonForceRequested     = "force_reprocess_requested"
	ReasonRetryFailed        = "retry_failed_processing"
	ReasonQualityImprovement = "quality_improvement_available"
	ReasonPriorityTags       = "priority_tags_detected"
	ReasonContentAcceptable  = "content_acceptable"
	ReasonStaleProcessing    = "stale_processing"
	ReasonInFlight           = "processing_in_flight"
)

const (
	DefaultMaxRetries          = 3
	DefaultQualityThreshold    = 0.7
	DefaultCurrentVersion      = "2.1.0"
	DefaultPriorityTagsVersion = "2.0.0"
	DefaultStaleAfter          = 10 * time.Minute
)

// Decision is the outcome of evaluating a previously seen record.
type Decision struct {
	Reprocess bool   `json:"should_reprocess"`
	Reason    string `json:"reason"`
}

type ReprocessConfig struct {
	CurrentVersion      string
	PriorityTagsVersion string
	MaxRetries          int
	QualityThreshold    float64
	PriorityTags        []string

	// StaleAfter bounds how long a record may sit in processing before it
	// is treated as abandoned.
	StaleAfter time.Duration
}

// Reprocess decides whether a duplicate should be processed again. The first
// matching condition wins.
type Reprocess struct {
	current      *semver.Version
	priorityTags *semver.Version
	maxRetries   int
	threshold    float64
	staleAfter   time.Duration
	tags         map[string]struct{}
}

func NewReprocess(cfg ReprocessConfig) *Reprocess {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.QualityThreshold <= 0 {
		cfg.QualityThreshold = DefaultQualityThreshold
	}
	if strings.TrimSpace(cfg.CurrentVersion) == "" {
		cfg.CurrentVersion = DefaultCurrentVersion
	}
	if strings.TrimSpace(cfg.PriorityTagsVersion) == "" {
		cfg.PriorityTagsVersion = DefaultPriorityTagsVersion
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}

	tags := make(map[string]struct{}, len(cfg.PriorityTags))
	for _, tag := range cfg.PriorityTags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized != "" {
			tags[normalized] = struct{}{}
		}
	}

	return &Reprocess{
		current:      ParseVersion(cfg.CurrentVersion),
		priorityTags: ParseVersion(cfg.PriorityTagsVersion),
		maxRetries:   cfg.MaxRetries,
		threshold:    cfg.QualityThreshold,
		staleAfter:   cfg.StaleAfter,
		tags:         tags,
	}
}

func (p *Reprocess) CurrentVersion() string {
	return p.current.String()
}

// Evaluate judges a stored record on its own state. Priority tags are read
// from the record, not from the incoming request.
func (p *Reprocess) Evaluate(record *domain.ProcessingRecord, now time.Time) Decision {
	if record == nil {
		return Decision{Reprocess: true, Reason: ReasonRetryFailed}
	}

	if record.ForceReprocess {
		return Decision{Reprocess: true, Reason: ReasonForceRequested}
	}

	if record.Status == domain.RecordStatusProcessing {
		if record.StartedProcessing.IsZero() || now.Sub(record.StartedProcessing) > p.staleAfter {
			return Decision{Reprocess: true, Reason: ReasonStaleProcessing}
		}
		return Decision{Reprocess: false, Reason: ReasonInFlight}
	}

	if record.Status == domain.RecordStatusFailed && record.ErrorCount < p.maxRetries {
		return Decision{Reprocess: true, Reason: ReasonRetryFailed}
	}

	recorded := ParseVersion(record.ProcessingVersion)
	if record.QualityScore < p.threshold && p.current.GreaterThan(recorded) {
		return Decision{Reprocess: true, Reason: ReasonQualityImprovement}
	}

	if p.HasPriorityTag(record.Metadata.Tags) && recorded.LessThan(p.priorityTags) {
		return Decision{Reprocess: true, Reason: ReasonPriorityTags}
	}

	return Decision{Reprocess: false, Reason: ReasonContentAcceptable}
}

func (p *Reprocess) HasPriorityTag(tags []string) bool {
	for _, tag := range tags {
		if _, ok := p.tags[strings.ToLower(strings.TrimSpace(tag))]; ok {
			return true
		}
	}
	return false
}

// ParseVersion is lenient: anything semver cannot read counts as 0.0.0.
func ParseVersion(raw string) *semver.Version {
	version, err := semver.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return semver.New(0, 0, 0, "", "")
	}
	return version
}

// MaxVersion returns whichever of a and b is newer, in its original form.
func MaxVersion(a, b string) string {
	if ParseVersion(a).LessThan(ParseVersion(b)) {
		return b
	}
	if strings.TrimSpace(a) == "" {
		return b
	}
	return a
}
