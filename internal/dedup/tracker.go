package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/iago/content-router/internal/cache"
	"github.com/iago/content-router/internal/domain"
	"github.com/iago/content-router/internal/fingerprint"
	"github.com/iago/content-router/internal/policy"
	"github.com/iago/content-router/internal/repository"
)

const DefaultQualityScore = 0.8

// CheckResult is either Duplicate or NotDuplicate.
type CheckResult interface {
	FingerprintOf() domain.Fingerprint
	isCheckResult()
}

type Duplicate struct {
	Fingerprint domain.Fingerprint
	Record      *domain.ProcessingRecord
	Decision    policy.Decision
}

type NotDuplicate struct {
	Fingerprint domain.Fingerprint
}

func (d Duplicate) FingerprintOf() domain.Fingerprint { return d.Fingerprint }

func (n NotDuplicate) FingerprintOf() domain.Fingerprint { return n.Fingerprint }

func (Duplicate) isCheckResult() {}

func (NotDuplicate) isCheckResult() {}

type Dependencies struct {
	Store  repository.RecordStore
	Cache  *cache.RecordCache
	Policy *policy.Reprocess
	Logger *log.Logger
	Now    func() time.Time
}

// Tracker owns the lifecycle of processing records. The cache always
// reflects the latest transition, even when the durable store rejects it.
type Tracker struct {
	store  repository.RecordStore
	cache  *cache.RecordCache
	policy *policy.Reprocess
	logger *log.Logger
	now    func() time.Time
}

func NewTracker(deps Dependencies) *Tracker {
	if deps.Store == nil {
		deps.Store = repository.NewMemoryRecordStore()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewRecordCache(cache.Config{})
	}
	if deps.Policy == nil {
		deps.Policy = policy.NewReprocess(policy.ReprocessConfig{})
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{
		store:  deps.Store,
		cache:  deps.Cache,
		policy: deps.Policy,
		logger: deps.Logger,
		now:    deps.Now,
	}
}

// CheckIfProcessed looks the item up by primary fingerprint. A read failure
// on the durable store is returned alongside a NotDuplicate result so the
// caller can keep going on cache state alone.
func (t *Tracker) CheckIfProcessed(ctx context.Context, item domain.ContentItem, options domain.RouteOptions) (CheckResult, error) {
	fp := fingerprint.Generate(item)

	record, err := t.load(ctx, fp.Primary)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NotDuplicate{Fingerprint: fp}, nil
		}
		return NotDuplicate{Fingerprint: fp}, err
	}

	decision := t.policy.Evaluate(record, t.now())
	if options.ForceReprocess {
		decision = policy.Decision{Reprocess: true, Reason: policy.ReasonForceRequested}
	}
	return Duplicate{Fingerprint: fp, Record: record, Decision: decision}, nil
}

// MarkAsProcessing overwrites the record for fp with status processing.
// error_count and the newest processing version are carried forward.
func (t *Tracker) MarkAsProcessing(
	ctx context.Context,
	fp domain.Fingerprint,
	item domain.ContentItem,
	contentType domain.ContentType,
) (*domain.ProcessingRecord, error) {
	now := t.now()
	record := &domain.ProcessingRecord{
		Fingerprint:          fp.Primary,
		SecondaryFingerprint: fp.Secondary,
		Status:               domain.RecordStatusProcessing,
		StartedProcessing:    now,
		ProcessingVersion:    t.policy.CurrentVersion(),
		Metadata:             fp.Metadata,
		SourceURL:            strings.TrimSpace(item.URL),
		Title:                strings.TrimSpace(item.Title),
		ContentType:          contentType,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if existing, err := t.load(ctx, fp.Primary); err == nil {
		record.ProcessingVersion = policy.MaxVersion(existing.ProcessingVersion, record.ProcessingVersion)
		record.ErrorCount = existing.ErrorCount
		record.ReprocessReason = existing.ReprocessReason
		record.CreatedAt = existing.CreatedAt
		record.LastProcessed = existing.LastProcessed
		record.QualityScore = existing.QualityScore
		record.Result = existing.Result
		record.RouteTo = existing.RouteTo
		record.Model = existing.Model
	} else if !errors.Is(err, repository.ErrNotFound) {
		t.logf("load existing record fingerprint=%s failed: %v", fp.Primary, err)
	}

	return record, t.save(ctx, record)
}

// MarkAsCompleted stores the result. A negative quality falls back to
// DefaultQualityScore.
func (t *Tracker) MarkAsCompleted(
	ctx context.Context,
	fingerprint string,
	result json.RawMessage,
	quality float64,
	decision domain.RoutingDecision,
) error {
	if quality < 0 {
		quality = DefaultQualityScore
	}
	if quality > 1 {
		quality = 1
	}

	record := t.current(ctx, fingerprint)
	now := t.now()
	record.Status = domain.RecordStatusCompleted
	record.LastProcessed = &now
	record.QualityScore = quality
	record.ErrorCount = 0
	record.LastError = ""
	record.ForceReprocess = false
	record.Result = append(json.RawMessage(nil), result...)
	record.RouteTo = decision.RouteTo
	record.Model = decision.Model
	record.UpdatedAt = now
	return t.save(ctx, record)
}

func (t *Tracker) MarkAsFailed(ctx context.Context, fingerprint string, cause error) error {
	record := t.current(ctx, fingerprint)
	record.Status = domain.RecordStatusFailed
	record.ErrorCount++
	if cause != nil {
		record.LastError = policy.RedactError(cause.Error())
	}
	record.UpdatedAt = t.now()
	return t.save(ctx, record)
}

// ForceReprocess flags every record the identifier resolves to and returns
// their fingerprints. An identifier that matches nothing is not an error.
func (t *Tracker) ForceReprocess(ctx context.Context, identifier, reason string) ([]string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, nil
	}
	if strings.TrimSpace(reason) == "" {
		reason = "manual"
	}

	matches := make(map[string]struct{})
	if _, ok := t.cache.Get(identifier); ok {
		matches[identifier] = struct{}{}
	}

	var lookupErr error
	for _, candidate := range identifierCandidates(identifier) {
		found, err := t.store.FindByIdentifier(ctx, candidate)
		if err != nil {
			lookupErr = fmt.Errorf("resolve identifier %q: %w", candidate, err)
			continue
		}
		for _, fp := range found {
			matches[fp] = struct{}{}
		}
	}

	fingerprints := make([]string, 0, len(matches))
	for fp := range matches {
		fingerprints = append(fingerprints, fp)
	}
	sort.Strings(fingerprints)

	flagged := make([]string, 0, len(fingerprints))
	var errs []error
	if lookupErr != nil {
		errs = append(errs, lookupErr)
	}
	for _, fp := range fingerprints {
		record, err := t.load(ctx, fp)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				errs = append(errs, err)
			}
			continue
		}
		flag := func(r *domain.ProcessingRecord) {
			r.ForceReprocess = true
			r.Status = domain.RecordStatusNeedsReprocessing
			r.ReprocessReason = reason
			r.UpdatedAt = t.now()
		}
		if updated, ok := t.cache.Update(fp, flag); ok {
			record = updated
		} else {
			flag(record)
			t.cache.Set(record)
		}
		if err := t.persist(ctx, record); err != nil {
			errs = append(errs, err)
		}
		flagged = append(flagged, fp)
	}

	t.logf("force reprocess identifier=%q reason=%q flagged=%d", identifier, reason, len(flagged))
	return flagged, errors.Join(errs...)
}

func (t *Tracker) Lookup(ctx context.Context, fingerprint string) (*domain.ProcessingRecord, error) {
	return t.load(ctx, fingerprint)
}

func (t *Tracker) CurrentVersion() string {
	return t.policy.CurrentVersion()
}

// load reads through the cache. A durable hit populates the cache.
func (t *Tracker) load(ctx context.Context, fingerprint string) (*domain.ProcessingRecord, error) {
	if record, ok := t.cache.Get(fingerprint); ok {
		return record, nil
	}

	record, err := t.store.Get(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("load record %s: %w", fingerprint, err)
	}
	t.cache.Set(record)
	return record, nil
}

// current returns the known record for fingerprint, or a fresh one when
// neither the cache nor the store has it.
func (t *Tracker) current(ctx context.Context, fingerprint string) *domain.ProcessingRecord {
	record, err := t.load(ctx, fingerprint)
	if err == nil {
		return record
	}
	if !errors.Is(err, repository.ErrNotFound) {
		t.logf("load record fingerprint=%s failed: %v", fingerprint, err)
	}
	now := t.now()
	return &domain.ProcessingRecord{
		Fingerprint:       fingerprint,
		Status:            domain.RecordStatusNew,
		ProcessingVersion: t.policy.CurrentVersion(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (t *Tracker) save(ctx context.Context, record *domain.ProcessingRecord) error {
	t.cache.Set(record)
	return t.persist(ctx, record)
}

func (t *Tracker) persist(ctx context.Context, record *domain.ProcessingRecord) error {
	if err := t.store.Put(ctx, record); err != nil {
		if errors.Is(err, repository.ErrStorageUnavailable) {
			return fmt.Errorf("persist record %s: %w", record.Fingerprint, err)
		}
		return fmt.Errorf("persist record %s: %w: %w", record.Fingerprint, repository.ErrStorageUnavailable, err)
	}
	return nil
}

func identifierCandidates(identifier string) []string {
	candidates := []string{identifier}
	if strings.Contains(identifier, "://") {
		if normalized := fingerprint.NormalizeURL(identifier); normalized != identifier {
			candidates = append(candidates, normalized)
		}
		if postID := fingerprint.ExtractPostID(identifier); postID != "" {
			candidates = append(candidates, postID)
		}
	}
	return candidates
}

func (t *Tracker) logf(format string, args ...any) {
	if t.logger == nil {
		return
	}
	t.logger.Printf(format, args...)
}
