package cache

import (
	"testing"
	"time"

	"github.com/iago/content-router/internal/domain"
)

func TestRecordCacheReturnsClones(t *testing.T) {
	c := NewRecordCache(Config{})
	record := &domain.ProcessingRecord{Fingerprint: "fp-1", Status: domain.RecordStatusCompleted, Result: []byte(`{"a":1}`)}
	c.Set(record)

	record.Status = domain.RecordStatusFailed

	got, ok := c.Get("fp-1")
	if !ok {
		t.Fatalf("expected cached record")
	}
	if got.Status != domain.RecordStatusCompleted {
		t.Fatalf("expected stored copy to be isolated, got status %s", got.Status)
	}

	got.Result[0] = 'x'
	again, _ := c.Get("fp-1")
	if string(again.Result) != `{"a":1}` {
		t.Fatalf("expected result bytes to be isolated, got %s", again.Result)
	}
}

func TestRecordCacheExpiresEntries(t *testing.T) {
	c := NewRecordCache(Config{TTL: time.Minute})
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	c.Set(&domain.ProcessingRecord{Fingerprint: "fp-1"})
	current = current.Add(2 * time.Minute)

	if _, ok := c.Get("fp-1"); ok {
		t.Fatalf("expected entry to expire")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be removed, len=%d", c.Len())
	}
}

func TestRecordCacheEvictsOldestWhenFull(t *testing.T) {
	c := NewRecordCache(Config{MaxEntries: 2})
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		current = current.Add(time.Second)
		return current
	}

	c.Set(&domain.ProcessingRecord{Fingerprint: "a"})
	c.Set(&domain.ProcessingRecord{Fingerprint: "b"})
	c.Set(&domain.ProcessingRecord{Fingerprint: "c"})

	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected oldest entry to be evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatalf("expected newest entry to be cached")
	}
}

func TestRecordCacheUpdate(t *testing.T) {
	c := NewRecordCache(Config{})
	if _, ok := c.Update("missing", func(*domain.ProcessingRecord) {}); ok {
		t.Fatalf("expected update of missing entry to report false")
	}

	c.Set(&domain.ProcessingRecord{Fingerprint: "fp", Status: domain.RecordStatusProcessing})
	updated, ok := c.Update("fp", func(record *domain.ProcessingRecord) {
		record.Status = domain.RecordStatusCompleted
	})
	if !ok || updated.Status != domain.RecordStatusCompleted {
		t.Fatalf("expected updated record, got %+v", updated)
	}
}
