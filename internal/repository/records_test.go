package repository

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/iago/content-router/internal/domain"
)

func makeRecord(fp, postID, sourceURL string) *domain.ProcessingRecord {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.ProcessingRecord{
		Fingerprint:          fp,
		SecondaryFingerprint: "sec-" + fp,
		Status:               domain.RecordStatusCompleted,
		StartedProcessing:    now,
		ProcessingVersion:    "2.1.0",
		QualityScore:         0.9,
		Result:               json.RawMessage(`{"summary":"ok"}`),
		Metadata: domain.FingerprintMetadata{
			PostID:        postID,
			ContentHash:   "hash-" + fp,
			Tags:          []string{"alpha"},
			NormalizedURL: "https://example.com/posts/" + postID,
		},
		SourceURL: sourceURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newSQLiteStore(t *testing.T) *SQLiteRecordStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func storesUnderTest(t *testing.T) map[string]RecordStore {
	return map[string]RecordStore{
		"memory": NewMemoryRecordStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func TestRecordStoreRoundTrip(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Put(ctx, makeRecord("fp-1", "123", "https://example.com/posts/123")); err != nil {
				t.Fatalf("put: %v", err)
			}

			got, err := store.Get(ctx, "fp-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != domain.RecordStatusCompleted || got.ProcessingVersion != "2.1.0" {
				t.Fatalf("unexpected record: %+v", got)
			}
			if string(got.Result) != `{"summary":"ok"}` {
				t.Fatalf("unexpected result: %s", got.Result)
			}

			updated := makeRecord("fp-1", "123", "https://example.com/posts/123")
			updated.Status = domain.RecordStatusNeedsReprocessing
			updated.ForceReprocess = true
			if err := store.Put(ctx, updated); err != nil {
				t.Fatalf("put update: %v", err)
			}
			got, err = store.Get(ctx, "fp-1")
			if err != nil {
				t.Fatalf("get updated: %v", err)
			}
			if got.Status != domain.RecordStatusNeedsReprocessing || !got.ForceReprocess {
				t.Fatalf("expected upsert to replace record, got %+v", got)
			}
		})
	}
}

func TestRecordStoreGetNotFound(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestRecordStoreFindByIdentifier(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = store.Put(ctx, makeRecord("fp-a", "111", "https://example.com/posts/111"))
			_ = store.Put(ctx, makeRecord("fp-b", "222", "https://example.com/posts/222"))

			cases := map[string]string{
				"fp-a":                          "fp-a",
				"222":                           "fp-b",
				"hash-fp-a":                     "fp-a",
				"https://example.com/posts/222": "fp-b",
				"HTTPS://EXAMPLE.COM/POSTS/111": "fp-a",
				"sec-fp-b":                      "fp-b",
			}
			for identifier, want := range cases {
				got, err := store.FindByIdentifier(ctx, identifier)
				if err != nil {
					t.Fatalf("find %q: %v", identifier, err)
				}
				if len(got) != 1 || got[0] != want {
					t.Fatalf("find %q: expected [%s], got %v", identifier, want, got)
				}
			}

			none, err := store.FindByIdentifier(ctx, "nothing-matches")
			if err != nil {
				t.Fatalf("find unmatched: %v", err)
			}
			if len(none) != 0 {
				t.Fatalf("expected no matches, got %v", none)
			}
		})
	}
}

func TestMemoryRecordStoreReturnsCopies(t *testing.T) {
	store := NewMemoryRecordStore()
	ctx := context.Background()
	_ = store.Put(ctx, makeRecord("fp-1", "1", ""))

	got, _ := store.Get(ctx, "fp-1")
	got.Metadata.Tags[0] = "mutated"

	again, _ := store.Get(ctx, "fp-1")
	if again.Metadata.Tags[0] != "alpha" {
		t.Fatalf("stored record was mutated through a returned copy")
	}
}

func TestSQLiteMigrationIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	first, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := first.Put(context.Background(), makeRecord("fp-1", "1", "")); err != nil {
		t.Fatalf("put: %v", err)
	}
	first.Close()

	second, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer second.Close()
	if _, err := second.Get(context.Background(), "fp-1"); err != nil {
		t.Fatalf("record lost across reopen: %v", err)
	}
}
