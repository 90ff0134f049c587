package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/iago/content-router/internal/domain"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// RecordStore is the durable side of the duplicate/state store. Put only
// needs at-least-once semantics; implementations wrap transport failures
// with ErrStorageUnavailable.
type RecordStore interface {
	Get(ctx context.Context, fingerprint string) (*domain.ProcessingRecord, error)
	Put(ctx context.Context, record *domain.ProcessingRecord) error
	// FindByIdentifier resolves a fingerprint, post id, content hash, source
	// URL or normalized URL to the fingerprints it matches.
	FindByIdentifier(ctx context.Context, identifier string) ([]string, error)
}

// MemoryRecordStore keeps records in memory for local development and tests.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*domain.ProcessingRecord
}

var _ RecordStore = (*MemoryRecordStore)(nil)

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]*domain.ProcessingRecord),
	}
}

func (s *MemoryRecordStore) Get(_ context.Context, fingerprint string) (*domain.ProcessingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

func (s *MemoryRecordStore) Put(_ context.Context, record *domain.ProcessingRecord) error {
	if record == nil || strings.TrimSpace(record.Fingerprint) == "" {
		return errors.New("record fingerprint is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Fingerprint] = record.Clone()
	return nil
}

func (s *MemoryRecordStore) FindByIdentifier(_ context.Context, identifier string) ([]string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]string, 0)
	for fingerprint, record := range s.records {
		if matchesIdentifier(record, identifier) {
			matches = append(matches, fingerprint)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func (s *MemoryRecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func matchesIdentifier(record *domain.ProcessingRecord, identifier string) bool {
	switch identifier {
	case record.Fingerprint, record.SecondaryFingerprint, record.Metadata.ContentHash, record.SourceURL:
		return true
	}
	if record.Metadata.PostID != "" && record.Metadata.PostID == identifier {
		return true
	}
	return record.Metadata.NormalizedURL != "" && record.Metadata.NormalizedURL == strings.ToLower(identifier)
}
