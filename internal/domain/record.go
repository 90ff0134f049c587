package domain

import (
	"encoding/json"
	"time"
)

type RecordStatus string

const (
	RecordStatusNew               RecordStatus = "new"
	RecordStatusProcessing        RecordStatus = "processing"
	RecordStatusCompleted         RecordStatus = "completed"
	RecordStatusFailed            RecordStatus = "failed"
	RecordStatusNeedsReprocessing RecordStatus = "needs_reprocessing"
)

// FingerprintMetadata holds the normalized fields a fingerprint was derived from.
type FingerprintMetadata struct {
	PostID          string   `json:"post_id"`
	VideoID         string   `json:"video_id,omitempty"`
	NormalizedTitle string   `json:"normalized_title"`
	ContentHash     string   `json:"content_hash"`
	Tags            []string `json:"tags,omitempty"`
	NormalizedURL   string   `json:"normalized_url,omitempty"`
}

// Fingerprint identifies one logical content item. Immutable once computed.
type Fingerprint struct {
	Primary   string              `json:"primary_fingerprint"`
	Secondary string              `json:"secondary_fingerprint"`
	Metadata  FingerprintMetadata `json:"metadata"`
}

// ProcessingRecord is the durable state for a fingerprint.
type ProcessingRecord struct {
	Fingerprint          string              `json:"fingerprint"`
	SecondaryFingerprint string              `json:"secondary_fingerprint,omitempty"`
	Status               RecordStatus        `json:"status"`
	StartedProcessing    time.Time           `json:"started_processing"`
	LastProcessed        *time.Time          `json:"last_processed,omitempty"`
	ProcessingVersion    string              `json:"processing_version"`
	QualityScore         float64             `json:"quality_score"`
	ErrorCount           int                 `json:"error_count"`
	LastError            string              `json:"last_error,omitempty"`
	ForceReprocess       bool                `json:"force_reprocess_flag"`
	ReprocessReason      string              `json:"reprocess_reason,omitempty"`
	Result               json.RawMessage     `json:"result,omitempty"`
	Metadata             FingerprintMetadata `json:"metadata"`
	SourceURL            string              `json:"source_url,omitempty"`
	Title                string              `json:"title,omitempty"`
	ContentType          ContentType         `json:"content_type,omitempty"`
	RouteTo              Destination         `json:"route_to,omitempty"`
	Model                string              `json:"model,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// Clone returns a deep copy so callers never share mutable slices with a store.
func (r *ProcessingRecord) Clone() *ProcessingRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Result = append(json.RawMessage(nil), r.Result...)
	clone.Metadata.Tags = append([]string(nil), r.Metadata.Tags...)
	if r.LastProcessed != nil {
		lastProcessed := *r.LastProcessed
		clone.LastProcessed = &lastProcessed
	}
	return &clone
}
