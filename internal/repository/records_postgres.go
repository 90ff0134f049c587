package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/iago/content-router/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS processing_records (
		fingerprint           TEXT PRIMARY KEY,
		secondary_fingerprint TEXT NOT NULL DEFAULT '',
		status                TEXT NOT NULL,
		post_id               TEXT NOT NULL DEFAULT '',
		content_hash          TEXT NOT NULL DEFAULT '',
		source_url            TEXT NOT NULL DEFAULT '',
		normalized_url        TEXT NOT NULL DEFAULT '',
		processing_version    TEXT NOT NULL DEFAULT '',
		record                JSONB NOT NULL,
		updated_at            TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_processing_records_post_id ON processing_records(post_id);
	CREATE INDEX IF NOT EXISTS idx_processing_records_content_hash ON processing_records(content_hash);
	CREATE INDEX IF NOT EXISTS idx_processing_records_normalized_url ON processing_records(normalized_url);
`

type PostgresRecordStore struct {
	pool *pgxpool.Pool
}

var _ RecordStore = (*PostgresRecordStore)(nil)

func NewPostgresRecordStore(ctx context.Context, databaseURL string) (*PostgresRecordStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure pg schema: %w", err)
	}
	return &PostgresRecordStore{pool: pool}, nil
}

func (s *PostgresRecordStore) Close() {
	s.pool.Close()
}

func (s *PostgresRecordStore) Get(ctx context.Context, fingerprint string) (*domain.ProcessingRecord, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT record
		FROM processing_records
		WHERE fingerprint = $1
	`, fingerprint).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query record: %w: %w", ErrStorageUnavailable, err)
	}

	var record domain.ProcessingRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", fingerprint, err)
	}
	return &record, nil
}

func (s *PostgresRecordStore) Put(ctx context.Context, record *domain.ProcessingRecord) error {
	if record == nil || strings.TrimSpace(record.Fingerprint) == "" {
		return errors.New("record fingerprint is required")
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO processing_records (
			fingerprint,
			secondary_fingerprint,
			status,
			post_id,
			content_hash,
			source_url,
			normalized_url,
			processing_version,
			record,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (fingerprint) DO UPDATE
		SET secondary_fingerprint = EXCLUDED.secondary_fingerprint,
			status = EXCLUDED.status,
			post_id = EXCLUDED.post_id,
			content_hash = EXCLUDED.content_hash,
			source_url = EXCLUDED.source_url,
			normalized_url = EXCLUDED.normalized_url,
			processing_version = EXCLUDED.processing_version,
			record = EXCLUDED.record,
			updated_at = EXCLUDED.updated_at
	`,
		record.Fingerprint,
		record.SecondaryFingerprint,
		string(record.Status),
		record.Metadata.PostID,
		record.Metadata.ContentHash,
		record.SourceURL,
		record.Metadata.NormalizedURL,
		record.ProcessingVersion,
		encoded,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *PostgresRecordStore) FindByIdentifier(ctx context.Context, identifier string) ([]string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, nil
	}

	query, args, err := identifierQuery(sq.Dollar, identifier)
	if err != nil {
		return nil, fmt.Errorf("build identifier query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find records: %w: %w", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	fingerprints := make([]string, 0)
	for rows.Next() {
		var fingerprint string
		if err := rows.Scan(&fingerprint); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		fingerprints = append(fingerprints, fingerprint)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", rows.Err())
	}
	return fingerprints, nil
}
