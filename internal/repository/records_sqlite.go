package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/iago/content-router/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteRecordStore persists records in a single-file database. Writes are
// serialized through one connection.
type SQLiteRecordStore struct {
	db *sql.DB
}

var _ RecordStore = (*SQLiteRecordStore)(nil)

// OpenSQLite opens (or creates) the database at path and applies pending
// migrations.
func OpenSQLite(path string) (*SQLiteRecordStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteRecordStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteRecordStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteRecordStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// Index 0 migrates v0 to v1, and so on.
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS processing_records (
			fingerprint           TEXT PRIMARY KEY,
			secondary_fingerprint TEXT NOT NULL DEFAULT '',
			status                TEXT NOT NULL,
			post_id               TEXT NOT NULL DEFAULT '',
			content_hash          TEXT NOT NULL DEFAULT '',
			source_url            TEXT NOT NULL DEFAULT '',
			normalized_url        TEXT NOT NULL DEFAULT '',
			processing_version    TEXT NOT NULL DEFAULT '',
			record                TEXT NOT NULL,
			updated_at            TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_post_id ON processing_records(post_id);
		CREATE INDEX IF NOT EXISTS idx_records_content_hash ON processing_records(content_hash);
		CREATE INDEX IF NOT EXISTS idx_records_normalized_url ON processing_records(normalized_url);`,
	}

	for i := version; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *SQLiteRecordStore) Get(ctx context.Context, fingerprint string) (*domain.ProcessingRecord, error) {
	query, args, err := sq.Select("record").
		From(recordsTable).
		Where(sq.Eq{"fingerprint": fingerprint}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}

	var raw string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query record: %w: %w", ErrStorageUnavailable, err)
	}

	var record domain.ProcessingRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", fingerprint, err)
	}
	return &record, nil
}

func (s *SQLiteRecordStore) Put(ctx context.Context, record *domain.ProcessingRecord) error {
	if record == nil || strings.TrimSpace(record.Fingerprint) == "" {
		return errors.New("record fingerprint is required")
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	query, args, err := sq.Insert(recordsTable).
		Columns(
			"fingerprint",
			"secondary_fingerprint",
			"status",
			"post_id",
			"content_hash",
			"source_url",
			"normalized_url",
			"processing_version",
			"record",
			"updated_at",
		).
		Values(
			record.Fingerprint,
			record.SecondaryFingerprint,
			string(record.Status),
			record.Metadata.PostID,
			record.Metadata.ContentHash,
			record.SourceURL,
			record.Metadata.NormalizedURL,
			record.ProcessingVersion,
			string(encoded),
			record.UpdatedAt.UTC().Format(time.RFC3339Nano),
		).
		Suffix(`ON CONFLICT(fingerprint) DO UPDATE SET
			secondary_fingerprint = excluded.secondary_fingerprint,
			status = excluded.status,
			post_id = excluded.post_id,
			content_hash = excluded.content_hash,
			source_url = excluded.source_url,
			normalized_url = excluded.normalized_url,
			processing_version = excluded.processing_version,
			record = excluded.record,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteRecordStore) FindByIdentifier(ctx context.Context, identifier string) ([]string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, nil
	}

	query, args, err := identifierQuery(sq.Question, identifier)
	if err != nil {
		return nil, fmt.Errorf("build identifier query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	return fingerprints, rows.Err()
}
