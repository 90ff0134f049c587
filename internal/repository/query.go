package repository

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

const recordsTable = "processing_records"

// identifierQuery selects fingerprints whose indexed columns match identifier.
func identifierQuery(format sq.PlaceholderFormat, identifier string) (string, []any, error) {
	return sq.StatementBuilder.
		PlaceholderFormat(format).
		Select("fingerprint").
		From(recordsTable).
		Where(sq.Or{
			sq.Eq{"fingerprint": identifier},
			sq.Eq{"secondary_fingerprint": identifier},
			sq.Eq{"post_id": identifier},
			sq.Eq{"content_hash": identifier},
			sq.Eq{"source_url": identifier},
			sq.Eq{"normalized_url": strings.ToLower(identifier)},
		}).
		OrderBy("fingerprint").
		ToSql()
}
