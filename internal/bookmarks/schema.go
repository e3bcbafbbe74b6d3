package bookmarks

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Table is the bookmarks table name in every store, primary or attached.
const Table = "bookmarks"

// Columns is the stored projection in scan order.
var Columns = []string{
	"id", "title", "url", "description", "tags",
	"thumbnail_url", "archive_url", "created_at", "updated_at",
}

// RequiredColumns must exist for a bookmarks table to be readable at all.
var RequiredColumns = []string{"id", "title", "url"}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS bookmarks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	description TEXT,
	tags TEXT,
	thumbnail_url TEXT,
	archive_url TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT
);`

const createIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_bookmarks_created ON bookmarks(created_at DESC, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_bookmarks_url ON bookmarks(url);`

// additiveColumns are columns older layouts may lack.
var additiveColumns = []struct {
	name string
	ddl  string
}{
	{name: "description", ddl: "TEXT"},
	{name: "tags", ddl: "TEXT"},
	{name: "thumbnail_url", ddl: "TEXT"},
	{name: "archive_url", ddl: "TEXT"},
	{name: "created_at", ddl: "TEXT"},
	{name: "updated_at", ddl: "TEXT"},
}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TableColumns lists the columns of the bookmarks table in schema
// ("main" or an attached alias). An empty map means the table is missing.
// schema must come from a trusted source.
func TableColumns(ctx context.Context, q Querier, schema string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`PRAGMA %q.table_info(%s)`, schema, Table))
	if err != nil {
		return nil, fmt.Errorf("failed to read table info for %s: %w", schema, err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table info: %w", err)
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

// migrate adds the columns an older on-disk layout lacks. Each column is
// added at most once; running it again is a no-op.
func (s *Store) migrate(ctx context.Context) error {
	existing, err := TableColumns(ctx, s.db.DB(), "main")
	if err != nil {
		return err
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, col := range additiveColumns {
			if existing[col.name] {
				continue
			}
			stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, Table, col.name, col.ddl)
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to add column %s: %w", col.name, err)
			}
			slog.Info("Migrated bookmarks table", "column", col.name)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE bookmarks SET updated_at = created_at WHERE updated_at IS NULL OR updated_at = ''`); err != nil {
			return fmt.Errorf("failed to backfill updated_at: %w", err)
		}
		return nil
	})
}

// UntaggedCondition is the predicate matching rows without tags, for the
// SQL expression col holding the tags column.
func UntaggedCondition(col string) string {
	return fmt.Sprintf(`(%[1]s IS NULL OR TRIM(%[1]s) IN ('', '[]', '[""]'))`, col)
}

// TagValuesSource is a json_each table source over col that tolerates
// malformed tag text.
func TagValuesSource(col string) string {
	return fmt.Sprintf(`json_each(CASE WHEN json_valid(%[1]s) THEN %[1]s ELSE '[]' END)`, col)
}
