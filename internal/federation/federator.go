package federation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"

	"github.com/lepinkainen/bookforge/internal/bookmarks"
	"github.com/lepinkainen/bookforge/pkg/database"
)

// Result is one page of a federated query.
type Result struct {
	Bookmarks []*bookmarks.Bookmark
	Total     int
}

// Federator runs queries over the primary database and the attached sources.
type Federator struct {
	db      *database.Database
	sources []Source
}

// New returns a Federator over db and sources. Sources keep their position:
// the k-th source always gets the k-th id namespace.
func New(db *database.Database, sources []Source) *Federator {
	return &Federator{db: db, sources: sources}
}

// Sources returns the configured sources.
func (f *Federator) Sources() []Source {
	return f.sources
}

// Fetch returns the bookmarks matching q, sorted and paged across all sources.
func (f *Federator) Fetch(ctx context.Context, q Query) ([]*bookmarks.Bookmark, error) {
	var result []*bookmarks.Bookmark
	err := f.withSources(ctx, q, func(conn *sql.Conn, plan Plan) error {
		var err error
		result, err = fetch(ctx, conn, plan)
		return err
	})
	return result, err
}

// Count returns the number of bookmarks matching q, ignoring paging.
func (f *Federator) Count(ctx context.Context, q Query) (int, error) {
	var total int
	err := f.withSources(ctx, q, func(conn *sql.Conn, plan Plan) error {
		var err error
		total, err = count(ctx, conn, plan)
		return err
	})
	return total, err
}

// FetchPage returns one page and the total match count from the same
// attached view.
func (f *Federator) FetchPage(ctx context.Context, q Query) (*Result, error) {
	result := &Result{}
	err := f.withSources(ctx, q, func(conn *sql.Conn, plan Plan) error {
		var err error
		if result.Bookmarks, err = fetch(ctx, conn, plan); err != nil {
			return err
		}
		result.Total, err = count(ctx, conn, plan)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func fetch(ctx context.Context, conn *sql.Conn, plan Plan) ([]*bookmarks.Bookmark, error) {
	query, args := plan.SQL()
	slog.Debug("Running federated query", "sources", len(plan.sources), "kind", plan.filter.kind)

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run federated query: %w", err)
	}
	defer rows.Close()

	result := make([]*bookmarks.Bookmark, 0)
	for rows.Next() {
		b, err := bookmarks.ScanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan federated row: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate federated rows: %w", err)
	}
	return result, nil
}

func count(ctx context.Context, conn *sql.Conn, plan Plan) (int, error) {
	query, args := plan.CountSQL()

	var total int
	if err := conn.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count federated rows: %w", err)
	}
	return total, nil
}

// withSources attaches every usable source to a dedicated connection, runs
// fn with the plan for q and detaches again.
func (f *Federator) withSources(ctx context.Context, q Query, fn func(*sql.Conn, Plan) error) error {
	if err := q.Validate(); err != nil {
		return err
	}

	conn, err := f.db.Conn(ctx)
	if err != nil {
		return err
	}

	var maxID int64
	if err := conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM main.bookmarks`).Scan(&maxID); err != nil {
		conn.Close()
		return fmt.Errorf("failed to read primary max id: %w", err)
	}

	attached, aliases := f.attach(ctx, conn, maxID)
	defer release(conn, aliases)

	sources := append([]planSource{{schema: "main", source: bookmarks.SourcePrimary}}, attached...)
	return fn(conn, newPlan(q, sources))
}

// attach returns the usable sources and every alias left attached on conn.
func (f *Federator) attach(ctx context.Context, conn *sql.Conn, maxID int64) (usable, aliases []planSource) {
	for k, src := range f.sources {
		alias := fmt.Sprintf("src_%d", k)
		log := slog.With("source", src.Name, "path", src.Path)

		// ATTACH would silently create a missing file
		if !database.DatabaseExists(src.Path) {
			log.Warn("Skipping federation source: file not found")
			continue
		}

		uri, err := readOnlyURI(src.Path)
		if err != nil {
			log.Warn("Skipping federation source: bad path", "error", err)
			continue
		}
		if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS "+alias, uri); err != nil {
			log.Warn("Skipping federation source: attach failed", "error", err)
			continue
		}

		ps := planSource{schema: alias, source: bookmarks.SourceFederated, offset: NamespaceOffset(maxID, k)}
		aliases = append(aliases, ps)

		columns, err := bookmarks.TableColumns(ctx, conn, alias)
		if err == nil && !hasColumns(columns, bookmarks.RequiredColumns) {
			err = fmt.Errorf("no usable %s table", bookmarks.Table)
		}
		if err != nil {
			log.Warn("Skipping federation source", "error", err)
			continue
		}

		ps.columns = columns
		usable = append(usable, ps)
	}

	return usable, aliases
}

// readOnlyURI returns the SQLite URI opening path without write access.
func readOnlyURI(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro"}
	return u.String(), nil
}

// release drops the attachments and returns conn to the pool. A connection
// that keeps an attachment is discarded instead.
func release(conn *sql.Conn, aliases []planSource) {
	clean := true
	for _, ps := range aliases {
		if _, err := conn.ExecContext(context.Background(), "DETACH DATABASE "+ps.schema); err != nil {
			slog.Warn("Failed to detach federation source", "alias", ps.schema, "error", err)
			clean = false
		}
	}

	if !clean {
		database.Discard(conn)
		return
	}
	if err := conn.Close(); err != nil {
		slog.Debug("Failed to release connection", "error", err)
	}
}

func hasColumns(columns map[string]bool, required []string) bool {
	for _, col := range required {
		if !columns[col] {
			return false
		}
	}
	return true
}
