package bookmarks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lepinkainen/bookforge/pkg/database"
)

// Store persists bookmarks in the primary database. All writes go through
// the database's single-writer transaction.
type Store struct {
	db *database.Database
}

// NewStore prepares the bookmarks table in db, migrating older layouts.
func NewStore(ctx context.Context, db *database.Database) (*Store, error) {
	s := &Store{db: db}

	if err := db.ExecuteSchema(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create bookmarks table: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate bookmarks table: %w", err)
	}
	if err := db.ExecuteSchema(ctx, createIndexesSQL); err != nil {
		return nil, fmt.Errorf("failed to create bookmarks indexes: %w", err)
	}

	return s, nil
}

// Database returns the handle the store writes to.
func (s *Store) Database() *database.Database {
	return s.db
}

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// ScanBookmark reads Columns followed by a source label.
func ScanBookmark(row RowScanner) (*Bookmark, error) {
	var (
		b                        Bookmark
		title, url, desc, tags   sql.NullString
		thumb, archive           sql.NullString
		created, updated, source sql.NullString
	)

	if err := row.Scan(&b.ID, &title, &url, &desc, &tags, &thumb, &archive, &created, &updated, &source); err != nil {
		return nil, err
	}

	b.Title = title.String
	b.URL = url.String
	b.Description = desc.String
	b.Tags = DecodeTags(tags)
	b.ThumbnailURL = thumb.String
	b.ArchiveURL = archive.String
	b.CreatedAt = created.String
	b.UpdatedAt = updated.String
	if b.UpdatedAt == "" {
		b.UpdatedAt = b.CreatedAt
	}
	b.Source = SourcePrimary
	if source.String == string(SourceFederated) {
		b.Source = SourceFederated
	}

	return &b, nil
}

var selectSQL = "SELECT " + strings.Join(Columns, ", ") + ", 'primary' FROM bookmarks"

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBookmark(ctx context.Context, q rowQuerier, id int64) (*Bookmark, error) {
	b, err := ScanBookmark(q.QueryRowContext(ctx, selectSQL+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bookmark %d: %w", id, err)
	}
	return b, nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Bookmark, error) {
	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookmarks: %w", err)
	}
	defer rows.Close()

	var result []*Bookmark
	for rows.Next() {
		b, err := ScanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookmarks: %w", err)
	}
	return result, nil
}

// Create validates and inserts a bookmark, returning the stored record.
func (s *Store) Create(ctx context.Context, nb NewBookmark) (*Bookmark, error) {
	if err := nb.Validate(); err != nil {
		return nil, err
	}

	now := FormatTime(nowFunc())
	var created *Bookmark

	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO bookmarks (title, url, description, tags, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			strings.TrimSpace(nb.Title),
			strings.TrimSpace(nb.URL),
			strings.TrimSpace(nb.Description),
			EncodeTags(NormalizeTags(nb.Tags)),
			now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert bookmark: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read new bookmark id: %w", err)
		}

		created, err = getBookmark(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Get returns the primary bookmark with id.
func (s *Store) Get(ctx context.Context, id int64) (*Bookmark, error) {
	return getBookmark(ctx, s.db.DB(), id)
}

// GetByURL returns the oldest primary bookmark saved for rawURL.
func (s *Store) GetByURL(ctx context.Context, rawURL string) (*Bookmark, error) {
	b, err := ScanBookmark(s.db.DB().QueryRowContext(ctx, selectSQL+" WHERE url = ? ORDER BY id LIMIT 1", strings.TrimSpace(rawURL)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: url %s", ErrNotFound, rawURL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bookmark by url: %w", err)
	}
	return b, nil
}

// updatable columns; update never formats caller input into SQL.
const (
	colTitle       = "title"
	colDescription = "description"
	colTags        = "tags"
	colThumbnail   = "thumbnail_url"
	colArchive     = "archive_url"
)

func (s *Store) update(ctx context.Context, id int64, column string, value any) error {
	query := fmt.Sprintf(`UPDATE bookmarks SET %s = ?, updated_at = MAX(?, COALESCE(created_at, '')) WHERE id = ?`, column)

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, value, FormatTime(nowFunc()), id)
		if err != nil {
			return fmt.Errorf("failed to update %s of bookmark %d: %w", column, id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil
	})
}

// UpdateTitle replaces the title.
func (s *Store) UpdateTitle(ctx context.Context, id int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidBookmark)
	}
	return s.update(ctx, id, colTitle, title)
}

// UpdateDescription replaces the description. An empty value clears it.
func (s *Store) UpdateDescription(ctx context.Context, id int64, description string) error {
	return s.update(ctx, id, colDescription, strings.TrimSpace(description))
}

// UpdateTags replaces the tag set with the normalized tags.
func (s *Store) UpdateTags(ctx context.Context, id int64, tags []string) error {
	return s.update(ctx, id, colTags, EncodeTags(NormalizeTags(tags)))
}

// SetThumbnailURL records a derived thumbnail. It never clears one.
func (s *Store) SetThumbnailURL(ctx context.Context, id int64, thumbnailURL string) error {
	if strings.TrimSpace(thumbnailURL) == "" {
		return fmt.Errorf("%w: empty thumbnail url", ErrInvalidBookmark)
	}
	return s.update(ctx, id, colThumbnail, thumbnailURL)
}

// SetArchiveURL records an archived snapshot. It never clears one.
func (s *Store) SetArchiveURL(ctx context.Context, id int64, archiveURL string) error {
	if strings.TrimSpace(archiveURL) == "" {
		return fmt.Errorf("%w: empty archive url", ErrInvalidBookmark)
	}
	return s.update(ctx, id, colArchive, archiveURL)
}

// Filled reports which fields FillMissing wrote.
type Filled struct {
	Tags        bool
	Description bool
}

// Any reports whether anything was written.
func (f Filled) Any() bool {
	return f.Tags || f.Description
}

// FillMissing writes tags and description only where the stored bookmark
// has none. Both fields are written in one transaction, so a concurrent edit
// is never overwritten.
func (s *Store) FillMissing(ctx context.Context, id int64, tags []string, description string) (Filled, error) {
	var filled Filled
	tags = NormalizeTags(tags)
	description = strings.TrimSpace(description)

	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		current, err := getBookmark(ctx, tx, id)
		if err != nil {
			return err
		}

		newTags := current.Tags
		if current.Untagged() && len(tags) > 0 {
			newTags = tags
			filled.Tags = true
		}
		newDescription := current.Description
		if strings.TrimSpace(current.Description) == "" && description != "" {
			newDescription = description
			filled.Description = true
		}
		if !filled.Any() {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE bookmarks SET tags = ?, description = ?, updated_at = MAX(?, COALESCE(created_at, '')) WHERE id = ?`,
			EncodeTags(newTags), newDescription, FormatTime(nowFunc()), id)
		if err != nil {
			return fmt.Errorf("failed to fill bookmark %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return Filled{}, err
	}

	return filled, nil
}

// Delete removes the bookmark with id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM bookmarks WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete bookmark %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil
	})
}

// MaxID returns the largest primary id, or 0 for an empty store.
func (s *Store) MaxID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.DB().QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM bookmarks`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read max id: %w", err)
	}
	return id, nil
}

// Count returns the number of primary bookmarks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM bookmarks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bookmarks: %w", err)
	}
	return n, nil
}

// CountUntagged returns the number of primary bookmarks without tags.
func (s *Store) CountUntagged(ctx context.Context) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM bookmarks WHERE ` + UntaggedCondition("tags")
	if err := s.db.DB().QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count untagged bookmarks: %w", err)
	}
	return n, nil
}

// All returns every primary bookmark, newest first.
func (s *Store) All(ctx context.Context) ([]*Bookmark, error) {
	return s.list(ctx, selectSQL+" ORDER BY created_at DESC, updated_at DESC, id DESC")
}

// SnapshotTo writes a consistent copy of the store to path.
func (s *Store) SnapshotTo(ctx context.Context, path string) error {
	return s.db.SnapshotTo(ctx, path)
}
