// Package bookmarks is the record store for saved links.
package bookmarks

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lepinkainen/bookforge/pkg/feed"
	"github.com/lepinkainen/bookforge/pkg/urlutils"
)

// Store errors
var (
	ErrNotFound        = errors.New("bookmark not found")
	ErrReadOnly        = errors.New("bookmark is read-only")
	ErrInvalidBookmark = errors.New("invalid bookmark")
)

// TimeLayout is the stored form of CreatedAt and UpdatedAt: UTC, fixed width,
// so lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000"

// Source tells which store a bookmark was read from.
type Source string

const (
	SourcePrimary   Source = "primary"
	SourceFederated Source = "federated"
)

// Bookmark is a saved link and its enrichment results.
type Bookmark struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	URL          string   `json:"url"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags"`
	ThumbnailURL string   `json:"thumbnail_url,omitempty"`
	ArchiveURL   string   `json:"archive_url,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
	Source       Source   `json:"source"`
}

// ReadOnly reports whether the bookmark came from an attached secondary store.
func (b *Bookmark) ReadOnly() bool {
	return b.Source == SourceFederated
}

// Untagged reports whether the bookmark has no tags.
func (b *Bookmark) Untagged() bool {
	return len(b.Tags) == 0
}

// Created parses CreatedAt. A value that cannot be parsed yields the zero time.
func (b *Bookmark) Created() time.Time {
	t, _ := ParseTime(b.CreatedAt)
	return t
}

// FeedItem converts the bookmark to a feed entry.
func (b *Bookmark) FeedItem() feed.Item {
	return feed.Item{
		ID:          b.ID,
		Title:       b.Title,
		Link:        b.URL,
		Description: b.Description,
		Image:       b.ThumbnailURL,
		Created:     b.Created(),
		Categories:  b.Tags,
	}
}

// NewBookmark is the input to Store.Create.
type NewBookmark struct {
	Title       string
	URL         string
	Description string
	Tags        []string
}

// Validate checks the required fields.
func (n NewBookmark) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidBookmark)
	}
	if !urlutils.IsHTTPURL(n.URL) {
		return fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidBookmark, n.URL)
	}
	return nil
}

// nowFunc is replaced in tests.
var nowFunc = func() time.Time { return time.Now().UTC() }

// FormatTime renders t in the stored timestamp layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

var parseLayouts = []string{
	TimeLayout,
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// ParseTime parses a stored timestamp. Older stores wrote several variants.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
