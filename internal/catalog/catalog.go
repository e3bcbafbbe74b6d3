// Package catalog is the entry point for adding, editing and reading
// bookmarks. Writes go to the primary store; reads go through the federator.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lepinkainen/bookforge/internal/bookmarks"
	"github.com/lepinkainen/bookforge/internal/enrich"
	"github.com/lepinkainen/bookforge/internal/federation"
	"github.com/lepinkainen/bookforge/pkg/feed"
	"github.com/lepinkainen/bookforge/pkg/publish"
)

// ErrDuplicate is returned by Add together with the already stored bookmark.
var ErrDuplicate = errors.New("bookmark already exists")

// Enricher runs enrichment and the completion hook.
type Enricher interface {
	Schedule(id int64) bool
	Changed() bool
	Enrich(ctx context.Context, id int64) ([]enrich.Outcome, error)
	WaitForThumbnail(ctx context.Context, id int64, interval time.Duration, attempts int) (string, error)
}

// Options locate the generated feeds.
type Options struct {
	FeedDir  string
	RSSFile  string
	AtomFile string
}

// Stats are the collection counts shown next to a listing.
type Stats struct {
	// Total counts every source
	Total    int
	Primary  int
	Untagged int
}

// Page is one page of a listing.
type Page struct {
	Bookmarks []*bookmarks.Bookmark
	Total     int
	Page      int
	PerPage   int
}

// Catalog ties the store, federator, feeds and publisher together.
type Catalog struct {
	store     *bookmarks.Store
	federator *federation.Federator
	generator *feed.Generator
	publisher *publish.Publisher
	describer enrich.Describer
	enricher  Enricher
	opts      Options
}

// New creates a Catalog. publisher and describer may be nil.
func New(store *bookmarks.Store, federator *federation.Federator, generator *feed.Generator, publisher *publish.Publisher, describer enrich.Describer, opts Options) *Catalog {
	if opts.FeedDir == "" {
		opts.FeedDir = "public"
	}
	if opts.RSSFile == "" {
		opts.RSSFile = "bookmarks.rss"
	}
	if opts.AtomFile == "" {
		opts.AtomFile = "bookmarks.atom"
	}
	return &Catalog{
		store:     store,
		federator: federator,
		generator: generator,
		publisher: publisher,
		describer: describer,
		opts:      opts,
	}
}

// SetEnricher installs the background enricher. Until one is set, changes
// are not published automatically.
func (c *Catalog) SetEnricher(e Enricher) {
	c.enricher = e
}

// Refresh regenerates and publishes, logging failures. It is the completion
// hook of the enricher.
func (c *Catalog) Refresh(ctx context.Context) {
	if err := c.Regenerate(ctx); err != nil {
		slog.Error("Failed to regenerate feeds", "error", err)
	}
}

func (c *Catalog) changed() {
	if c.enricher != nil {
		c.enricher.Changed()
	}
}

// Add stores a new bookmark and schedules its enrichment. An URL that is
// already stored returns the existing bookmark and ErrDuplicate.
func (c *Catalog) Add(ctx context.Context, title, url, description string, tags []string) (*bookmarks.Bookmark, error) {
	nb := bookmarks.NewBookmark{Title: title, URL: url, Description: description, Tags: tags}
	if err := nb.Validate(); err != nil {
		return nil, err
	}

	existing, err := c.store.GetByURL(ctx, url)
	if err == nil {
		return existing, fmt.Errorf("%w: id %d", ErrDuplicate, existing.ID)
	}
	if !errors.Is(err, bookmarks.ErrNotFound) {
		return nil, err
	}

	b, err := c.store.Create(ctx, nb)
	if err != nil {
		return nil, fmt.Errorf("failed to add bookmark: %w", err)
	}
	slog.Info("Bookmark added", "id", b.ID, "url", b.URL)

	if c.enricher != nil && !c.enricher.Schedule(b.ID) {
		slog.Warn("Enrichment not scheduled", "id", b.ID)
	}
	return b, nil
}

// writable resolves id to a primary bookmark. Ids in a federated namespace
// are refused with ErrReadOnly.
func (c *Catalog) writable(ctx context.Context, id int64) (*bookmarks.Bookmark, error) {
	b, err := c.store.Get(ctx, id)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, bookmarks.ErrNotFound) {
		return nil, err
	}

	if len(c.federator.Sources()) > 0 {
		maxID, maxErr := c.store.MaxID(ctx)
		if maxErr != nil {
			return nil, maxErr
		}
		if id > maxID {
			return nil, fmt.Errorf("%w: id %d belongs to an attached source", bookmarks.ErrReadOnly, id)
		}
	}
	return nil, err
}

func (c *Catalog) edit(ctx context.Context, id int64, apply func(context.Context, int64) error) error {
	if _, err := c.writable(ctx, id); err != nil {
		return err
	}
	if err := apply(ctx, id); err != nil {
		return err
	}
	c.changed()
	return nil
}

// EditTitle replaces the title of a primary bookmark.
func (c *Catalog) EditTitle(ctx context.Context, id int64, title string) error {
	return c.edit(ctx, id, func(ctx context.Context, id int64) error {
		return c.store.UpdateTitle(ctx, id, title)
	})
}

// EditDescription replaces the description of a primary bookmark.
func (c *Catalog) EditDescription(ctx context.Context, id int64, description string) error {
	return c.edit(ctx, id, func(ctx context.Context, id int64) error {
		return c.store.UpdateDescription(ctx, id, description)
	})
}

// EditTags replaces the tags of a primary bookmark.
func (c *Catalog) EditTags(ctx context.Context, id int64, tags []string) error {
	return c.edit(ctx, id, func(ctx context.Context, id int64) error {
		return c.store.UpdateTags(ctx, id, tags)
	})
}

// Delete removes a primary bookmark.
func (c *Catalog) Delete(ctx context.Context, id int64) error {
	return c.edit(ctx, id, c.store.Delete)
}

// List runs a federated query.
func (c *Catalog) List(ctx context.Context, q federation.Query) (*Page, error) {
	if q.PerPage > 0 && q.Page < 1 {
		q.Page = 1
	}

	result, err := c.federator.FetchPage(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Page{
		Bookmarks: result.Bookmarks,
		Total:     result.Total,
		Page:      q.Page,
		PerPage:   q.PerPage,
	}, nil
}

// Random returns one bookmark picked uniformly from every source.
func (c *Catalog) Random(ctx context.Context) (*bookmarks.Bookmark, error) {
	result, err := c.federator.Fetch(ctx, federation.Query{Kind: federation.KindRandom, PerPage: 1})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", bookmarks.ErrNotFound)
	}
	return result[0], nil
}

// Stats counts the whole catalog and the untagged primary bookmarks.
func (c *Catalog) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	var err error
	if stats.Total, err = c.federator.Count(ctx, federation.Query{Kind: federation.KindNewest}); err != nil {
		return Stats{}, err
	}
	if stats.Primary, err = c.store.Count(ctx); err != nil {
		return Stats{}, err
	}
	if stats.Untagged, err = c.store.CountUntagged(ctx); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Get returns a bookmark from the primary store or any attached source.
func (c *Catalog) Get(ctx context.Context, id int64) (*bookmarks.Bookmark, error) {
	b, err := c.writable(ctx, id)
	if !errors.Is(err, bookmarks.ErrReadOnly) {
		return b, err
	}

	all, err := c.federator.Fetch(ctx, federation.Query{Kind: federation.KindNewest})
	if err != nil {
		return nil, err
	}
	for _, b := range all {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", bookmarks.ErrNotFound, id)
}

// Tags lists the tags in use in the primary store.
func (c *Catalog) Tags(ctx context.Context, order bookmarks.TagOrder) ([]bookmarks.TagCount, error) {
	return c.store.UniqueTags(ctx, order)
}

// FeedPaths returns where Regenerate writes the RSS and Atom documents.
func (c *Catalog) FeedPaths() (rss, atom string) {
	return filepath.Join(c.opts.FeedDir, c.opts.RSSFile), filepath.Join(c.opts.FeedDir, c.opts.AtomFile)
}

// Regenerate renders the feeds from the primary store and publishes them
// together with a database snapshot. Publish failures are only logged.
func (c *Catalog) Regenerate(ctx context.Context) error {
	all, err := c.store.All(ctx)
	if err != nil {
		return err
	}

	items := make([]feed.Item, 0, len(all))
	for _, b := range all {
		items = append(items, b.FeedItem())
	}

	rssPath, atomPath := c.FeedPaths()
	if err := c.generator.SaveToFile(items, feed.RSS, rssPath); err != nil {
		return fmt.Errorf("failed to write rss feed: %w", err)
	}
	if err := c.generator.SaveToFile(items, feed.Atom, atomPath); err != nil {
		return fmt.Errorf("failed to write atom feed: %w", err)
	}

	if c.publisher != nil {
		c.publisher.PublishFeeds(ctx, rssPath, atomPath)
		c.publisher.PublishDatabase(ctx)
	}
	return nil
}

// Backup publishes a database snapshot now.
func (c *Catalog) Backup(ctx context.Context) {
	if c.publisher == nil {
		slog.Warn("No publisher configured, skipping backup")
		return
	}
	c.publisher.PublishDatabase(ctx)
}

// Describe runs only the AI describer for id and publishes if anything was
// filled.
func (c *Catalog) Describe(ctx context.Context, id int64) (bookmarks.Filled, error) {
	if c.describer == nil {
		return bookmarks.Filled{}, errors.New("ai describer is not configured")
	}

	b, err := c.writable(ctx, id)
	if err != nil {
		return bookmarks.Filled{}, err
	}

	filled, err := c.describer.Describe(ctx, b)
	if err != nil {
		return bookmarks.Filled{}, err
	}
	if filled.Any() {
		c.changed()
	}
	return filled, nil
}

// Enrich runs every enrichment stage for id and waits for the outcomes.
func (c *Catalog) Enrich(ctx context.Context, id int64) ([]enrich.Outcome, error) {
	if c.enricher == nil {
		return nil, errors.New("enrichment is not configured")
	}
	if _, err := c.writable(ctx, id); err != nil {
		return nil, err
	}
	return c.enricher.Enrich(ctx, id)
}

// WaitForThumbnail polls until id has a thumbnail or attempts run out.
func (c *Catalog) WaitForThumbnail(ctx context.Context, id int64, interval time.Duration, attempts int) (string, error) {
	if c.enricher == nil {
		return "", errors.New("enrichment is not configured")
	}
	return c.enricher.WaitForThumbnail(ctx, id, interval, attempts)
}
