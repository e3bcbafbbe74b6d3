package catalog

import (
	"context"
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lepinkainen/bookforge/internal/bookmarks"
	"github.com/lepinkainen/bookforge/internal/enrich"
	"github.com/lepinkainen/bookforge/internal/federation"
	"github.com/lepinkainen/bookforge/pkg/database"
	"github.com/lepinkainen/bookforge/pkg/feed"
	"github.com/lepinkainen/bookforge/pkg/publish"
)

type fakeEnricher struct {
	mu        sync.Mutex
	scheduled []int64
	changed   int
}

func (f *fakeEnricher) Schedule(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, id)
	return true
}

func (f *fakeEnricher) Changed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed++
	return true
}

func (f *fakeEnricher) Enrich(_ context.Context, id int64) ([]enrich.Outcome, error) {
	return []enrich.Outcome{{BookmarkID: id, Kind: enrich.KindThumbnail, Status: enrich.StatusSkipped}}, nil
}

func (f *fakeEnricher) WaitForThumbnail(context.Context, int64, time.Duration, int) (string, error) {
	return "", nil
}

type fakeDescriber struct {
	store *bookmarks.Store
}

func (f *fakeDescriber) Describe(ctx context.Context, b *bookmarks.Bookmark) (bookmarks.Filled, error) {
	return f.store.FillMissing(ctx, b.ID, []string{"generated"}, "Generated description.")
}

type fixture struct {
	catalog  *Catalog
	store    *bookmarks.Store
	enricher *fakeEnricher
	public   string
	backups  string
}

func openDB(t *testing.T, path string) *database.Database {
	t.Helper()
	db, err := database.Open(database.Config{Path: path})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	return db
}

// secondary creates an attached source holding one bookmark.
func secondary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "old.db")
	db := openDB(t, path)
	defer db.Close()

	store, err := bookmarks.NewStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, err := store.Create(context.Background(), bookmarks.NewBookmark{Title: "Archived link", URL: "https://old.example/"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return path
}

func newFixture(t *testing.T, sources ...federation.Source) *fixture {
	t.Helper()
	dir := t.TempDir()

	db := openDB(t, filepath.Join(dir, "bookmarks.db"))
	t.Cleanup(func() { db.Close() })

	store, err := bookmarks.NewStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	public := filepath.Join(dir, "public")
	uploader, err := publish.NewLocalUploader(public, "https://bookmarks.example.com")
	if err != nil {
		t.Fatalf("NewLocalUploader() error = %v", err)
	}
	backups := filepath.Join(dir, "backups")
	publisher := publish.NewPublisher(uploader, db, publish.Options{BackupDir: backups, BackupKeep: 3})

	generator := feed.NewGenerator(feed.Config{
		Title:       "Bookmarks",
		Link:        "https://bookmarks.example.com",
		Description: "Saved links",
		Placeholder: "https://bookmarks.example.com/placeholder/%d.png",
	})

	c := New(store, federation.New(db, sources), generator, publisher, &fakeDescriber{store: store}, Options{FeedDir: filepath.Join(dir, "feeds")})
	enricher := &fakeEnricher{}
	c.SetEnricher(enricher)

	return &fixture{catalog: c, store: store, enricher: enricher, public: public, backups: backups}
}

func TestAddSchedulesEnrichment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.catalog.Add(ctx, "Go", "https://go.dev/", "", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if len(f.enricher.scheduled) != 1 || f.enricher.scheduled[0] != b.ID {
		t.Errorf("scheduled = %v, want [%d]", f.enricher.scheduled, b.ID)
	}

	again, err := f.catalog.Add(ctx, "Go again", "https://go.dev/", "", nil)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Add() duplicate error = %v, want ErrDuplicate", err)
	}
	if again == nil || again.ID != b.ID {
		t.Errorf("duplicate Add() returned %+v, want existing id %d", again, b.ID)
	}
	if len(f.enricher.scheduled) != 1 {
		t.Errorf("duplicate was scheduled: %v", f.enricher.scheduled)
	}
}

func TestAddRejectsInvalid(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		title string
		url   string
	}{
		{name: "no title", title: " ", url: "https://go.dev/"},
		{name: "relative url", title: "Go", url: "/go"},
		{name: "ftp url", title: "Go", url: "ftp://go.dev/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.catalog.Add(context.Background(), tt.title, tt.url, "", nil); !errors.Is(err, bookmarks.ErrInvalidBookmark) {
				t.Errorf("Add() error = %v, want ErrInvalidBookmark", err)
			}
		})
	}
	if len(f.enricher.scheduled) != 0 {
		t.Errorf("invalid bookmarks were scheduled: %v", f.enricher.scheduled)
	}
}

func TestEditsTriggerChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, err := f.catalog.Add(ctx, "Go", "https://go.dev/", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.catalog.EditTitle(ctx, b.ID, "The Go language"); err != nil {
		t.Errorf("EditTitle() error = %v", err)
	}
	if err := f.catalog.EditDescription(ctx, b.ID, "Home of Go."); err != nil {
		t.Errorf("EditDescription() error = %v", err)
	}
	if err := f.catalog.EditTags(ctx, b.ID, []string{"Go", "lang"}); err != nil {
		t.Errorf("EditTags() error = %v", err)
	}

	got, err := f.catalog.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "The Go language" || got.Description != "Home of Go." || strings.Join(got.Tags, ",") != "go,lang" {
		t.Errorf("Get() = %+v", got)
	}

	if err := f.catalog.Delete(ctx, b.ID); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
	if f.enricher.changed != 4 {
		t.Errorf("Changed() called %d times, want 4", f.enricher.changed)
	}

	if err := f.catalog.Delete(ctx, b.ID); !errors.Is(err, bookmarks.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestFederatedBookmarksAreReadOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, federation.Source{Name: "old", Path: secondary(t)})

	if _, err := f.catalog.Add(ctx, "Go", "https://go.dev/", "", nil); err != nil {
		t.Fatal(err)
	}

	page, err := f.catalog.List(ctx, federation.Query{Kind: federation.KindNewest})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("List() total = %d, want 2", page.Total)
	}

	var federated *bookmarks.Bookmark
	for _, b := range page.Bookmarks {
		if b.ReadOnly() {
			federated = b
		}
	}
	if federated == nil {
		t.Fatal("no federated bookmark in listing")
	}

	got, err := f.catalog.Get(ctx, federated.ID)
	if err != nil {
		t.Fatalf("Get(federated) error = %v", err)
	}
	if got.URL != "https://old.example/" || !got.ReadOnly() {
		t.Errorf("Get(federated) = %+v", got)
	}

	checks := map[string]error{
		"title":       f.catalog.EditTitle(ctx, federated.ID, "x"),
		"description": f.catalog.EditDescription(ctx, federated.ID, "x"),
		"tags":        f.catalog.EditTags(ctx, federated.ID, []string{"x"}),
		"delete":      f.catalog.Delete(ctx, federated.ID),
	}
	for name, err := range checks {
		if !errors.Is(err, bookmarks.ErrReadOnly) {
			t.Errorf("%s on federated id: error = %v, want ErrReadOnly", name, err)
		}
	}
	if _, err := f.catalog.Enrich(ctx, federated.ID); !errors.Is(err, bookmarks.ErrReadOnly) {
		t.Errorf("Enrich(federated) error = %v, want ErrReadOnly", err)
	}
	if f.enricher.changed != 0 {
		t.Errorf("Changed() called %d times for refused edits", f.enricher.changed)
	}
}

func TestListPaging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, u := range []string{"https://a.example/", "https://b.example/", "https://c.example/"} {
		if _, err := f.catalog.Add(ctx, u, u, "", nil); err != nil {
			t.Fatal(err)
		}
	}

	page, err := f.catalog.List(ctx, federation.Query{Kind: federation.KindOldest, PerPage: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Page != 1 || page.PerPage != 2 || page.Total != 3 || len(page.Bookmarks) != 2 {
		t.Errorf("List() = page %d per %d total %d len %d", page.Page, page.PerPage, page.Total, len(page.Bookmarks))
	}

	if _, err := f.catalog.List(ctx, federation.Query{Kind: federation.KindTag}); !errors.Is(err, federation.ErrInvalidQuery) {
		t.Errorf("List(tag without tag) error = %v, want ErrInvalidQuery", err)
	}
}

func TestRegeneratePublishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.catalog.Add(ctx, "Go <b>lang</b>", "https://go.dev/", "", []string{"go"}); err != nil {
		t.Fatal(err)
	}

	if err := f.catalog.Regenerate(ctx); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}

	rssPath, atomPath := f.catalog.FeedPaths()
	for _, path := range []string{rssPath, atomPath} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("feed %s not written: %v", path, err)
		}
	}

	rss, err := os.ReadFile(filepath.Join(f.public, "bookmarks.rss"))
	if err != nil {
		t.Fatalf("published rss missing: %v", err)
	}
	for _, want := range []string{"<![CDATA[Go lang]]>", "<category>go</category>", "bookmark-1", "placeholder/1.png"} {
		if !strings.Contains(string(rss), want) {
			t.Errorf("rss missing %q", want)
		}
	}

	if _, err := os.Stat(filepath.Join(f.public, "bookmarks.atom")); err != nil {
		t.Errorf("published atom missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.public, "bookmarks.db")); err != nil {
		t.Errorf("published database missing: %v", err)
	}
	backups, _ := filepath.Glob(filepath.Join(f.backups, "*-bookmarks.db"))
	if len(backups) != 1 {
		t.Errorf("backups = %v, want one", backups)
	}
}

func TestDescribe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, err := f.catalog.Add(ctx, "Go", "https://go.dev/", "Kept.", nil)
	if err != nil {
		t.Fatal(err)
	}

	filled, err := f.catalog.Describe(ctx, b.ID)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if !filled.Tags || filled.Description {
		t.Errorf("Describe() filled = %+v, want tags only", filled)
	}

	got, _ := f.catalog.Get(ctx, b.ID)
	if got.Description != "Kept." || strings.Join(got.Tags, ",") != "generated" {
		t.Errorf("after Describe() = %+v", got)
	}
	if f.enricher.changed != 1 {
		t.Errorf("Changed() called %d times, want 1", f.enricher.changed)
	}

	if _, err := f.catalog.Describe(ctx, 999); !errors.Is(err, bookmarks.ErrNotFound) {
		t.Errorf("Describe(missing) error = %v, want ErrNotFound", err)
	}
}

func TestTags(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.catalog.Add(ctx, "A", "https://a.example/", "", []string{"go", "db"})
	f.catalog.Add(ctx, "B", "https://b.example/", "", []string{"go"})

	tags, err := f.catalog.Tags(ctx, bookmarks.TagsByFrequency)
	if err != nil {
		t.Fatalf("Tags() error = %v", err)
	}
	if len(tags) != 2 || tags[0].Name != "go" || tags[0].Count != 2 {
		t.Errorf("Tags() = %+v", tags)
	}
}

func publishedItems(t *testing.T, f *fixture) int {
	t.Helper()
	if err := f.catalog.Regenerate(context.Background()); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(f.public, "bookmarks.rss"))
	if err != nil {
		t.Fatalf("published rss missing: %v", err)
	}
	var doc feed.RSSDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("published rss is not XML: %v", err)
	}
	return len(doc.Channel.Items)
}

func TestDeleteShrinksListingAndFeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, federation.Source{Name: "old", Path: secondary(t)})

	var ids []int64
	for _, u := range []string{"https://a.example/", "https://b.example/", "https://c.example/"} {
		b, err := f.catalog.Add(ctx, u, u, "", nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, b.ID)
	}

	before := publishedItems(t, f)
	if before != 3 {
		t.Fatalf("feed items = %d, want 3 primary bookmarks", before)
	}

	if err := f.catalog.Delete(ctx, ids[1]); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if after := publishedItems(t, f); after != before-1 {
		t.Errorf("feed items after delete = %d, want %d", after, before-1)
	}

	page, err := f.catalog.List(ctx, federation.Query{Kind: federation.KindNewest})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 3 {
		t.Errorf("List() total = %d, want 2 primary and 1 federated", page.Total)
	}
	for _, b := range page.Bookmarks {
		if b.ID == ids[1] {
			t.Errorf("deleted bookmark %d still listed", b.ID)
		}
	}
}

func TestRandom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.catalog.Random(ctx); !errors.Is(err, bookmarks.ErrNotFound) {
		t.Errorf("Random() on empty catalog error = %v, want ErrNotFound", err)
	}

	b, err := f.catalog.Add(ctx, "Go", "https://go.dev/", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.catalog.Random(ctx)
	if err != nil {
		t.Fatalf("Random() error = %v", err)
	}
	if got.ID != b.ID {
		t.Errorf("Random() = %d, want %d", got.ID, b.ID)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, federation.Source{Name: "old", Path: secondary(t)})
	f.catalog.Add(ctx, "A", "https://a.example/", "", []string{"go"})
	f.catalog.Add(ctx, "B", "https://b.example/", "", nil)

	stats, err := f.catalog.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats != (Stats{Total: 3, Primary: 2, Untagged: 1}) {
		t.Errorf("Stats() = %+v", stats)
	}
}
