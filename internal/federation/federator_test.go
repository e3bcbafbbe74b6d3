package federation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/lepinkainen/bookforge/internal/bookmarks"
	"github.com/lepinkainen/bookforge/pkg/database"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type row struct {
	title   string
	url     string
	tags    any // nil for NULL
	created time.Time
}

func openDB(t *testing.T, path string) *database.Database {
	t.Helper()
	db, err := database.Open(database.Config{Path: path})
	if err != nil {
		t.Fatalf("database.Open(%s) error = %v", path, err)
	}
	return db
}

func insertRows(t *testing.T, db *database.Database, rows []row) {
	t.Helper()
	for _, r := range rows {
		ts := bookmarks.FormatTime(r.created)
		_, err := db.DB().Exec(`INSERT INTO bookmarks (title, url, tags, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			r.title, r.url, r.tags, ts, ts)
		if err != nil {
			t.Fatalf("insert %q failed: %v", r.title, err)
		}
	}
}

func newPrimary(t *testing.T, rows []row) *database.Database {
	t.Helper()
	db := openDB(t, filepath.Join(t.TempDir(), "primary.db"))
	t.Cleanup(func() { db.Close() })

	if _, err := bookmarks.NewStore(context.Background(), db); err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	insertRows(t, db, rows)
	return db
}

// newSecondary writes a closed secondary database built by schema.
func newSecondary(t *testing.T, schema string, rows []row) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secondary.db")
	db := openDB(t, path)
	defer db.Close()

	if schema == "" {
		if _, err := bookmarks.NewStore(context.Background(), db); err != nil {
			t.Fatalf("NewStore() error = %v", err)
		}
	} else if err := db.ExecuteSchema(context.Background(), schema); err != nil {
		t.Fatalf("secondary schema failed: %v", err)
	}
	insertRows(t, db, rows)
	return path
}

func generate(prefix string, n int, offset time.Duration, tagsFor func(i int) any) []row {
	rows := make([]row, n)
	for i := range rows {
		rows[i] = row{
			title:   fmt.Sprintf("%s %d", prefix, i+1),
			url:     fmt.Sprintf("https://%s.example/%d", prefix, i+1),
			tags:    tagsFor(i),
			created: base.Add(time.Duration(i)*time.Minute + offset),
		}
	}
	return rows
}

func noTags(int) any { return nil }

func assertSorted(t *testing.T, result []*bookmarks.Bookmark, desc bool) {
	t.Helper()
	ok := sort.SliceIsSorted(result, func(i, j int) bool {
		if desc {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].CreatedAt < result[j].CreatedAt
	})
	if !ok {
		t.Error("result is not sorted by created_at across sources")
	}
}

func TestFetchUnionsPrimaryAndSecondary(t *testing.T) {
	ctx := context.Background()
	db := newPrimary(t, generate("primary", 50, 0, noTags))
	secondary := newSecondary(t, "", generate("secondary", 20, 30*time.Second, noTags))

	f := New(db, []Source{{Name: "old", Path: secondary}})
	result, err := f.Fetch(ctx, Query{Kind: KindNewest})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if len(result) != 70 {
		t.Fatalf("Fetch() returned %d rows, want 70", len(result))
	}
	assertSorted(t, result, true)

	seen := make(map[int64]bool)
	var federated int
	for _, b := range result {
		if seen[b.ID] {
			t.Errorf("duplicate id %d in union", b.ID)
		}
		seen[b.ID] = true

		switch b.Source {
		case bookmarks.SourceFederated:
			federated++
			if b.ID < 51 {
				t.Errorf("federated id %d overlaps primary ids", b.ID)
			}
			if !b.ReadOnly() {
				t.Error("federated bookmark should be read-only")
			}
		case bookmarks.SourcePrimary:
			if b.ID > 50 {
				t.Errorf("primary id %d out of range", b.ID)
			}
		}
	}
	if federated != 20 {
		t.Errorf("federated rows = %d, want 20", federated)
	}

	total, err := f.Count(ctx, Query{Kind: KindNewest})
	if err != nil || total != 70 {
		t.Errorf("Count() = %d, %v; want 70", total, err)
	}
}

func TestPagingAppliesAfterUnion(t *testing.T) {
	ctx := context.Background()
	db := newPrimary(t, generate("primary", 15, 0, noTags))
	secondary := newSecondary(t, "", generate("secondary", 15, 30*time.Second, noTags))
	f := New(db, []Source{{Name: "s", Path: secondary}})

	all, err := f.Fetch(ctx, Query{Kind: KindOldest})
	if err != nil {
		t.Fatalf("Fetch(all) error = %v", err)
	}
	assertSorted(t, all, false)

	page, err := f.FetchPage(ctx, Query{Kind: KindOldest, Page: 2, PerPage: 10})
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if page.Total != 30 {
		t.Errorf("Total = %d, want 30", page.Total)
	}
	if len(page.Bookmarks) != 10 {
		t.Fatalf("page size = %d, want 10", len(page.Bookmarks))
	}
	for i, b := range page.Bookmarks {
		if b.ID != all[10+i].ID || b.Source != all[10+i].Source {
			t.Errorf("page[%d] = %d/%s, want %d/%s", i, b.ID, b.Source, all[10+i].ID, all[10+i].Source)
		}
	}

	// the second page mixes sources only if paging happens after the union
	sources := make(map[bookmarks.Source]bool)
	for _, b := range page.Bookmarks {
		sources[b.Source] = true
	}
	if len(sources) != 2 {
		t.Errorf("page 2 sources = %v, want both", sources)
	}
}

func TestRandomPicksFromEverySource(t *testing.T) {
	ctx := context.Background()
	db := newPrimary(t, generate("primary", 1, 0, noTags))
	secondary := newSecondary(t, "", generate("secondary", 1, time.Second, noTags))
	f := New(db, []Source{{Name: "old", Path: secondary}})

	seen := make(map[bookmarks.Source]bool)
	for i := 0; i < 64 && len(seen) < 2; i++ {
		result, err := f.Fetch(ctx, Query{Kind: KindRandom, PerPage: 1})
		if err != nil {
			t.Fatalf("Fetch(random) error = %v", err)
		}
		if len(result) != 1 {
			t.Fatalf("Fetch(random) returned %d rows, want 1", len(result))
		}
		seen[result[0].Source] = true
	}
	if !seen[bookmarks.SourcePrimary] || !seen[bookmarks.SourceFederated] {
		t.Errorf("random picks came from %v, want both sources", seen)
	}
}

func TestSecondaryIsAttachedReadOnly(t *testing.T) {
	ctx := context.Background()
	db := newPrimary(t, generate("primary", 1, 0, noTags))
	secondary := newSecondary(t, "", generate("secondary", 1, time.Second, noTags))
	f := New(db, []Source{{Name: "old", Path: secondary}})

	err := f.withSources(ctx, Query{Kind: KindNewest}, func(conn *sql.Conn, plan Plan) error {
		if len(plan.sources) != 2 {
			t.Fatalf("plan has %d sources, want 2", len(plan.sources))
		}
		_, err := conn.ExecContext(ctx, `DELETE FROM src_0.bookmarks`)
		return err
	})
	if err == nil {
		t.Fatal("write to an attached source succeeded")
	}

	result, err := f.Fetch(ctx, Query{Kind: KindNewest})
	if err != nil || len(result) != 2 {
		t.Errorf("Fetch() = %d rows, %v; want 2", len(result), err)
	}
}

func TestReadOnlyURI(t *testing.T) {
	uri, err := readOnlyURI("/data/old bookmarks.db")
	if err != nil {
		t.Fatalf("readOnlyURI() error = %v", err)
	}
	if uri != "file:///data/old%20bookmarks.db?mode=ro" {
		t.Errorf("readOnlyURI() = %q", uri)
	}
}

func TestFilters(t *testing.T) {
	ctx := context.Background()
	primary := []row{
		{title: "go tour", url: "https://go.dev/tour", tags: `["go","learning"]`, created: base},
		{title: "null tags", url: "https://a.example", tags: nil, created: base.Add(time.Minute)},
		{title: "legacy tags", url: "https://b.example", tags: `[""]`, created: base.Add(2 * time.Minute)},
		{title: "empty array", url: "https://c.example", tags: `[]`, created: base.Add(3 * time.Minute)},
		{title: "100% pure", url: "https://d.example", tags: `["rss"]`, created: base.Add(4 * time.Minute)},
		{title: "100 pure", url: "https://e.example", tags: `not json`, created: base.Add(5 * time.Minute)},
	}
	secondary := []row{
		{title: "old go post", url: "https://old.example/go", tags: `["go"]`, created: base.Add(30 * time.Second)},
		{title: "old untagged", url: "https://old.example/u", tags: nil, created: base.Add(90 * time.Second)},
	}

	db := newPrimary(t, primary)
	f := New(db, []Source{{Name: "old", Path: newSecondary(t, "", secondary)}})

	tests := []struct {
		name   string
		query  Query
		titles []string
	}{
		{
			name:   "by tag spans sources",
			query:  Query{Kind: KindTag, Tag: "Go"},
			titles: []string{"go tour", "old go post"},
		},
		{
			name:   "untagged covers every empty form",
			query:  Query{Kind: KindUntagged},
			titles: []string{"empty array", "legacy tags", "null tags", "old untagged"},
		},
		{
			name:   "search treats percent literally",
			query:  Query{Kind: KindSearch, Search: "100%"},
			titles: []string{"100% pure"},
		},
		{
			name:   "search matches url and title case-insensitively",
			query:  Query{Kind: KindSearch, Search: "GO"},
			titles: []string{"go tour", "old go post"},
		},
		{
			name:   "tag injection is a plain value",
			query:  Query{Kind: KindTag, Tag: `go") OR 1=1 --`},
			titles: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.Fetch(ctx, tt.query)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			var titles []string
			for _, b := range result {
				titles = append(titles, b.Title)
			}
			sort.Strings(titles)
			if strings.Join(titles, "|") != strings.Join(tt.titles, "|") {
				t.Errorf("titles = %q, want %q", titles, tt.titles)
			}
		})
	}
}

func TestUnusableSourcesAreExcluded(t *testing.T) {
	ctx := context.Background()
	db := newPrimary(t, generate("primary", 3, 0, noTags))

	dir := t.TempDir()
	missing := filepath.Join(dir, "gone.db")
	noTable := newSecondary(t, `CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)`, nil)
	good := newSecondary(t, "", generate("good", 2, 0, noTags))

	f := New(db, []Source{
		{Name: "missing", Path: missing},
		{Name: "no-table", Path: noTable},
		{Name: "good", Path: good},
	})

	for attempt := 1; attempt <= 3; attempt++ {
		result, err := f.Fetch(ctx, Query{})
		if err != nil {
			t.Fatalf("attempt %d: Fetch() error = %v", attempt, err)
		}
		if len(result) != 5 {
			t.Fatalf("attempt %d: rows = %d, want 5", attempt, len(result))
		}
	}

	if database.DatabaseExists(missing) {
		t.Error("querying must not create a missing source file")
	}

	// the good source keeps its configured position for its namespace
	result, _ := f.Fetch(ctx, Query{Kind: KindOldest})
	for _, b := range result {
		if b.Source == bookmarks.SourceFederated && b.ID < NamespaceOffset(3, 2) {
			t.Errorf("federated id %d below namespace of source 2", b.ID)
		}
	}
}

func TestOldSecondaryLayout(t *testing.T) {
	ctx := context.Background()
	db := newPrimary(t, generate("primary", 2, 0, noTags))

	oldSchema := `CREATE TABLE bookmarks (id INTEGER PRIMARY KEY, title TEXT NOT NULL, url TEXT NOT NULL, tags TEXT, created_at TEXT, updated_at TEXT)`
	secondary := newSecondary(t, oldSchema, []row{
		{title: "old one", url: "https://old.example", tags: `["archive"]`, created: base.Add(time.Hour)},
	})

	f := New(db, []Source{{Name: "old", Path: secondary}})
	result, err := f.Fetch(ctx, Query{Kind: KindSearch, Search: "old"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("rows = %d, want 1", len(result))
	}

	b := result[0]
	if b.ThumbnailURL != "" || b.ArchiveURL != "" || b.Description != "" {
		t.Errorf("missing columns should read as empty: %+v", b)
	}
	if len(b.Tags) != 1 || b.Tags[0] != "archive" {
		t.Errorf("Tags = %v", b.Tags)
	}
}

func TestInvalidQuery(t *testing.T) {
	db := newPrimary(t, nil)
	f := New(db, nil)

	for _, q := range []Query{
		{Kind: KindTag},
		{Kind: KindSearch, Search: "  "},
		{Kind: "popular"},
		{PerPage: -1},
	} {
		if _, err := f.Fetch(context.Background(), q); !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("Fetch(%+v) error = %v, want ErrInvalidQuery", q, err)
		}
	}

	result, err := f.Fetch(context.Background(), Query{})
	if err != nil || len(result) != 0 {
		t.Errorf("Fetch() on empty store = %v, %v", result, err)
	}
}

func TestMergeSources(t *testing.T) {
	merged := MergeSources(
		[]Source{{Path: "/data/old.db"}, {Name: "", Path: " "}},
		[]Source{{Name: "dup", Path: "/data/./old.db"}, {Name: "named", Path: "/data/new.db"}},
	)

	if len(merged) != 2 {
		t.Fatalf("MergeSources() = %+v, want 2 sources", merged)
	}
	if merged[0].Name != "old" || merged[1].Name != "named" {
		t.Errorf("names = %q, %q", merged[0].Name, merged[1].Name)
	}
}

func TestLoadSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	content := "sources:\n  - name: laptop\n    path: /data/laptop.db\n  - path: /data/phone.db\n"
	if err := writeTestFile(path, content); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	sources, err := LoadSources(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadSources() error = %v", err)
	}
	if len(sources) != 2 || sources[0].Name != "laptop" || sources[1].Path != "/data/phone.db" {
		t.Errorf("LoadSources() = %+v", sources)
	}
}
