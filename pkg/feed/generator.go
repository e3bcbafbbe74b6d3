package feed

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/feeds"
)

var nowFunc = time.Now

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

// sortItems returns sanitized copies of items, newest first
func (g *Generator) sortItems(items []Item) []Item {
	sorted := make([]Item, 0, len(items))
	for _, item := range items {
		item.Title = Sanitize(item.Title)
		item.Description = Sanitize(item.Description)

		categories := make([]string, 0, len(item.Categories))
		for _, c := range item.Categories {
			if c = strings.TrimSpace(c); c != "" {
				categories = append(categories, c)
			}
		}
		item.Categories = categories

		if item.Image == "" {
			item.Image = fmt.Sprintf(g.Placeholder, item.ID)
		}
		sorted = append(sorted, item)
	}

	slices.SortStableFunc(sorted, func(a, b Item) int {
		if c := b.Created.Compare(a.Created); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return sorted
}

// Generate creates the gorilla feed model for items
func (g *Generator) Generate(items []Item) *feeds.Feed {
	now := nowFunc().UTC()
	feed := &feeds.Feed{
		Title:       Sanitize(g.Title),
		Link:        &feeds.Link{Href: g.Link},
		Description: Sanitize(g.Description),
		Author:      &feeds.Author{Name: g.AuthorName, Email: g.AuthorEmail},
		Id:          g.Link,
		Created:     now,
		Updated:     now,
	}
	if g.Logo != "" {
		feed.Image = &feeds.Image{Url: g.Logo, Title: feed.Title, Link: g.Link}
	}

	for _, item := range g.sortItems(items) {
		feedItem := &feeds.Item{
			Title:       item.Title,
			Link:        &feeds.Link{Href: item.Link},
			Description: item.Description,
			Created:     item.Created.UTC(),
			Updated:     item.Created.UTC(),
			Id:          item.GUID(),
		}
		if item.Image != "" {
			feedItem.Enclosure = &feeds.Enclosure{Url: item.Image, Length: "0", Type: "image/jpeg"}
		}
		feed.Items = append(feed.Items, feedItem)
	}

	slog.Debug("Generated feed", "items", len(feed.Items))
	return feed
}

// categoriesByGUID indexes item categories by GUID
func (g *Generator) categoriesByGUID(items []Item) map[string][]string {
	categories := make(map[string][]string, len(items))
	for _, item := range g.sortItems(items) {
		categories[item.GUID()] = item.Categories
	}
	return categories
}

// Render serializes items as feedType
func (g *Generator) Render(items []Item, feedType FeedType) ([]byte, error) {
	switch feedType {
	case RSS:
		return g.GenerateRSS(items)
	case Atom:
		return g.GenerateAtom(items)
	default:
		return nil, fmt.Errorf("unsupported feed type: %s", feedType)
	}
}

// SaveToFile renders items as feedType and writes them to outputPath
func (g *Generator) SaveToFile(items []Item, feedType FeedType, outputPath string) error {
	data, err := g.Render(items, feedType)
	if err != nil {
		return err
	}
	if err := WriteFile(outputPath, data); err != nil {
		return err
	}

	slog.Info("Feed saved", "type", feedType, "items", len(items), "path", outputPath)
	return nil
}

// WriteFile replaces path with data atomically
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write feed: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set feed permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close feed: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
