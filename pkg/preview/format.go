// Package preview provides an interactive bookmark browser using Bubble Tea TUI.
package preview

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lepinkainen/bookforge/internal/bookmarks"
	"github.com/lepinkainen/bookforge/pkg/feed"
)

const rule = "═══════════════════════════════════════════════════════════════════════\n"

var itemPattern = regexp.MustCompile(`(?s)<item>.*?</item>`)

// wrapText wraps text to width columns at word boundaries
func wrapText(text string, width int) string {
	if width <= 0 {
		width = 70
	}

	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > width {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// truncate shortens s to limit runes, marking the cut with "..."
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

func sourceMark(b *bookmarks.Bookmark) string {
	if b.ReadOnly() {
		return "F"
	}
	return " "
}

// FormatCompactListItem formats a bookmark as one list line
// Example: " 1. [ 42 F] 2025-10-21 Post Title #go #db"
func FormatCompactListItem(index int, b *bookmarks.Bookmark) string {
	date := "----------"
	if created := b.Created(); !created.IsZero() {
		date = created.Format(time.DateOnly)
	}

	line := fmt.Sprintf("%2d. [%4d %s] %s  %s", index+1, b.ID, sourceMark(b), date, truncate(b.Title, 70))
	if len(b.Tags) > 0 {
		line += "  #" + strings.Join(b.Tags, " #")
	}
	return line
}

// FormatDetailedItem formats a bookmark with all its fields
func FormatDetailedItem(b *bookmarks.Bookmark) string {
	var sb strings.Builder

	sb.WriteString(rule)
	fmt.Fprintf(&sb, "Title: %s\n", b.Title)
	fmt.Fprintf(&sb, "URL: %s\n", b.URL)
	fmt.Fprintf(&sb, "ID: %d (%s)\n", b.ID, b.Source)

	if created := b.Created(); !created.IsZero() {
		fmt.Fprintf(&sb, "Saved: %s\n", formatTimeAgo(created))
	}
	if len(b.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(b.Tags, ", "))
	} else {
		sb.WriteString("Tags: (untagged)\n")
	}
	if b.ThumbnailURL != "" {
		fmt.Fprintf(&sb, "Thumbnail: %s\n", b.ThumbnailURL)
	}
	if b.ArchiveURL != "" {
		fmt.Fprintf(&sb, "Archive: %s\n", b.ArchiveURL)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "\nDescription:\n%s\n", wrapText(truncate(b.Description, 1000), 70))
	}

	sb.WriteString(rule)
	return sb.String()
}

// FormatXMLItem renders the RSS <item> the feed would contain for b
func FormatXMLItem(b *bookmarks.Bookmark, generator *feed.Generator) string {
	doc, err := generator.GenerateRSS([]feed.Item{b.FeedItem()})
	if err != nil {
		return fmt.Sprintf("Error generating feed: %s", err)
	}

	match := itemPattern.Find(doc)
	if match == nil {
		return "No item found in generated feed"
	}
	return wrapXMLContent(string(match), 80)
}

// wrapXMLContent breaks long lines near width, preferring spaces and tag ends
func wrapXMLContent(xml string, width int) string {
	var result strings.Builder

	for _, line := range strings.Split(xml, "\n") {
		for len(line) > width {
			cut := width
			for i := width; i > width-20 && i > 0; i-- {
				if line[i] == ' ' || line[i] == '>' {
					cut = i + 1
					break
				}
			}
			result.WriteString(line[:cut])
			result.WriteByte('\n')
			line = line[cut:]
		}
		if line != "" {
			result.WriteString(line)
			result.WriteByte('\n')
		}
	}

	return result.String()
}

// formatTimeAgo formats t as a human-readable "X ago" string
func formatTimeAgo(t time.Time) string {
	d := time.Since(t)

	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}

	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	case d < 7*24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	default:
		return t.Format(time.DateOnly)
	}
}
