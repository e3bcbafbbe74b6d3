package feed

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/gorilla/feeds"
)

const atomNS = "http://www.w3.org/2005/Atom"

// AtomCategory is one tag of an entry
type AtomCategory struct {
	Term  string `xml:"term,attr"`
	Label string `xml:"label,attr,omitempty"`
}

// AtomLink is an alternate or enclosure link
type AtomLink struct {
	Href   string `xml:"href,attr"`
	Rel    string `xml:"rel,attr,omitempty"`
	Type   string `xml:"type,attr,omitempty"`
	Length string `xml:"length,attr,omitempty"`
}

// AtomText is plain text content
type AtomText struct {
	Type string `xml:"type,attr"`
	Text string `xml:",chardata"`
}

// AtomAuthor is the feed author
type AtomAuthor struct {
	Name  string `xml:"name"`
	Email string `xml:"email,omitempty"`
}

// AtomEntry is one bookmark
type AtomEntry struct {
	Title      string         `xml:"title"`
	ID         string         `xml:"id"`
	Updated    string         `xml:"updated"`
	Published  string         `xml:"published"`
	Links      []AtomLink     `xml:"link"`
	Summary    *AtomText      `xml:"summary,omitempty"`
	Categories []AtomCategory `xml:"category"`
}

// AtomFeed is an Atom document with per-entry categories, which
// gorilla/feeds does not emit
type AtomFeed struct {
	XMLName   xml.Name     `xml:"feed"`
	Xmlns     string       `xml:"xmlns,attr"`
	Title     string       `xml:"title"`
	ID        string       `xml:"id"`
	Updated   string       `xml:"updated"`
	Link      *AtomLink    `xml:"link,omitempty"`
	Author    *AtomAuthor  `xml:"author,omitempty"`
	Subtitle  string       `xml:"subtitle,omitempty"`
	Logo      string       `xml:"logo,omitempty"`
	Generator string       `xml:"generator"`
	Entries   []*AtomEntry `xml:"entry"`
}

func atomTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// GenerateAtom renders items as an Atom document with one category per tag
func (g *Generator) GenerateAtom(items []Item) ([]byte, error) {
	doc := toAtom(g.Generate(items), g.categoriesByGUID(items))

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal atom feed: %w", err)
	}

	return append([]byte(xml.Header), data...), nil
}

func toAtom(feed *feeds.Feed, categories map[string][]string) *AtomFeed {
	doc := &AtomFeed{
		Xmlns:     atomNS,
		Title:     feed.Title,
		ID:        feed.Id,
		Updated:   atomTime(feed.Updated),
		Subtitle:  feed.Description,
		Generator: "bookforge",
	}
	if feed.Link != nil && feed.Link.Href != "" {
		doc.Link = &AtomLink{Href: feed.Link.Href, Rel: "alternate"}
	}
	if feed.Author != nil && feed.Author.Name != "" {
		doc.Author = &AtomAuthor{Name: feed.Author.Name, Email: feed.Author.Email}
	}
	if feed.Image != nil {
		doc.Logo = feed.Image.Url
	}

	for _, item := range feed.Items {
		entry := &AtomEntry{
			Title:     item.Title,
			ID:        item.Id,
			Updated:   atomTime(item.Updated),
			Published: atomTime(item.Created),
			Links:     []AtomLink{{Href: item.Link.Href, Rel: "alternate"}},
		}
		if item.Description != "" {
			entry.Summary = &AtomText{Type: "text", Text: item.Description}
		}
		if e := item.Enclosure; e != nil {
			entry.Links = append(entry.Links, AtomLink{Href: e.Url, Rel: "enclosure", Type: e.Type, Length: e.Length})
		}
		for _, tag := range categories[item.Id] {
			entry.Categories = append(entry.Categories, AtomCategory{Term: tag, Label: tag})
		}
		doc.Entries = append(doc.Entries, entry)
	}

	return doc
}
