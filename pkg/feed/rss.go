package feed

import (
	"encoding/xml"
	"fmt"
	"time"
)

// CDATA marshals its text as a CDATA section
type CDATA struct {
	Text string `xml:",cdata"`
}

// RSSEnclosure is the image attached to an item
type RSSEnclosure struct {
	URL    string `xml:"url,attr"`
	Length string `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// RSSGUID is an item identifier that is not a URL
type RSSGUID struct {
	Value       string `xml:",chardata"`
	IsPermaLink bool   `xml:"isPermaLink,attr"`
}

// RSSImage is the channel logo
type RSSImage struct {
	URL   string `xml:"url"`
	Title string `xml:"title"`
	Link  string `xml:"link"`
}

// RSSItem is an RSS 2.0 item with one category per tag
type RSSItem struct {
	Title       CDATA         `xml:"title"`
	Link        string        `xml:"link"`
	Description CDATA         `xml:"description"`
	PubDate     string        `xml:"pubDate"`
	Enclosure   *RSSEnclosure `xml:"enclosure,omitempty"`
	GUID        RSSGUID       `xml:"guid"`
	Categories  []string      `xml:"category"`
}

// RSSChannel is the channel element
type RSSChannel struct {
	Title         string     `xml:"title"`
	Link          string     `xml:"link"`
	Description   string     `xml:"description"`
	Language      string     `xml:"language,omitempty"`
	LastBuildDate string     `xml:"lastBuildDate"`
	PubDate       string     `xml:"pubDate"`
	Generator     string     `xml:"generator"`
	Image         *RSSImage  `xml:"image,omitempty"`
	Items         []*RSSItem `xml:"item"`
}

// RSSDocument is the root rss element
type RSSDocument struct {
	XMLName xml.Name    `xml:"rss"`
	Version string      `xml:"version,attr"`
	Channel *RSSChannel `xml:"channel"`
}

// GenerateRSS renders items as an RSS 2.0 document. Text inside CDATA is
// escaped once since readers treat it as HTML; element text is escaped by
// the encoder.
func (g *Generator) GenerateRSS(items []Item) ([]byte, error) {
	feed := g.Generate(items)
	categories := g.categoriesByGUID(items)

	channel := &RSSChannel{
		Title:         feed.Title,
		Link:          feed.Link.Href,
		Description:   feed.Description,
		Language:      g.Language,
		LastBuildDate: feed.Updated.Format(time.RFC1123Z),
		PubDate:       feed.Created.Format(time.RFC1123Z),
		Generator:     "bookforge",
	}
	if feed.Image != nil {
		channel.Image = &RSSImage{URL: feed.Image.Url, Title: feed.Image.Title, Link: feed.Image.Link}
	}

	for _, item := range feed.Items {
		rssItem := &RSSItem{
			Title:       CDATA{EscapeXML(item.Title)},
			Link:        item.Link.Href,
			Description: CDATA{EscapeXML(item.Description)},
			PubDate:     item.Created.Format(time.RFC1123Z),
			GUID:        RSSGUID{Value: item.Id},
			Categories:  categories[item.Id],
		}
		if item.Enclosure != nil {
			rssItem.Enclosure = &RSSEnclosure{URL: item.Enclosure.Url, Length: item.Enclosure.Length, Type: item.Enclosure.Type}
		}
		channel.Items = append(channel.Items, rssItem)
	}

	data, err := xml.MarshalIndent(&RSSDocument{Version: "2.0", Channel: channel}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rss feed: %w", err)
	}

	return append([]byte(xml.Header), data...), nil
}
