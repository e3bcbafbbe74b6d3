package feed

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// Config is the channel metadata of the generated feeds
type Config struct {
	Title       string
	Description string
	Link        string
	AuthorName  string
	AuthorEmail string
	Logo        string
	Language    string
	// Placeholder is a fmt pattern taking the item id, used as the
	// enclosure image when an item has none. Empty means DefaultPlaceholder(Link).
	Placeholder string
}

// DefaultPlaceholder returns the placeholder pattern served next to the feed at link
func DefaultPlaceholder(link string) string {
	return strings.ReplaceAll(strings.TrimRight(link, "/"), "%", "%%") + "/placeholder/%d.jpg"
}

// Generator handles RSS/Atom feed generation
type Generator struct {
	Config
}

// NewGenerator creates a new feed generator
func NewGenerator(config Config) *Generator {
	if config.Language == "" {
		config.Language = "en"
	}
	if config.Placeholder == "" {
		config.Placeholder = DefaultPlaceholder(config.Link)
	}
	return &Generator{Config: config}
}

// Item is one entry of a feed
type Item struct {
	ID          int64
	Title       string
	Link        string
	Description string
	Image       string
	Created     time.Time
	Categories  []string
}

// GUID is the stable identifier of an item
func (i Item) GUID() string {
	return "bookmark-" + formatInt(i.ID)
}

// FeedType represents the type of feed to generate
type FeedType string

const (
	RSS  FeedType = "rss"
	Atom FeedType = "atom"
)

var (
	strict = bluemonday.StrictPolicy()
	// markup matches a complete tag, comment or directive at the start of a string
	markup = regexp.MustCompile(`^<(?:/?[A-Za-z][^<>]*|!--[\s\S]*?--|[!?][^<>]*)>`)
)

// Sanitize strips all markup and returns plain text with entities decoded.
// A '<' that does not open a complete tag is kept as text.
func Sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(escapeStrayLT(s))))
}

// escapeStrayLT replaces every '<' that does not start markup with &lt;
func escapeStrayLT(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '<' && !markup.MatchString(s[i:]) {
			b.WriteString("&lt;")
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// EscapeXML escapes XML special characters while avoiding double-encoding of existing HTML entities
func EscapeXML(s string) string {
	return html.EscapeString(html.UnescapeString(s))
}
