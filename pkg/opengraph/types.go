package opengraph

import "time"

// Data is the page metadata extracted from a webpage
type Data struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Image       string    `json:"image"`
	SiteName    string    `json:"site_name"`
	FetchedAt   time.Time `json:"fetched_at"`
	Failed      bool      `json:"failed,omitempty"`
}

// Empty reports whether no usable metadata was found
func (d *Data) Empty() bool {
	return d == nil || (d.Title == "" && d.Description == "" && d.Image == "")
}

const (
	// CacheTable holds fetched metadata in the application database
	CacheTable = "opengraph_cache"

	DefaultCacheTTL = 24 * time.Hour
	// FailureTTL suppresses refetching a failing page for a while
	FailureTTL = 1 * time.Hour
)
