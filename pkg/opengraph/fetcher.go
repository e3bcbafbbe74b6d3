package opengraph

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/lepinkainen/bookforge/pkg/api"
	"github.com/lepinkainen/bookforge/pkg/database"
	"github.com/lepinkainen/bookforge/pkg/urlutils"
)

// ErrBlocked is returned for hosts that only serve login walls to crawlers
var ErrBlocked = errors.New("host blocks metadata fetching")

var blockedHosts = []string{
	"x.com",
	"twitter.com",
	"facebook.com",
	"instagram.com",
	"linkedin.com",
}

// Fetcher fetches page metadata with per-host rate limiting and an optional cache
type Fetcher struct {
	client     *http.Client
	cache      *database.Cache
	semaphore  chan struct{}
	hostDelay  time.Duration
	limitersMu sync.Mutex
	limiters   map[string]*api.SimpleRateLimiter
	urlMutexes sync.Map
}

// NewFetcher creates a Fetcher. cache may be nil.
func NewFetcher(cache *database.Cache) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		cache:     cache,
		semaphore: make(chan struct{}, 5), // max concurrent fetches
		hostDelay: time.Second,
		limiters:  make(map[string]*api.SimpleRateLimiter),
	}
}

// Fetch returns metadata for targetURL, from the cache when possible.
// Failures are cached for FailureTTL and reported as errors.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*Data, error) {
	if !urlutils.IsHTTPURL(targetURL) {
		return nil, fmt.Errorf("invalid URL format: %s", targetURL)
	}
	if isBlockedURL(targetURL) {
		return nil, ErrBlocked
	}

	if cached, ok := f.cached(ctx, targetURL); ok {
		if cached.Failed {
			return nil, fmt.Errorf("recent fetch of %s failed", targetURL)
		}
		slog.Debug("Found cached OpenGraph data", "url", targetURL)
		return cached, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	data, err := f.fetchFreshData(fetchCtx, targetURL)
	if err != nil {
		slog.Debug("Failed to fetch OpenGraph data", "url", targetURL, "error", err)
		// a cancelled caller says nothing about the page
		if ctx.Err() == nil {
			f.store(ctx, &Data{URL: targetURL, FetchedAt: time.Now(), Failed: true}, FailureTTL)
		}
		return nil, err
	}

	cleanupData(data)
	f.store(ctx, data, DefaultCacheTTL)
	slog.Debug("Fetched OpenGraph data", "url", targetURL, "title", data.Title)
	return data, nil
}

func (f *Fetcher) cached(ctx context.Context, targetURL string) (*Data, bool) {
	if f.cache == nil {
		return nil, false
	}

	value, ok, err := f.cache.Get(ctx, targetURL)
	if err != nil {
		slog.Warn("Error reading from cache", "url", targetURL, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var data Data
	if err := json.Unmarshal([]byte(value), &data); err != nil {
		slog.Warn("Discarding corrupt cache entry", "url", targetURL, "error", err)
		return nil, false
	}
	return &data, true
}

func (f *Fetcher) store(ctx context.Context, data *Data, ttl time.Duration) {
	if f.cache == nil {
		return
	}

	value, err := json.Marshal(data)
	if err != nil {
		slog.Warn("Failed to encode OpenGraph data", "url", data.URL, "error", err)
		return
	}
	if err := f.cache.Set(ctx, data.URL, string(value), ttl); err != nil {
		slog.Warn("Failed to cache OpenGraph data", "url", data.URL, "error", err)
	}
}

func (f *Fetcher) hostLimiter(host string) *api.SimpleRateLimiter {
	f.limitersMu.Lock()
	defer f.limitersMu.Unlock()

	rl, ok := f.limiters[host]
	if !ok {
		rl = api.NewSimpleRateLimiter(f.hostDelay)
		f.limiters[host] = rl
	}
	return rl
}

func (f *Fetcher) fetchFreshData(ctx context.Context, targetURL string) (*Data, error) {
	// one fetch per URL at a time
	urlMutex, _ := f.urlMutexes.LoadOrStore(targetURL, &sync.Mutex{})
	urlMutex.(*sync.Mutex).Lock()
	defer urlMutex.(*sync.Mutex).Unlock()

	select {
	case f.semaphore <- struct{}{}:
		defer func() { <-f.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if err := f.hostLimiter(parsedURL.Host).Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; bookforge/1.0; OpenGraph fetcher)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip")

	slog.Debug("Fetching OpenGraph data", "url", targetURL)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &api.HTTPError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	contentType := resp.Header.Get("Content-Type")
	lower := strings.ToLower(contentType)
	if !strings.Contains(lower, "text/html") && !strings.Contains(lower, "application/xhtml") {
		return nil, fmt.Errorf("not an HTML page: %s", contentType)
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	const maxBodySize = 1024 * 1024
	body, err := io.ReadAll(io.LimitReader(reader, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return Parse(resp.Request.URL.String(), body, contentType)
}

// Parse extracts metadata from an HTML document fetched from pageURL
func Parse(pageURL string, body []byte, contentType string) (*Data, error) {
	utf8Reader, err := charset.NewReader(strings.NewReader(string(body)), contentType)
	if err != nil {
		slog.Debug("Failed to detect charset, assuming UTF-8", "error", err)
		utf8Reader = strings.NewReader(string(body))
	}

	doc, err := html.Parse(utf8Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	data := &Data{
		URL:       pageURL,
		FetchedAt: time.Now(),
	}

	extractTags(doc, data)
	applyFallbacks(doc, data)

	if data.Image != "" {
		if resolved, err := urlutils.ResolveURL(pageURL, data.Image); err == nil {
			data.Image = resolved
		}
	}

	return data, nil
}

func extractTags(n *html.Node, data *Data) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "meta":
			processMetaTag(n, data)
		case "title":
			if data.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				data.Title = strings.TrimSpace(n.FirstChild.Data)
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractTags(c, data)
	}
}

func processMetaTag(n *html.Node, data *Data) {
	var property, content, name string

	for _, attr := range n.Attr {
		switch attr.Key {
		case "property":
			property = attr.Val
		case "content":
			content = attr.Val
		case "name":
			name = attr.Val
		}
	}

	// og: values win over <title> and twitter: fallbacks
	switch property {
	case "og:title":
		data.Title = content
	case "og:description":
		data.Description = content
	case "og:image":
		data.Image = content
	case "og:site_name":
		data.SiteName = content
	}

	switch name {
	case "description", "twitter:description":
		if data.Description == "" {
			data.Description = content
		}
	case "twitter:image":
		if data.Image == "" {
			data.Image = content
		}
	case "twitter:title":
		if data.Title == "" {
			data.Title = content
		}
	}
}

func applyFallbacks(doc *html.Node, data *Data) {
	if data.Description == "" {
		data.Description = firstParagraph(doc)
	}

	if data.SiteName == "" && data.URL != "" {
		if u, err := url.Parse(data.URL); err == nil {
			data.SiteName = u.Host
		}
	}
}

func textContent(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		textContent(c, sb)
	}
}

// firstParagraph returns the first <p> with more than a few words
func firstParagraph(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "p" {
		var sb strings.Builder
		textContent(n, &sb)
		if text := strings.TrimSpace(sb.String()); len(text) > 20 {
			return text
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if text := firstParagraph(c); text != "" {
			return text
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

func cleanupData(data *Data) {
	clean := func(s string) string {
		return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
	}

	data.Title = truncate(clean(data.Title), 200)
	data.Description = truncate(clean(data.Description), 500)
	data.SiteName = clean(data.SiteName)

	if data.Image != "" && !urlutils.IsHTTPURL(data.Image) {
		slog.Debug("Invalid image URL found, clearing", "url", data.Image)
		data.Image = ""
	}
}

func isBlockedURL(targetURL string) bool {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, blocked := range blockedHosts {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}
