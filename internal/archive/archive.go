// Package archive submits bookmarked pages to a Wayback Machine compatible
// archive and records the snapshot link.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/lepinkainen/bookforge/internal/bookmarks"
	httputil "github.com/lepinkainen/bookforge/pkg/http"
	"github.com/lepinkainen/bookforge/pkg/urlutils"
)

var (
	// ErrUnsupportedURL is returned for URLs the archive cannot capture.
	ErrUnsupportedURL = errors.New("only http and https URLs can be archived")
	// ErrRateLimited is returned when the archive answers 429.
	ErrRateLimited = errors.New("archive rate limited the request")
	// ErrNoSnapshot is returned when a submission did not land on a snapshot.
	ErrNoSnapshot = errors.New("archive returned no snapshot")
)

var snapshotPattern = regexp.MustCompile(`/web/\d{14}[a-z_]*/`)

// IsSnapshotURL reports whether u points at a concrete snapshot page.
func IsSnapshotURL(u string) bool {
	return snapshotPattern.MatchString(u) && !strings.Contains(u, "/save/")
}

// Config configures the archive service.
type Config struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	// Delay is how long enrichment waits before submitting
	Delay time.Duration `mapstructure:"delay"`
}

// DefaultConfig uses the Internet Archive.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://web.archive.org",
		Timeout:    90 * time.Second,
		MaxRetries: 2,
		Delay:      5 * time.Second,
	}
}

// Store is the part of the record store the submitter writes to.
type Store interface {
	SetArchiveURL(ctx context.Context, id int64, archiveURL string) error
}

// Submitter looks up or creates snapshots.
type Submitter struct {
	client     *httputil.Client
	baseURL    string
	store      Store
	onArchived func(ctx context.Context)
}

// New creates a Submitter. onArchived runs after a snapshot link is stored
// and may be nil.
func New(config Config, store Store, onArchived func(ctx context.Context)) *Submitter {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	clientConfig := httputil.DefaultConfig()
	clientConfig.Timeout = config.Timeout
	clientConfig.MaxRetries = config.MaxRetries
	clientConfig.Retryable = httputil.IsRetryableExceptRateLimit

	return &Submitter{
		client:     httputil.NewClient(clientConfig),
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		store:      store,
		onArchived: onArchived,
	}
}

// Archive returns the snapshot link of b, submitting the page if the archive
// has none. The link is persisted on success.
func (s *Submitter) Archive(ctx context.Context, b *bookmarks.Bookmark) (string, error) {
	if b.ArchiveURL != "" {
		return b.ArchiveURL, nil
	}
	if !urlutils.IsHTTPURL(b.URL) {
		return "", ErrUnsupportedURL
	}

	snapshot, err := s.Lookup(ctx, b.URL)
	if err != nil {
		slog.Debug("Snapshot lookup failed", "id", b.ID, "error", err)
	}
	if snapshot == "" {
		if snapshot, err = s.Submit(ctx, b.URL); err != nil {
			return "", err
		}
	}

	if err := s.store.SetArchiveURL(ctx, b.ID, snapshot); err != nil {
		return "", err
	}
	slog.Info("Archived bookmark", "id", b.ID, "snapshot", snapshot)

	if s.onArchived != nil {
		s.onArchived(ctx)
	}
	return snapshot, nil
}

// Lookup returns the newest existing snapshot of pageURL, or "" if none.
func (s *Submitter) Lookup(ctx context.Context, pageURL string) (string, error) {
	resp, err := s.client.GetWithContext(ctx, s.baseURL+"/web/2/"+pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to look up snapshot: %w", err)
	}
	defer httputil.DrainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	final := resp.Request.URL.String()
	if !IsSnapshotURL(final) {
		return "", nil
	}
	return final, nil
}

// Submit asks the archive to capture pageURL and returns the snapshot link.
func (s *Submitter) Submit(ctx context.Context, pageURL string) (string, error) {
	resp, err := s.client.PostFormWithContext(ctx, s.baseURL+"/save", url.Values{"url": {pageURL}})
	if err != nil {
		return "", fmt.Errorf("failed to submit to archive: %w", err)
	}
	defer httputil.DrainAndClose(resp)

	if resp.StatusCode == http.StatusTooManyRequests {
		slog.Warn("Archive rate limited submission", "url", pageURL)
		return "", ErrRateLimited
	}
	if err := httputil.EnsureSuccess(resp); err != nil {
		return "", fmt.Errorf("archive submission failed: %w", err)
	}

	final := resp.Request.URL.String()
	if !IsSnapshotURL(final) {
		return "", fmt.Errorf("%w: landed on %s", ErrNoSnapshot, final)
	}
	return final, nil
}
