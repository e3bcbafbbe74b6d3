package publish

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lepinkainen/bookforge/pkg/database"
)

// Snapshotter writes a consistent copy of a database to a file.
type Snapshotter interface {
	SnapshotTo(ctx context.Context, dest string) error
}

// Options control what the Publisher stores where.
type Options struct {
	// DatabaseName is the remote key and backup suffix of the snapshot
	DatabaseName string
	BackupDir    string
	BackupKeep   int
	// Timeout bounds every Publish call
	Timeout time.Duration
}

// Publisher pushes feeds and database snapshots through an Uploader.
// Failures are logged, never returned.
type Publisher struct {
	uploader Uploader
	db       Snapshotter
	opts     Options
	now      func() time.Time
}

// NewPublisher creates a Publisher. db may be nil when only files are published.
func NewPublisher(uploader Uploader, db Snapshotter, opts Options) *Publisher {
	if opts.DatabaseName == "" {
		opts.DatabaseName = "bookmarks.db"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Publisher{uploader: uploader, db: db, opts: opts, now: time.Now}
}

// bounded detaches from the caller's cancellation and applies the publish timeout.
func (p *Publisher) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.opts.Timeout)
}

// FeedContentType picks the media type of a feed file by extension.
func FeedContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".atom":
		return "application/atom+xml"
	case ".rss", ".xml":
		return "application/rss+xml"
	default:
		return "application/octet-stream"
	}
}

// PublishFeeds uploads each feed file under its base name.
func (p *Publisher) PublishFeeds(ctx context.Context, paths ...string) {
	ctx, cancel := p.bounded(ctx)
	defer cancel()

	for _, local := range paths {
		key := filepath.Base(local)
		if err := p.uploader.Upload(ctx, local, key, FeedContentType(local)); err != nil {
			slog.Error("Failed to publish feed", "path", local, "error", err)
			continue
		}
		slog.Info("Published feed", "key", key, "url", p.uploader.PublicURL(key))
	}
}

// PublishDatabase snapshots the database, keeps a dated local backup and
// uploads the snapshot.
func (p *Publisher) PublishDatabase(ctx context.Context) {
	if p.db == nil {
		slog.Warn("No database configured for publishing")
		return
	}

	ctx, cancel := p.bounded(ctx)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "bookforge-snapshot-*")
	if err != nil {
		slog.Error("Failed to create snapshot directory", "error", err)
		return
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, p.opts.DatabaseName)
	if err := p.db.SnapshotTo(ctx, snapshot); err != nil {
		slog.Error("Failed to snapshot database", "error", err)
		return
	}

	if p.opts.BackupDir != "" {
		p.backup(snapshot)
	}

	if err := p.uploader.Upload(ctx, snapshot, p.opts.DatabaseName, "application/vnd.sqlite3"); err != nil {
		slog.Error("Failed to publish database", "error", err)
		return
	}
	size, err := database.GetDatabaseSize(snapshot)
	if err != nil {
		slog.Debug("Failed to stat snapshot", "error", err)
	}
	slog.Info("Published database", "key", p.opts.DatabaseName, "bytes", size)
}

func (p *Publisher) backup(snapshot string) {
	dest, err := database.BackupFile(snapshot, p.opts.BackupDir, p.opts.DatabaseName, p.now())
	if err != nil {
		slog.Error("Failed to write local backup", "error", err)
		return
	}
	slog.Info("Wrote local backup", "path", dest)

	removed, err := database.PruneBackups(p.opts.BackupDir, p.opts.DatabaseName, p.opts.BackupKeep)
	if err != nil {
		slog.Warn("Failed to prune backups", "error", err)
	}
	if len(removed) > 0 {
		slog.Info("Pruned old backups", "count", len(removed))
	}
}
