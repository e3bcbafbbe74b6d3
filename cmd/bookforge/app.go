package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lepinkainen/bookforge/internal/archive"
	"github.com/lepinkainen/bookforge/internal/bookmarks"
	"github.com/lepinkainen/bookforge/internal/catalog"
	"github.com/lepinkainen/bookforge/internal/config"
	"github.com/lepinkainen/bookforge/internal/describer"
	"github.com/lepinkainen/bookforge/internal/enrich"
	"github.com/lepinkainen/bookforge/internal/federation"
	"github.com/lepinkainen/bookforge/internal/thumbnail"
	"github.com/lepinkainen/bookforge/pkg/database"
	"github.com/lepinkainen/bookforge/pkg/feed"
	"github.com/lepinkainen/bookforge/pkg/opengraph"
	"github.com/lepinkainen/bookforge/pkg/publish"
)

// app owns everything a command needs.
type app struct {
	db        *database.Database
	runner    *enrich.Runner
	enricher  *enrich.Orchestrator
	catalog   *catalog.Catalog
	generator *feed.Generator
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := database.Open(database.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, err
	}

	a, err := wire(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, cfg *config.Config, db *database.Database) (*app, error) {
	store, err := bookmarks.NewStore(ctx, db)
	if err != nil {
		return nil, err
	}

	sources := cfg.Federation.Sources
	if cfg.Federation.SourcesFile != "" {
		loaded, err := federation.LoadSources(ctx, cfg.Federation.SourcesFile)
		if err != nil {
			slog.Warn("Ignoring federation source list", "error", err)
		}
		sources = federation.MergeSources(sources, loaded)
	} else {
		sources = federation.MergeSources(sources)
	}

	uploader, err := publish.NewUploader(cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s uploader: %w", cfg.Remote.Backend, err)
	}
	publisher := publish.NewPublisher(uploader, store, publish.Options{
		DatabaseName: cfg.Backup.DatabaseName,
		BackupDir:    cfg.Backup.Dir,
		BackupKeep:   cfg.Backup.Keep,
		Timeout:      cfg.Backup.Timeout,
	})

	generator := feed.NewGenerator(feed.Config{
		Title:       cfg.Feed.Title,
		Description: cfg.Feed.Description,
		Link:        cfg.Feed.Link,
		AuthorName:  cfg.Feed.AuthorName,
		AuthorEmail: cfg.Feed.AuthorEmail,
		Logo:        cfg.Feed.Logo,
		Language:    cfg.Feed.Language,
		Placeholder: cfg.Feed.Placeholder,
	})

	cache, err := database.NewCache(ctx, db, opengraph.CacheTable)
	if err != nil {
		return nil, err
	}
	if removed, err := cache.CleanupExpired(ctx); err != nil {
		slog.Warn("Failed to clean metadata cache", "error", err)
	} else if removed > 0 {
		slog.Debug("Removed expired metadata", "count", removed)
	}

	stages := enrich.Stages{
		Thumbnail: thumbnail.New(cfg.Thumbnail, store, uploader),
		Archive:   archive.New(cfg.Archive, store, publisher.PublishDatabase),
	}
	d, err := describer.New(ctx, cfg.AI, store, opengraph.NewFetcher(cache))
	switch {
	case errors.Is(err, describer.ErrNotConfigured):
		slog.Info("AI describer disabled, no API key")
	case err != nil:
		return nil, err
	default:
		stages.Describe = d
	}

	c := catalog.New(store, federation.New(db, sources), generator, publisher, stages.Describe, catalog.Options{
		FeedDir:  cfg.Feed.Dir,
		RSSFile:  cfg.Feed.RSSFile,
		AtomFile: cfg.Feed.AtomFile,
	})

	runner := enrich.NewRunner(cfg.Enrichment.Workers, cfg.Enrichment.QueueSize)
	enricher := enrich.New(store, runner, stages, c.Refresh, enrich.Options{
		ArchiveDelay: cfg.Archive.Delay,
		StageTimeout: cfg.Enrichment.StageTimeout,
	})
	c.SetEnricher(enricher)

	return &app{db: db, runner: runner, enricher: enricher, catalog: c, generator: generator}, nil
}

// Close waits for background work, publishes changes the queue dropped and
// closes the database.
func (a *app) Close() {
	a.runner.Close()
	a.enricher.Flush(context.Background())
	if err := a.db.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}
