package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/lepinkainen/bookforge/internal/bookmarks"
)

// Kind names an enrichment stage.
type Kind string

const (
	KindThumbnail Kind = "thumbnail"
	KindArchive   Kind = "archive"
	KindDescribe  Kind = "tags_description"
)

// Status is the result of one stage.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome reports what one stage did for one bookmark.
type Outcome struct {
	BookmarkID int64
	Kind       Kind
	Status     Status
	Payload    string
	Err        error
}

func (o Outcome) String() string {
	s := fmt.Sprintf("%s: %s", o.Kind, o.Status)
	if o.Payload != "" {
		s += " " + o.Payload
	}
	if o.Err != nil {
		s += " (" + o.Err.Error() + ")"
	}
	return s
}

// Store reads the current state of a bookmark.
type Store interface {
	Get(ctx context.Context, id int64) (*bookmarks.Bookmark, error)
}

// Thumbnailer derives and persists a thumbnail.
type Thumbnailer interface {
	Derive(ctx context.Context, b *bookmarks.Bookmark) (string, error)
}

// Archiver submits a page and persists the snapshot link.
type Archiver interface {
	Archive(ctx context.Context, b *bookmarks.Bookmark) (string, error)
}

// Describer fills empty tags and descriptions.
type Describer interface {
	Describe(ctx context.Context, b *bookmarks.Bookmark) (bookmarks.Filled, error)
}

// Stages are the optional enrichment steps. A nil stage is skipped.
type Stages struct {
	Thumbnail Thumbnailer
	Archive   Archiver
	Describe  Describer
}

// Options tune the orchestrator.
type Options struct {
	// ArchiveDelay postpones the archive submission
	ArchiveDelay time.Duration
	// StageTimeout bounds each stage
	StageTimeout time.Duration
}

// Orchestrator runs the enrichment stages and the completion hook.
type Orchestrator struct {
	store      Store
	stages     Stages
	runner     *Runner
	onComplete func(ctx context.Context)
	opts       Options

	// pending is set when a change could not be queued for publishing
	pending atomic.Bool
}

// New creates an Orchestrator submitting background work to runner.
// onComplete regenerates and publishes the feeds; it may be nil.
func New(store Store, runner *Runner, stages Stages, onComplete func(ctx context.Context), opts Options) *Orchestrator {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 5 * time.Minute
	}
	if onComplete == nil {
		onComplete = func(context.Context) {}
	}
	return &Orchestrator{store: store, stages: stages, runner: runner, onComplete: onComplete, opts: opts}
}

// Schedule enriches id in the background. When the queue is full the
// bookmark is still published by the next completion or by Flush.
func (o *Orchestrator) Schedule(id int64) bool {
	ok := o.runner.Submit(fmt.Sprintf("enrich %d", id), func(ctx context.Context) error {
		_, err := o.Enrich(ctx, id)
		return err
	})
	if !ok {
		o.pending.Store(true)
	}
	return ok
}

// Changed regenerates and publishes in the background. A change that cannot
// be queued is published by the next completion or by Flush.
func (o *Orchestrator) Changed() bool {
	ok := o.runner.Submit("publish", func(ctx context.Context) error {
		o.complete(ctx)
		return nil
	})
	if !ok {
		o.pending.Store(true)
	}
	return ok
}

// Flush runs the completion hook if a change was dropped since the last run.
func (o *Orchestrator) Flush(ctx context.Context) {
	if o.pending.Swap(false) {
		slog.Info("Publishing changes dropped from the queue")
		o.onComplete(ctx)
	}
}

// complete runs the completion hook, which covers every earlier change.
func (o *Orchestrator) complete(ctx context.Context) {
	o.pending.Store(false)
	o.onComplete(ctx)
}

// Enrich runs every stage id needs concurrently, then the completion hook.
// Stage failures are reported in the outcomes and logged, not returned.
func (o *Orchestrator) Enrich(ctx context.Context, id int64) ([]Outcome, error) {
	b, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.ReadOnly() {
		return nil, bookmarks.ErrReadOnly
	}

	outcomes := []Outcome{
		{BookmarkID: id, Kind: KindDescribe},
		{BookmarkID: id, Kind: KindThumbnail},
		{BookmarkID: id, Kind: KindArchive},
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		o.stage(ctx, &outcomes[0], func(ctx context.Context) (string, error) { return o.describe(ctx, b) })
	})
	wg.Go(func() {
		o.stage(ctx, &outcomes[1], func(ctx context.Context) (string, error) { return o.thumbnail(ctx, b) })
	})
	wg.Go(func() {
		o.stage(ctx, &outcomes[2], func(ctx context.Context) (string, error) { return o.archive(ctx, id) })
	})
	wg.Wait()

	for _, outcome := range outcomes {
		if outcome.Status == StatusFailed {
			slog.Warn("Enrichment stage failed", "id", id, "stage", outcome.Kind, "error", outcome.Err)
		} else {
			slog.Debug("Enrichment stage done", "id", id, "stage", outcome.Kind, "status", outcome.Status)
		}
	}

	o.complete(ctx)
	return outcomes, nil
}

// errSkipped marks a stage with nothing to do.
var errSkipped = errors.New("skipped")

func (o *Orchestrator) stage(ctx context.Context, outcome *Outcome, fn func(context.Context) (string, error)) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
	defer cancel()

	var payload string
	var err error
	var catcher panics.Catcher
	catcher.Try(func() { payload, err = fn(ctx) })
	if recovered := catcher.Recovered(); recovered != nil {
		err = recovered.AsError()
	}

	switch {
	case errors.Is(err, errSkipped):
		outcome.Status = StatusSkipped
		outcome.Payload = payload
	case err != nil:
		outcome.Status = StatusFailed
		outcome.Err = err
	default:
		outcome.Status = StatusSuccess
		outcome.Payload = payload
	}
}

func (o *Orchestrator) describe(ctx context.Context, b *bookmarks.Bookmark) (string, error) {
	if o.stages.Describe == nil {
		return "not configured", errSkipped
	}
	if len(b.Tags) > 0 && strings.TrimSpace(b.Description) != "" {
		return "", errSkipped
	}

	filled, err := o.stages.Describe.Describe(ctx, b)
	if err != nil {
		return "", err
	}
	if !filled.Any() {
		return "nothing to fill", errSkipped
	}

	var fields []string
	if filled.Tags {
		fields = append(fields, "tags")
	}
	if filled.Description {
		fields = append(fields, "description")
	}
	return strings.Join(fields, ","), nil
}

func (o *Orchestrator) thumbnail(ctx context.Context, b *bookmarks.Bookmark) (string, error) {
	if o.stages.Thumbnail == nil {
		return "not configured", errSkipped
	}
	if b.ThumbnailURL != "" {
		return b.ThumbnailURL, errSkipped
	}
	return o.stages.Thumbnail.Derive(ctx, b)
}

func (o *Orchestrator) archive(ctx context.Context, id int64) (string, error) {
	if o.stages.Archive == nil {
		return "not configured", errSkipped
	}

	if o.opts.ArchiveDelay > 0 {
		timer := time.NewTimer(o.opts.ArchiveDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	// the bookmark may have changed or gone during the delay
	b, err := o.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if b.ArchiveURL != "" {
		return b.ArchiveURL, errSkipped
	}
	return o.stages.Archive.Archive(ctx, b)
}

// WaitForThumbnail polls until id has a thumbnail, attempts run out or ctx
// ends, and returns whatever is stored then. It does not cancel the derivation.
func (o *Orchestrator) WaitForThumbnail(ctx context.Context, id int64, interval time.Duration, attempts int) (string, error) {
	// reads outlive ctx so giving up still reports the stored value
	read := context.WithoutCancel(ctx)
	for attempt := 1; ; attempt++ {
		b, err := o.store.Get(read, id)
		if err != nil {
			return "", err
		}
		if b.ThumbnailURL != "" || attempt >= attempts || ctx.Err() != nil {
			return b.ThumbnailURL, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}
