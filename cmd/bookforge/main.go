// Package main provides the CLI entry point for bookforge.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/lepinkainen/bookforge/internal/bookmarks"
	"github.com/lepinkainen/bookforge/internal/catalog"
	"github.com/lepinkainen/bookforge/internal/config"
	"github.com/lepinkainen/bookforge/internal/federation"
	"github.com/lepinkainen/bookforge/pkg/preview"
)

// QueryFlags are shared by the listing commands
type QueryFlags struct {
	Page    int  `help:"Page number (1-based)" default:"1"`
	PerPage int  `help:"Bookmarks per page, 0 for all" default:"20"`
	JSON    bool `help:"Print JSON instead of text" name:"json"`
}

// CLI structure
var CLI struct {
	Config string `help:"Configuration file path" default:"config.yaml"`
	Debug  bool   `help:"Enable debug logging" default:"false"`

	Add struct {
		URL         string   `arg:"" help:"Page URL"`
		Title       string   `help:"Bookmark title" short:"t" required:""`
		Description string   `help:"Description; generated when empty" short:"d"`
		Tags        []string `help:"Comma separated tags; generated when empty" sep:","`
	} `cmd:"" help:"Save a bookmark and enrich it in the background."`

	List struct {
		Kind string `help:"newest, oldest, untagged, tag, search or random" default:"newest" enum:"newest,oldest,untagged,tag,search,random"`
		Tag  string `help:"Tag for --kind=tag"`
		QueryFlags
	} `cmd:"" help:"List bookmarks from all sources."`

	Search struct {
		Terms []string `arg:"" help:"Words to find in titles, descriptions and URLs"`
		QueryFlags
	} `cmd:"" help:"Search bookmarks from all sources."`

	Random struct {
		JSON bool `help:"Print JSON instead of text" name:"json"`
	} `cmd:"" help:"Show one bookmark picked at random from all sources."`

	Tags struct {
		Order string `help:"frequency or newest" default:"frequency" enum:"frequency,newest"`
	} `cmd:"" help:"List tags in use."`

	Edit struct {
		Title struct {
			ID    int64  `arg:""`
			Value string `arg:""`
		} `cmd:"" help:"Replace the title."`
		Description struct {
			ID    int64  `arg:""`
			Value string `arg:""`
		} `cmd:"" help:"Replace the description."`
		Tags struct {
			ID   int64    `arg:""`
			Tags []string `arg:"" optional:""`
		} `cmd:"" help:"Replace the tags; none clears them."`
	} `cmd:"" help:"Edit a bookmark."`

	Delete struct {
		ID int64 `arg:""`
	} `cmd:"" help:"Delete a bookmark."`

	Enrich struct {
		ID int64 `arg:""`
	} `cmd:"" help:"Run all enrichment stages now and print the outcomes."`

	WaitThumbnail struct {
		ID       int64         `arg:""`
		Interval time.Duration `help:"Polling interval" default:"2s"`
		Attempts int           `help:"Polls before giving up" default:"30"`
	} `cmd:"" name:"wait-thumbnail" help:"Wait until a bookmark has a thumbnail."`

	Describe struct {
		ID int64 `arg:""`
	} `cmd:"" help:"Generate missing tags and description with the AI describer."`

	Publish struct{} `cmd:"" help:"Regenerate the feeds and publish them with a database snapshot."`

	Backup struct{} `cmd:"" help:"Publish a database snapshot and keep a local backup."`

	Preview struct {
		Kind   string `help:"newest, oldest, untagged, tag, search or random" default:"newest" enum:"newest,oldest,untagged,tag,search,random"`
		Tag    string `help:"Tag for --kind=tag"`
		Search string `help:"Terms for --kind=search"`
		Limit  int    `help:"Maximum number of bookmarks" default:"200"`
		Index  int    `help:"Print the feed entry of one bookmark (0-based) to stdout" default:"-1"`
	} `cmd:"" help:"Browse bookmarks interactively."`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Configuration(kongyaml.Loader, "config.yaml", "~/.bookforge/config.yaml"),
	)

	if CLI.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		slog.SetLogLoggerLevel(slog.LevelWarn)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadConfig(CLI.Config)
	if err != nil {
		fail("Failed to load configuration", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		fail("Failed to start", err)
	}

	err = run(ctx, kctx.Command(), a)
	// queued enrichment and publishing finish before exit
	a.Close()
	if err != nil {
		fail("Command failed", err)
	}
}

func fail(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func run(ctx context.Context, command string, a *app) error {
	c := a.catalog

	switch command {
	case "add <url>":
		b, err := c.Add(ctx, CLI.Add.Title, CLI.Add.URL, CLI.Add.Description, CLI.Add.Tags)
		if errors.Is(err, catalog.ErrDuplicate) {
			fmt.Printf("Already saved as %d\n", b.ID)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Saved %d %s\n", b.ID, b.URL)
		return nil

	case "list":
		kind, err := federation.ParseKind(CLI.List.Kind)
		if err != nil {
			return err
		}
		return list(ctx, c, federation.Query{Kind: kind, Tag: CLI.List.Tag}, CLI.List.QueryFlags)

	case "search <terms>":
		q := federation.Query{Kind: federation.KindSearch, Search: strings.Join(CLI.Search.Terms, " ")}
		return list(ctx, c, q, CLI.Search.QueryFlags)

	case "random":
		b, err := c.Random(ctx)
		if err != nil {
			return err
		}
		if CLI.Random.JSON {
			return json.NewEncoder(os.Stdout).Encode(b)
		}
		fmt.Println(preview.FormatCompactListItem(0, b))
		return nil

	case "tags":
		order, err := bookmarks.ParseTagOrder(CLI.Tags.Order)
		if err != nil {
			return err
		}
		tags, err := c.Tags(ctx, order)
		if err != nil {
			return err
		}
		for _, tag := range tags {
			fmt.Printf("%5d  %s\n", tag.Count, tag.Name)
		}
		return nil

	case "edit title <id> <value>":
		return c.EditTitle(ctx, CLI.Edit.Title.ID, CLI.Edit.Title.Value)

	case "edit description <id> <value>":
		return c.EditDescription(ctx, CLI.Edit.Description.ID, CLI.Edit.Description.Value)

	case "edit tags <id>", "edit tags <id> <tags>":
		return c.EditTags(ctx, CLI.Edit.Tags.ID, bookmarks.ParseTagList(strings.Join(CLI.Edit.Tags.Tags, ",")))

	case "delete <id>":
		return c.Delete(ctx, CLI.Delete.ID)

	case "enrich <id>":
		outcomes, err := c.Enrich(ctx, CLI.Enrich.ID)
		if err != nil {
			return err
		}
		for _, outcome := range outcomes {
			fmt.Println(outcome)
		}
		return nil

	case "wait-thumbnail <id>":
		thumb, err := c.WaitForThumbnail(ctx, CLI.WaitThumbnail.ID, CLI.WaitThumbnail.Interval, CLI.WaitThumbnail.Attempts)
		if err != nil {
			return err
		}
		if thumb == "" {
			fmt.Println("No thumbnail yet")
			return nil
		}
		fmt.Println(thumb)
		return nil

	case "describe <id>":
		filled, err := c.Describe(ctx, CLI.Describe.ID)
		if err != nil {
			return err
		}
		fmt.Printf("Filled tags: %t, description: %t\n", filled.Tags, filled.Description)
		return nil

	case "publish":
		return c.Regenerate(ctx)

	case "backup":
		c.Backup(ctx)
		return nil

	case "preview":
		return browse(ctx, a)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func list(ctx context.Context, c *catalog.Catalog, q federation.Query, flags QueryFlags) error {
	q.Page = flags.Page
	q.PerPage = flags.PerPage

	page, err := c.List(ctx, q)
	if err != nil {
		return err
	}

	if flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}

	for i, b := range page.Bookmarks {
		fmt.Println(preview.FormatCompactListItem(i+(max(page.Page, 1)-1)*page.PerPage, b))
	}
	if page.PerPage > 0 {
		pages := (page.Total + page.PerPage - 1) / page.PerPage
		fmt.Printf("\npage %d of %d, %d matching\n", page.Page, pages, page.Total)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d bookmarks, %d saved here, %d untagged\n", stats.Total, stats.Primary, stats.Untagged)
	return nil
}

func browse(ctx context.Context, a *app) error {
	kind, err := federation.ParseKind(CLI.Preview.Kind)
	if err != nil {
		return err
	}

	q := federation.Query{Kind: kind, Tag: CLI.Preview.Tag, Search: CLI.Preview.Search, Page: 1, PerPage: CLI.Preview.Limit}
	page, err := a.catalog.List(ctx, q)
	if err != nil {
		return err
	}

	if index := CLI.Preview.Index; index >= 0 {
		if index >= len(page.Bookmarks) {
			return fmt.Errorf("index %d out of range, %d bookmarks", index, len(page.Bookmarks))
		}
		fmt.Println(preview.FormatXMLItem(page.Bookmarks[index], a.generator))
		return nil
	}

	return preview.Run(page.Bookmarks, fmt.Sprintf("Bookmarks - %s", kind), page.Total, a.generator)
}
