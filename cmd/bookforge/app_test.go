package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lepinkainen/bookforge/internal/bookmarks"
	"github.com/lepinkainen/bookforge/internal/config"
)

func testApp(t *testing.T) (*app, string) {
	t.Helper()
	dir := t.TempDir()

	cfg, err := config.LoadConfig(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	cfg.Database.Path = filepath.Join(dir, "bookmarks.db")
	cfg.Feed.Dir = filepath.Join(dir, "feeds")
	cfg.Remote.Local.Dir = filepath.Join(dir, "public")
	cfg.Backup.Dir = filepath.Join(dir, "backups")
	cfg.AI.APIKey = ""

	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	return a, dir
}

func TestPublishCommand(t *testing.T) {
	a, dir := testApp(t)
	defer a.Close()

	if err := run(context.Background(), "publish", a); err != nil {
		t.Fatalf("publish error = %v", err)
	}

	for _, name := range []string{"bookmarks.rss", "bookmarks.atom", "bookmarks.db"} {
		if _, err := os.Stat(filepath.Join(dir, "public", name)); err != nil {
			t.Errorf("%s not published: %v", name, err)
		}
	}

	rss, err := os.ReadFile(filepath.Join(dir, "feeds", "bookmarks.rss"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(rss), `<rss version="2.0">`) {
		t.Errorf("unexpected rss document:\n%s", rss)
	}
}

func TestDescribeWithoutKey(t *testing.T) {
	a, _ := testApp(t)
	defer a.Close()

	if _, err := a.catalog.Describe(context.Background(), 1); err == nil {
		t.Error("Describe() without an API key succeeded")
	}
}

func TestUnknownCommand(t *testing.T) {
	a, _ := testApp(t)
	defer a.Close()

	if err := run(context.Background(), "frobnicate", a); err == nil {
		t.Error("run() accepted an unknown command")
	}
}

func TestRandomOnEmptyCatalog(t *testing.T) {
	a, _ := testApp(t)
	defer a.Close()

	if err := run(context.Background(), "random", a); !errors.Is(err, bookmarks.ErrNotFound) {
		t.Errorf("random error = %v, want ErrNotFound", err)
	}
}

func TestListCommand(t *testing.T) {
	a, _ := testApp(t)
	defer a.Close()

	if err := run(context.Background(), "list", a); err != nil {
		t.Errorf("list error = %v", err)
	}
}
