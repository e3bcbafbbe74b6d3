// Package thumbnail captures page screenshots and publishes them as thumbnails.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/lepinkainen/bookforge/internal/bookmarks"
	"github.com/lepinkainen/bookforge/pkg/publish"
)

// ErrCaptureFailed is returned when no screenshot could be taken.
var ErrCaptureFailed = errors.New("screenshot capture failed")

// Config controls the capture tool. Command arguments may contain the
// placeholders {url}, {output}, {width} and {height}.
type Config struct {
	Command          []string      `mapstructure:"command"`
	BootstrapCommand []string      `mapstructure:"bootstrap_command"`
	MissingBrowser   string        `mapstructure:"missing_browser"`
	Width            int           `mapstructure:"width"`
	Height           int           `mapstructure:"height"`
	ThumbnailWidth   int           `mapstructure:"thumbnail_width"`
	Quality          int           `mapstructure:"quality"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// DefaultConfig runs shot-scraper.
func DefaultConfig() Config {
	return Config{
		Command:          []string{"shot-scraper", "{url}", "-o", "{output}", "--width", "{width}", "--height", "{height}"},
		BootstrapCommand: []string{"shot-scraper", "install"},
		MissingBrowser:   "Executable doesn't exist",
		Width:            1280,
		Height:           720,
		ThumbnailWidth:   480,
		Quality:          85,
		Timeout:          90 * time.Second,
	}
}

// Store is the part of the record store the deriver writes to.
type Store interface {
	SetThumbnailURL(ctx context.Context, id int64, thumbnailURL string) error
}

// Deriver turns a bookmark URL into a published thumbnail.
type Deriver struct {
	config   Config
	store    Store
	uploader publish.Uploader
}

// New creates a Deriver.
func New(config Config, store Store, uploader publish.Uploader) *Deriver {
	defaults := DefaultConfig()
	if len(config.Command) == 0 {
		config.Command = defaults.Command
	}
	if config.Width <= 0 {
		config.Width = defaults.Width
	}
	if config.Height <= 0 {
		config.Height = defaults.Height
	}
	if config.ThumbnailWidth <= 0 {
		config.ThumbnailWidth = defaults.ThumbnailWidth
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = defaults.Quality
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &Deriver{config: config, store: store, uploader: uploader}
}

// Key is the remote key of a bookmark's thumbnail.
func Key(id int64) string {
	return "thumbnails/" + strconv.FormatInt(id, 10) + ".jpg"
}

// Derive returns the thumbnail URL of b, capturing and publishing one if it
// has none yet. On failure it returns "" and the bookmark is left as is.
func (d *Deriver) Derive(ctx context.Context, b *bookmarks.Bookmark) (string, error) {
	if b.ThumbnailURL != "" {
		return b.ThumbnailURL, nil
	}

	tmpDir, err := os.MkdirTemp("", "bookforge-thumb-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	shot := filepath.Join(tmpDir, "shot.png")
	if err := d.capture(ctx, b.URL, shot); err != nil {
		return "", err
	}

	thumb := filepath.Join(tmpDir, "thumb.jpg")
	if err := d.resize(shot, thumb); err != nil {
		return "", err
	}

	key := Key(b.ID)
	if err := d.uploader.Upload(ctx, thumb, key, "image/jpeg"); err != nil {
		return "", fmt.Errorf("failed to upload thumbnail: %w", err)
	}

	thumbnailURL := d.uploader.PublicURL(key)
	if err := d.store.SetThumbnailURL(ctx, b.ID, thumbnailURL); err != nil {
		return "", err
	}

	slog.Info("Thumbnail created", "id", b.ID, "url", thumbnailURL)
	return thumbnailURL, nil
}

func (d *Deriver) expand(args []string, pageURL, output string) []string {
	r := strings.NewReplacer(
		"{url}", pageURL,
		"{output}", output,
		"{width}", strconv.Itoa(d.config.Width),
		"{height}", strconv.Itoa(d.config.Height),
	)
	expanded := make([]string, len(args))
	for i, arg := range args {
		expanded[i] = r.Replace(arg)
	}
	return expanded
}

func (d *Deriver) run(ctx context.Context, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	return cmd.CombinedOutput()
}

// capture runs the capture command, installing the browser once if the
// tool reports it missing.
func (d *Deriver) capture(ctx context.Context, pageURL, output string) error {
	args := d.expand(d.config.Command, pageURL, output)

	out, err := d.run(ctx, args)
	if err == nil {
		return checkOutput(output)
	}

	if d.config.MissingBrowser == "" || len(d.config.BootstrapCommand) == 0 ||
		!bytes.Contains(out, []byte(d.config.MissingBrowser)) {
		return fmt.Errorf("%w: %v: %s", ErrCaptureFailed, err, strings.TrimSpace(string(out)))
	}

	slog.Warn("Capture browser missing, installing", "command", d.config.BootstrapCommand)
	if installOut, err := d.run(ctx, d.config.BootstrapCommand); err != nil {
		return fmt.Errorf("%w: bootstrap failed: %v: %s", ErrCaptureFailed, err, strings.TrimSpace(string(installOut)))
	}

	if out, err := d.run(ctx, args); err != nil {
		return fmt.Errorf("%w after bootstrap: %v: %s", ErrCaptureFailed, err, strings.TrimSpace(string(out)))
	}
	return checkOutput(output)
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: no image written", ErrCaptureFailed)
	}
	return nil
}

// resize scales the screenshot to the thumbnail width and writes a JPEG.
func (d *Deriver) resize(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open screenshot: %w", err)
	}
	defer in.Close()

	img, _, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("failed to decode screenshot: %w", err)
	}

	bounds := img.Bounds()
	width := d.config.ThumbnailWidth
	if bounds.Dx() < width {
		width = bounds.Dx()
	}
	height := bounds.Dy() * width / bounds.Dx()
	if height < 1 {
		height = 1
	}

	thumb := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(thumb, thumb.Bounds(), img, bounds, draw.Over, nil)

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create thumbnail: %w", err)
	}
	if err := jpeg.Encode(out, thumb, &jpeg.Options{Quality: d.config.Quality}); err != nil {
		out.Close()
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return out.Close()
}
