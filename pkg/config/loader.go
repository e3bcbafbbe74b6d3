// Package config loads auxiliary JSON/YAML documents from files or URLs.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	httputil "github.com/lepinkainen/bookforge/pkg/http"
	"github.com/lepinkainen/bookforge/pkg/urlutils"
)

// LoaderConfig represents configuration loading options
type LoaderConfig struct {
	RemoteURL         string
	LocalPath         string
	Timeout           time.Duration
	MaxRetries        int
	FallbackToDefault bool
}

// DefaultLoaderConfig returns default loader configuration
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		Timeout:           10 * time.Second,
		MaxRetries:        3,
		FallbackToDefault: true,
	}
}

// LoadFromURLWithFallback decodes the remote document into target, falling back
// to the local file. With FallbackToDefault, target keeps whatever it held
// before when both fail.
func LoadFromURLWithFallback(ctx context.Context, config *LoaderConfig, target any) error {
	if config.RemoteURL != "" {
		err := loadFromURL(ctx, config.RemoteURL, config.Timeout, config.MaxRetries, target)
		if err == nil {
			return nil
		}
		slog.Warn("Failed to load remote document, trying local file", "url", config.RemoteURL, "error", err)
	}

	if config.LocalPath != "" {
		err := loadFromFile(config.LocalPath, target)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to load local document", "path", config.LocalPath, "error", err)
		}
	}

	if !config.FallbackToDefault {
		return fmt.Errorf("failed to load configuration from URL and local file")
	}

	return nil
}

// LoadOrFetch decodes the JSON or YAML document at location, which is either
// an http(s) URL or a file path.
func LoadOrFetch(ctx context.Context, location string, target any) error {
	if urlutils.IsHTTPURL(location) {
		defaults := DefaultLoaderConfig()
		return loadFromURL(ctx, location, defaults.Timeout, defaults.MaxRetries, target)
	}
	return loadFromFile(location, target)
}

func loadFromURL(ctx context.Context, url string, timeout time.Duration, maxRetries int, target any) error {
	httpConfig := httputil.DefaultConfig()
	httpConfig.Timeout = timeout
	httpConfig.MaxRetries = maxRetries
	httpConfig.RetryBackoff = 200 * time.Millisecond

	client := httputil.NewClient(httpConfig)
	resp, err := client.GetWithContext(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to fetch config from URL: %w", err)
	}

	if err := httputil.EnsureStatusOK(resp); err != nil {
		resp.Body.Close()
		return fmt.Errorf("HTTP error fetching config: %w", err)
	}

	data, err := httputil.ReadResponseBody(resp)
	if err != nil {
		return fmt.Errorf("failed to read config response: %w", err)
	}

	name := url
	if strings.Contains(httputil.GetContentType(resp), "json") {
		name = "remote.json"
	}
	if err := decode(name, data, target); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}

	return nil
}

func loadFromFile(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", path, err)
	}

	return decode(path, data, target)
}

func decode(name string, data []byte, target any) error {
	switch detectFormat(name, data) {
	case "json":
		if err := json.Unmarshal(data, target); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, target); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	return nil
}

// detectFormat decides between json and yaml, by extension first, then content.
func detectFormat(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return "json"
	}
	return "yaml"
}
