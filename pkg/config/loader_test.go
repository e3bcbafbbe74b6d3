package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type testConfig struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	Debug   bool   `json:"debug" yaml:"debug"`
	Timeout int    `json:"timeout" yaml:"timeout"`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		data     string
		expected string
	}{
		{name: "JSON extension", path: "c.json", data: `{"a": 1}`, expected: "json"},
		{name: "YAML extension", path: "c.yaml", data: `a: 1`, expected: "yaml"},
		{name: "YML extension", path: "c.yml", data: `a: 1`, expected: "yaml"},
		{name: "JSON content", path: "c", data: `  {"a": 1}`, expected: "json"},
		{name: "JSON array content", path: "c", data: `[{"a": 1}]`, expected: "json"},
		{name: "extension wins over content", path: "c.json", data: `a: 1`, expected: "json"},
		{name: "empty defaults to YAML", path: "c", data: ``, expected: "yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectFormat(tt.path, []byte(tt.data)); got != tt.expected {
				t.Errorf("detectFormat(%q, %q) = %q, want %q", tt.path, tt.data, got, tt.expected)
			}
		})
	}
}

func TestLoadOrFetchFiles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	t.Run("json", func(t *testing.T) {
		path := writeFile(t, dir, "c.json", `{"name": "j", "version": "1.0.0", "debug": true, "timeout": 30}`)
		var cfg testConfig
		if err := LoadOrFetch(ctx, path, &cfg); err != nil {
			t.Fatalf("LoadOrFetch() error = %v", err)
		}
		if cfg.Name != "j" || !cfg.Debug || cfg.Timeout != 30 {
			t.Errorf("cfg = %+v", cfg)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		path := writeFile(t, dir, "c.yaml", "name: y\nversion: 2.0.0\ntimeout: 60\n")
		var cfg testConfig
		if err := LoadOrFetch(ctx, path, &cfg); err != nil {
			t.Fatalf("LoadOrFetch() error = %v", err)
		}
		if cfg.Name != "y" || cfg.Version != "2.0.0" || cfg.Timeout != 60 {
			t.Errorf("cfg = %+v", cfg)
		}
	})

	errorCases := []struct {
		name    string
		file    string
		content string
		substr  string
	}{
		{name: "missing file", file: "", substr: "failed to read file"},
		{name: "invalid JSON", file: "bad.json", content: `{"name": invalid}`, substr: "failed to parse JSON"},
		{name: "invalid YAML", file: "bad.yaml", content: "name: test\n  invalid: : yaml", substr: "failed to parse YAML"},
	}

	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "does-not-exist.json")
			if tt.file != "" {
				path = writeFile(t, dir, tt.file, tt.content)
			}
			var cfg testConfig
			err := LoadOrFetch(ctx, path, &cfg)
			if err == nil || !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("LoadOrFetch() error = %v, want %q", err, tt.substr)
			}
		})
	}
}

func TestLoadOrFetchURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/config.yaml":
			w.Write([]byte("name: remote-yaml\ntimeout: 45\n"))
		case "/config":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"name": "remote-json"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx := context.Background()

	var yamlCfg testConfig
	if err := LoadOrFetch(ctx, server.URL+"/config.yaml", &yamlCfg); err != nil {
		t.Fatalf("LoadOrFetch(yaml) error = %v", err)
	}
	if yamlCfg.Name != "remote-yaml" || yamlCfg.Timeout != 45 {
		t.Errorf("yaml cfg = %+v", yamlCfg)
	}

	var jsonCfg testConfig
	if err := LoadOrFetch(ctx, server.URL+"/config", &jsonCfg); err != nil {
		t.Fatalf("LoadOrFetch(json) error = %v", err)
	}
	if jsonCfg.Name != "remote-json" {
		t.Errorf("json cfg = %+v", jsonCfg)
	}

	var missing testConfig
	err := LoadOrFetch(ctx, server.URL+"/missing", &missing)
	if err == nil || !strings.Contains(err.Error(), "HTTP error") {
		t.Errorf("LoadOrFetch(404) error = %v", err)
	}
}

func TestLoadFromURLWithFallback(t *testing.T) {
	dir := t.TempDir()
	local := writeFile(t, dir, "fallback.json", `{"name": "local-fallback"}`)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer failing.Close()

	tests := []struct {
		name     string
		config   *LoaderConfig
		initial  string
		expected string
		wantErr  bool
	}{
		{
			name:     "remote fails, local used",
			config:   &LoaderConfig{RemoteURL: failing.URL, LocalPath: local, Timeout: time.Second},
			expected: "local-fallback",
		},
		{
			name:     "nothing loads, default kept",
			config:   &LoaderConfig{LocalPath: filepath.Join(dir, "nope.yaml"), FallbackToDefault: true},
			initial:  "embedded",
			expected: "embedded",
		},
		{
			name:    "nothing loads, no fallback",
			config:  &LoaderConfig{LocalPath: filepath.Join(dir, "nope.yaml")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig{Name: tt.initial}
			err := LoadFromURLWithFallback(context.Background(), tt.config, &cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadFromURLWithFallback() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && cfg.Name != tt.expected {
				t.Errorf("Name = %q, want %q", cfg.Name, tt.expected)
			}
		})
	}
}
