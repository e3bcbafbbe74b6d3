package federation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lepinkainen/bookforge/pkg/config"
)

// Source is a secondary bookmark database attached at query time.
type Source struct {
	Name string `json:"name" yaml:"name" mapstructure:"name"`
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

type sourceList struct {
	Sources []Source `json:"sources" yaml:"sources"`
}

// LoadSources reads a YAML or JSON source list from a file or URL.
func LoadSources(ctx context.Context, location string) ([]Source, error) {
	var list sourceList
	if err := config.LoadOrFetch(ctx, location, &list); err != nil {
		return nil, fmt.Errorf("failed to load federation sources from %s: %w", location, err)
	}
	return list.Sources, nil
}

// MergeSources concatenates source lists, dropping entries without a path
// and repeated paths. Unnamed sources are named after their file.
func MergeSources(lists ...[]Source) []Source {
	var merged []Source
	seen := make(map[string]bool)

	for _, list := range lists {
		for _, src := range list {
			path := strings.TrimSpace(src.Path)
			if path == "" {
				continue
			}
			key := filepath.Clean(path)
			if seen[key] {
				continue
			}
			seen[key] = true

			if src.Name == "" {
				src.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			src.Path = path
			merged = append(merged, src)
		}
	}

	return merged
}
