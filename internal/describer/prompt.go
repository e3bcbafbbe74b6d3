package describer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lepinkainen/bookforge/configs"
	configloader "github.com/lepinkainen/bookforge/pkg/config"
	"github.com/lepinkainen/bookforge/pkg/opengraph"
	"github.com/lepinkainen/bookforge/pkg/urlutils"
)

// Prompt holds the instructions sent with every request.
type Prompt struct {
	System         string   `yaml:"system" json:"system"`
	PreferredTags  []string `yaml:"preferred_tags" json:"preferred_tags"`
	MaxTags        int      `yaml:"max_tags" json:"max_tags"`
	MaxDescription int      `yaml:"max_description" json:"max_description"`
}

// LoadPrompt reads the embedded prompt and applies override, a file path or
// URL, on top of it. A failing override keeps the embedded prompt.
func LoadPrompt(ctx context.Context, override string) (*Prompt, error) {
	data, err := configs.EmbeddedConfigs.ReadFile("describer.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded prompt: %w", err)
	}

	var prompt Prompt
	if err := yaml.Unmarshal(data, &prompt); err != nil {
		return nil, fmt.Errorf("failed to parse embedded prompt: %w", err)
	}

	if override != "" {
		loader := configloader.DefaultLoaderConfig()
		if urlutils.IsHTTPURL(override) {
			loader.RemoteURL = override
		} else {
			loader.LocalPath = override
		}
		loader.FallbackToDefault = true

		if err := configloader.LoadFromURLWithFallback(ctx, loader, &prompt); err != nil {
			return nil, err
		}
		slog.Debug("Loaded describer prompt", "source", override)
	}

	if prompt.MaxTags <= 0 {
		prompt.MaxTags = 5
	}
	return &prompt, nil
}

func (p *Prompt) systemMessage() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(p.System))
	if len(p.PreferredTags) > 0 {
		fmt.Fprintf(&sb, "\nPrefer these tags when they fit: %s.", strings.Join(p.PreferredTags, ", "))
	}
	fmt.Fprintf(&sb, "\nUse at most %d tags.", p.MaxTags)
	return sb.String()
}

type pageInfo struct {
	Title       string
	URL         string
	Description string
	Meta        *opengraph.Data
}

func (p *Prompt) userMessage(page pageInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\nURL: %s\n", page.Title, page.URL)
	if page.Description != "" {
		fmt.Fprintf(&sb, "Current description: %s\n", page.Description)
	}
	if m := page.Meta; !m.Empty() {
		if m.SiteName != "" {
			fmt.Fprintf(&sb, "Site: %s\n", m.SiteName)
		}
		if m.Title != "" && m.Title != page.Title {
			fmt.Fprintf(&sb, "Page title: %s\n", m.Title)
		}
		if m.Description != "" {
			fmt.Fprintf(&sb, "Page summary: %s\n", m.Description)
		}
	}
	return sb.String()
}
