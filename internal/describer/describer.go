// Package describer asks an OpenAI compatible model for bookmark tags and
// descriptions.
package describer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/lepinkainen/bookforge/internal/bookmarks"
	"github.com/lepinkainen/bookforge/pkg/api"
	"github.com/lepinkainen/bookforge/pkg/opengraph"
)

var (
	// ErrNotConfigured is returned by New without an API key.
	ErrNotConfigured = errors.New("describer has no API key")
	// ErrBadResponse is returned when the model reply is not the expected JSON object.
	ErrBadResponse = errors.New("unexpected describer response")
)

// Config configures the chat completions endpoint.
type Config struct {
	Endpoint    string        `mapstructure:"endpoint"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	PromptFile  string        `mapstructure:"prompt_file"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MinInterval time.Duration `mapstructure:"min_interval"`
}

// DefaultConfig targets the OpenAI API.
func DefaultConfig() Config {
	return Config{
		Endpoint:    "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Timeout:     60 * time.Second,
		MinInterval: 500 * time.Millisecond,
	}
}

// Store is the part of the record store the describer writes to.
type Store interface {
	FillMissing(ctx context.Context, id int64, tags []string, description string) (bookmarks.Filled, error)
}

// MetadataFetcher supplies page metadata for the prompt.
type MetadataFetcher interface {
	Fetch(ctx context.Context, url string) (*opengraph.Data, error)
}

// Result is a validated model suggestion.
type Result struct {
	Tags        []string
	Description string
}

// Describer fills empty tags and descriptions.
type Describer struct {
	client *api.EnhancedClient
	url    string
	model  string
	prompt *Prompt
	store  Store
	meta   MetadataFetcher
}

// New creates a Describer. meta may be nil.
func New(ctx context.Context, config Config, store Store, meta MetadataFetcher) (*Describer, error) {
	if config.APIKey == "" {
		return nil, ErrNotConfigured
	}

	defaults := DefaultConfig()
	if config.Endpoint == "" {
		config.Endpoint = defaults.Endpoint
	}
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	prompt, err := LoadPrompt(ctx, config.PromptFile)
	if err != nil {
		return nil, err
	}

	base := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.APIKey}))
	base.Timeout = config.Timeout

	client := api.NewEnhancedClient(&api.EnhancedClientConfig{
		BaseClient:  base,
		RateLimiter: api.NewSimpleRateLimiter(config.MinInterval),
		RetryPolicy: api.DefaultRetryPolicy(),
	})

	return &Describer{
		client: client,
		url:    strings.TrimRight(config.Endpoint, "/") + "/chat/completions",
		model:  config.Model,
		prompt: prompt,
		store:  store,
		meta:   meta,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Needs reports whether b is missing anything the describer provides.
func Needs(b *bookmarks.Bookmark) bool {
	return len(b.Tags) == 0 || strings.TrimSpace(b.Description) == ""
}

// Suggest asks the model for tags and a description of b.
func (d *Describer) Suggest(ctx context.Context, b *bookmarks.Bookmark) (*Result, error) {
	page := pageInfo{Title: b.Title, URL: b.URL, Description: b.Description}
	if d.meta != nil {
		meta, err := d.meta.Fetch(ctx, b.URL)
		if err != nil {
			slog.Debug("Page metadata unavailable", "id", b.ID, "error", err)
		}
		page.Meta = meta
	}

	req := chatRequest{
		Model: d.model,
		Messages: []chatMessage{
			{Role: "system", Content: d.prompt.systemMessage()},
			{Role: "user", Content: d.prompt.userMessage(page)},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
		Temperature:    0.2,
	}

	var resp chatResponse
	if err := d.client.PostAndDecode(ctx, d.url, req, &resp, nil); err != nil {
		return nil, fmt.Errorf("failed to query describer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrBadResponse)
	}

	return d.parse(resp.Choices[0].Message.Content)
}

func (d *Describer) parse(content string) (*Result, error) {
	var raw struct {
		Tags        *[]string `json:"tags"`
		Description *string   `json:"description"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if raw.Tags == nil || raw.Description == nil {
		return nil, fmt.Errorf("%w: missing tags or description", ErrBadResponse)
	}

	tags := bookmarks.NormalizeTags(*raw.Tags)
	if len(tags) > d.prompt.MaxTags {
		tags = tags[:d.prompt.MaxTags]
	}

	description := strings.TrimSpace(*raw.Description)
	if limit := d.prompt.MaxDescription; limit > 0 {
		if runes := []rune(description); len(runes) > limit {
			description = strings.TrimSpace(string(runes[:limit]))
		}
	}

	return &Result{Tags: tags, Description: description}, nil
}

// Describe fills the empty tags and description of b. Fields that already
// have a value are never replaced.
func (d *Describer) Describe(ctx context.Context, b *bookmarks.Bookmark) (bookmarks.Filled, error) {
	if !Needs(b) {
		return bookmarks.Filled{}, nil
	}

	result, err := d.Suggest(ctx, b)
	if err != nil {
		return bookmarks.Filled{}, err
	}

	filled, err := d.store.FillMissing(ctx, b.ID, result.Tags, result.Description)
	if err != nil {
		return bookmarks.Filled{}, err
	}

	slog.Info("Described bookmark", "id", b.ID, "tags", filled.Tags, "description", filled.Description)
	return filled, nil
}
