// Package config loads the bookforge configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lepinkainen/bookforge/internal/archive"
	"github.com/lepinkainen/bookforge/internal/describer"
	"github.com/lepinkainen/bookforge/internal/federation"
	"github.com/lepinkainen/bookforge/internal/thumbnail"
	"github.com/lepinkainen/bookforge/pkg/feed"
	"github.com/lepinkainen/bookforge/pkg/filesystem"
	"github.com/lepinkainen/bookforge/pkg/publish"
)

// EnvPrefix prefixes environment overrides, e.g. BOOKFORGE_AI_API_KEY.
const EnvPrefix = "BOOKFORGE"

// Config holds the central application configuration
type Config struct {
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Federation struct {
		Sources []federation.Source `mapstructure:"sources"`
		// SourcesFile is a YAML or JSON source list, local or remote
		SourcesFile string `mapstructure:"sources_file"`
	} `mapstructure:"federation"`

	Feed struct {
		Title       string `mapstructure:"title"`
		Description string `mapstructure:"description"`
		Link        string `mapstructure:"link"`
		AuthorName  string `mapstructure:"author_name"`
		AuthorEmail string `mapstructure:"author_email"`
		Logo        string `mapstructure:"logo"`
		Language    string `mapstructure:"language"`
		Placeholder string `mapstructure:"placeholder"`
		Dir         string `mapstructure:"dir"`
		RSSFile     string `mapstructure:"rss_file"`
		AtomFile    string `mapstructure:"atom_file"`
	} `mapstructure:"feed"`

	Remote    publish.Config   `mapstructure:"remote"`
	Thumbnail thumbnail.Config `mapstructure:"thumbnail"`
	Archive   archive.Config   `mapstructure:"archive"`
	AI        describer.Config `mapstructure:"ai"`

	Enrichment struct {
		Workers      int           `mapstructure:"workers"`
		QueueSize    int           `mapstructure:"queue_size"`
		StageTimeout time.Duration `mapstructure:"stage_timeout"`
	} `mapstructure:"enrichment"`

	Backup struct {
		Dir          string        `mapstructure:"dir"`
		Keep         int           `mapstructure:"keep"`
		DatabaseName string        `mapstructure:"database_name"`
		Timeout      time.Duration `mapstructure:"timeout"`
	} `mapstructure:"backup"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "bookmarks.db")

	v.SetDefault("federation.sources", []federation.Source{})
	v.SetDefault("federation.sources_file", "")

	v.SetDefault("feed.title", "Bookmarks")
	v.SetDefault("feed.description", "Recently saved links")
	v.SetDefault("feed.link", "http://localhost/")
	v.SetDefault("feed.author_name", "")
	v.SetDefault("feed.author_email", "")
	v.SetDefault("feed.logo", "")
	v.SetDefault("feed.language", "en")
	v.SetDefault("feed.placeholder", "")
	v.SetDefault("feed.dir", "public")
	v.SetDefault("feed.rss_file", "bookmarks.rss")
	v.SetDefault("feed.atom_file", "bookmarks.atom")

	remote := publish.DefaultConfig()
	v.SetDefault("remote.backend", remote.Backend)
	v.SetDefault("remote.public_url", remote.PublicURL)
	v.SetDefault("remote.local.dir", remote.Local.Dir)
	v.SetDefault("remote.sftp.host", "")
	v.SetDefault("remote.sftp.port", remote.SFTP.Port)
	v.SetDefault("remote.sftp.user", "")
	v.SetDefault("remote.sftp.password", "")
	v.SetDefault("remote.sftp.key_file", "")
	v.SetDefault("remote.sftp.known_hosts", "")
	v.SetDefault("remote.sftp.dir", "")
	v.SetDefault("remote.sftp.timeout", remote.SFTP.Timeout)
	v.SetDefault("remote.s3.endpoint", "")
	v.SetDefault("remote.s3.bucket", "")
	v.SetDefault("remote.s3.region", "")
	v.SetDefault("remote.s3.access_key", "")
	v.SetDefault("remote.s3.secret_key", "")
	v.SetDefault("remote.s3.prefix", "")
	v.SetDefault("remote.s3.use_ssl", remote.S3.UseSSL)

	thumbs := thumbnail.DefaultConfig()
	v.SetDefault("thumbnail.command", thumbs.Command)
	v.SetDefault("thumbnail.bootstrap_command", thumbs.BootstrapCommand)
	v.SetDefault("thumbnail.missing_browser", thumbs.MissingBrowser)
	v.SetDefault("thumbnail.width", thumbs.Width)
	v.SetDefault("thumbnail.height", thumbs.Height)
	v.SetDefault("thumbnail.thumbnail_width", thumbs.ThumbnailWidth)
	v.SetDefault("thumbnail.quality", thumbs.Quality)
	v.SetDefault("thumbnail.timeout", thumbs.Timeout)

	arch := archive.DefaultConfig()
	v.SetDefault("archive.base_url", arch.BaseURL)
	v.SetDefault("archive.timeout", arch.Timeout)
	v.SetDefault("archive.max_retries", arch.MaxRetries)
	v.SetDefault("archive.delay", arch.Delay)

	ai := describer.DefaultConfig()
	v.SetDefault("ai.endpoint", ai.Endpoint)
	v.SetDefault("ai.model", ai.Model)
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.prompt_file", "")
	v.SetDefault("ai.timeout", ai.Timeout)
	v.SetDefault("ai.min_interval", ai.MinInterval)

	v.SetDefault("enrichment.workers", 4)
	v.SetDefault("enrichment.queue_size", 64)
	v.SetDefault("enrichment.stage_timeout", 5*time.Minute)

	v.SetDefault("backup.dir", "backups")
	v.SetDefault("backup.keep", 7)
	v.SetDefault("backup.database_name", "bookmarks.db")
	v.SetDefault("backup.timeout", 2*time.Minute)
}

// LoadConfig loads the configuration from a file. A relative path is looked
// up in the working directory first, then next to the executable. A missing
// file is not an error; defaults and BOOKFORGE_* environment variables apply.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}
	path = filesystem.ResolvePath(path)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if config.Feed.Placeholder == "" {
		config.Feed.Placeholder = feed.DefaultPlaceholder(config.Feed.Link)
	}

	return &config, nil
}
