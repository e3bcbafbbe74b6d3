// Package publish copies generated artifacts to remote storage.
package publish

import (
	"context"
	"time"
)

// Uploader stores local files under remote keys.
type Uploader interface {
	Upload(ctx context.Context, localPath, remoteKey, contentType string) error
	// PublicURL is where a stored key can be read from.
	PublicURL(key string) string
}

// Config selects and configures a backend.
type Config struct {
	Backend   string      `mapstructure:"backend" yaml:"backend"`
	PublicURL string      `mapstructure:"public_url" yaml:"public_url"`
	Local     LocalConfig `mapstructure:"local" yaml:"local"`
	SFTP      SFTPConfig  `mapstructure:"sftp" yaml:"sftp"`
	S3        S3Config    `mapstructure:"s3" yaml:"s3"`
}

// LocalConfig configures the local directory backend.
type LocalConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// SFTPConfig configures the SFTP backend. KnownHosts is a known_hosts file;
// without it host keys are not verified.
type SFTPConfig struct {
	Host       string        `mapstructure:"host" yaml:"host"`
	Port       int           `mapstructure:"port" yaml:"port"`
	User       string        `mapstructure:"user" yaml:"user"`
	Password   string        `mapstructure:"password" yaml:"password"`
	KeyFile    string        `mapstructure:"key_file" yaml:"key_file"`
	KnownHosts string        `mapstructure:"known_hosts" yaml:"known_hosts"`
	Dir        string        `mapstructure:"dir" yaml:"dir"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// S3Config configures an S3 compatible object store.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// DefaultConfig publishes into ./public.
func DefaultConfig() Config {
	return Config{
		Backend: "local",
		Local:   LocalConfig{Dir: "public"},
		SFTP:    SFTPConfig{Port: 22, Timeout: 30 * time.Second},
		S3:      S3Config{UseSSL: true},
	}
}
