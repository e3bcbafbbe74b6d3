package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lepinkainen/bookforge/pkg/urlutils"
)

// LocalUploader copies files into a directory.
type LocalUploader struct {
	dir       string
	publicURL string
}

// NewLocalUploader creates an uploader rooted at dir.
func NewLocalUploader(dir, publicURL string) (*LocalUploader, error) {
	if dir == "" {
		return nil, errors.New("local backend needs a directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	return &LocalUploader{dir: abs, publicURL: publicURL}, nil
}

func (u *LocalUploader) path(key string) (string, error) {
	dest := filepath.Join(u.dir, filepath.FromSlash(key))
	if dest != u.dir && !strings.HasPrefix(dest, u.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes the publish directory", key)
	}
	return dest, nil
}

// Upload copies localPath to dir/remoteKey, replacing it atomically.
func (u *LocalUploader) Upload(ctx context.Context, localPath, remoteKey, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dest, err := u.path(remoteKey)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}

	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy %s: %w", localPath, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to publish %s: %w", remoteKey, err)
	}
	return nil
}

// PublicURL joins the configured public URL and key, or returns the file path.
func (u *LocalUploader) PublicURL(key string) string {
	if u.publicURL == "" {
		return filepath.Join(u.dir, filepath.FromSlash(key))
	}
	return urlutils.JoinPublic(u.publicURL, key)
}
