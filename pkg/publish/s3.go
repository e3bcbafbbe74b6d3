package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lepinkainen/bookforge/pkg/urlutils"
)

// S3Uploader puts objects into a bucket.
type S3Uploader struct {
	client    *minio.Client
	config    S3Config
	publicURL string
}

// NewS3Uploader creates a client for config.Endpoint.
func NewS3Uploader(config S3Config, publicURL string) (*S3Uploader, error) {
	if config.Endpoint == "" || config.Bucket == "" {
		return nil, errors.New("s3 backend needs an endpoint and a bucket")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &S3Uploader{client: client, config: config, publicURL: publicURL}, nil
}

func (u *S3Uploader) objectName(key string) string {
	return path.Join(u.config.Prefix, key)
}

// Upload puts localPath as an object named after remoteKey.
func (u *S3Uploader) Upload(ctx context.Context, localPath, remoteKey, contentType string) error {
	info, err := u.client.FPutObject(ctx, u.config.Bucket, u.objectName(remoteKey), localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", remoteKey, err)
	}

	slog.Debug("Uploaded to s3", "bucket", info.Bucket, "key", info.Key, "size", info.Size)
	return nil
}

// PublicURL joins the public URL and key, defaulting to the bucket URL.
func (u *S3Uploader) PublicURL(key string) string {
	if u.publicURL != "" {
		return urlutils.JoinPublic(u.publicURL, key)
	}

	scheme := "http"
	if u.config.UseSSL {
		scheme = "https"
	}
	return urlutils.JoinPublic(scheme+"://"+u.config.Endpoint+"/"+u.config.Bucket, u.objectName(key))
}
