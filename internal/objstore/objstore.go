// Package objstore wraps the S3-compatible object store holding product
// images. It owns bucket bootstrap, object naming for originals and
// thumbnails, and public URL construction.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound reports a stat or get against a missing key.
var ErrObjectNotFound = errors.New("objstore: object not found")

// Config carries the store endpoint, credentials, and bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// PublicBaseURL is the externally reachable prefix for stored objects.
	// Empty derives it from the endpoint and bucket.
	PublicBaseURL string
}

// ObjectInfo is the result of a stat.
type ObjectInfo struct {
	Size         int64
	ContentType  string
	ETag         string
	UserMetadata map[string]string
}

// Client is a thin bucket-scoped wrapper over the minio SDK.
type Client struct {
	mc         *minio.Client
	bucket     string
	publicBase string
	logger     *slog.Logger
}

// New builds a client for the configured endpoint. The bucket is not touched
// until EnsureBucket runs.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: creating client: %w", err)
	}

	return &Client{
		mc:         mc,
		bucket:     cfg.Bucket,
		publicBase: publicBase(cfg),
		logger:     logger,
	}, nil
}

func publicBase(cfg Config) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(cfg.PublicBaseURL, "/")
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
}

// EnsureBucket creates the bucket when absent. Called once at startup.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("objstore: checking bucket %s: %w", c.bucket, err)
	}

	if exists {
		return nil
	}

	if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("objstore: creating bucket %s: %w", c.bucket, err)
	}

	c.logger.Info("created bucket", "bucket", c.bucket)

	return nil
}

// Put stores data under objectName with the given content type and user
// metadata headers.
func (c *Client) Put(ctx context.Context, objectName string, data []byte, contentType string, metadata map[string]string) error {
	_, err := c.mc.PutObject(ctx, c.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: metadata,
		})
	if err != nil {
		return fmt.Errorf("objstore: putting %s: %w", objectName, err)
	}

	c.logger.Debug("object stored", "object", objectName, "bytes", len(data))

	return nil
}

// Get reads the whole object.
func (c *Client) Get(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("objstore: getting %s: %w", objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("objstore: getting %s: %w", objectName, ErrObjectNotFound)
		}

		return nil, fmt.Errorf("objstore: reading %s: %w", objectName, err)
	}

	return data, nil
}

// Stat returns object metadata. A missing key wraps ErrObjectNotFound so
// callers can distinguish absent from unreachable.
func (c *Client) Stat(ctx context.Context, objectName string) (*ObjectInfo, error) {
	info, err := c.mc.StatObject(ctx, c.bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("objstore: stat %s: %w", objectName, ErrObjectNotFound)
		}

		return nil, fmt.Errorf("objstore: stat %s: %w", objectName, err)
	}

	return &ObjectInfo{
		Size:         info.Size,
		ContentType:  info.ContentType,
		ETag:         info.ETag,
		UserMetadata: info.UserMetadata,
	}, nil
}

// Remove deletes the object. Removing a missing key is not an error.
func (c *Client) Remove(ctx context.Context, objectName string) error {
	if err := c.mc.RemoveObject(ctx, c.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("objstore: removing %s: %w", objectName, err)
	}

	return nil
}

// PublicURL returns the externally reachable URL for a stored object.
func (c *Client) PublicURL(objectName string) string {
	parts := strings.Split(objectName, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}

	return c.publicBase + "/" + strings.Join(parts, "/")
}

// Ping verifies the store is reachable, for health checks.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.mc.BucketExists(ctx, c.bucket); err != nil {
		return fmt.Errorf("objstore: ping: %w", err)
	}

	return nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)

	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
