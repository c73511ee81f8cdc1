// Package mediacache stores fetched media bytes in an S3-compatible bucket so repeat
// deliveries skip the upstream host.
package mediacache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/iconidentify/tokgrab/internal/config"
	"github.com/iconidentify/tokgrab/internal/domain"
)

// Cache reads and writes media payloads by key.
type Cache interface {
	// Get returns the payload for key. ok is false on a miss.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Key is the object name for a record's deliverable.
func Key(id domain.DownloadID, format domain.Format) string {
	return fmt.Sprintf("downloads/%d/%s", int64(id), format)
}

// Nop is the cache used when no endpoint is configured.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Put(context.Context, string, []byte, string) error { return nil }

// MinIO implements Cache on a single bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinIO connects to the configured endpoint and creates the bucket if it is missing.
func NewMinIO(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (*MinIO, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize minio client: %w", err)
	}

	found, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket exists: %w", err)
	}
	if !found {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
		logger.Info("created media cache bucket", "bucket", cfg.Bucket)
	}

	return &MinIO{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Get implements Cache.
func (c *MinIO) Get(ctx context.Context, key string) ([]byte, bool, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read object: %w", err)
	}
	return data, true, nil
}

// Put implements Cache.
func (c *MinIO) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := c.client.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	c.logger.Debug("media cached", "key", key, "size", humanize.IBytes(uint64(len(data))))
	return nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}
