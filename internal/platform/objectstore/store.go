package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
)

// Store is the slice of S3 the audit exporter needs.
type Store interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

const defaultPresignTTL = 15 * time.Minute

type MinioStore struct {
	client *minio.Client
}

func NewMinioStore(client *minio.Client) (*MinioStore, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	return &MinioStore{client: client}, nil
}

func (s *MinioStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{
		ContentType:        contentType,
		ContentDisposition: attachment(key),
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// PresignGet returns a time-limited download link that saves the object
// under its base name.
func (s *MinioStore) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	params := url.Values{"response-content-disposition": {attachment(key)}}
	u, err := s.client.PresignedGetObject(ctx, bucket, key, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}

func attachment(key string) string {
	return fmt.Sprintf("attachment; filename=%q", path.Base(key))
}
