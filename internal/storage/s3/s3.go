package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"wastedraft/internal/storage"
)

// Config holds the S3/MinIO connection settings.
type Config struct {
	Endpoint  string // host:port without scheme, e.g. "localhost:9000"
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	PathStyle bool // MinIO needs path-style addressing
}

// Storage implements storage.Storage and storage.Presigner on an
// S3-compatible bucket.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// New connects to the endpoint and creates the bucket when missing.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	s, err := newUnchecked(cfg)
	if err != nil {
		return nil, err
	}

	exists, err := s.client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket exists: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return s, nil
}

func newUnchecked(cfg Config) (*Storage, error) {
	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Storage{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

func (s *Storage) Write(ctx context.Context, key string, r io.Reader, contentType string) (storage.Location, error) {
	if s == nil || s.client == nil {
		return storage.Location{}, fmt.Errorf("s3 storage uninitialized")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// unknown size lets the SDK fall back to multipart
	info, err := s.client.PutObject(ctx, s.bucket, cleanKey(key), r, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return storage.Location{}, fmt.Errorf("put object: %w", err)
	}

	return storage.Location{
		Path: info.Key,
		URL:  fmt.Sprintf("s3://%s/%s", s.bucket, info.Key),
	}, nil
}

func (s *Storage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("s3 storage uninitialized")
	}

	obj, err := s.client.GetObject(ctx, s.bucket, cleanKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}

	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}
	return obj, nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("s3 storage uninitialized")
	}
	if err := s.client.RemoveObject(ctx, s.bucket, cleanKey(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// PresignGet returns a GET URL for key valid for ttl.
func (s *Storage) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("s3 storage uninitialized")
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, cleanKey(key), ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

func cleanKey(key string) string {
	k := path.Clean("/" + key)
	return k[1:]
}
