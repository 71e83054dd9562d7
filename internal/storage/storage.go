package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Read and Delete for a missing key.
var ErrNotFound = errors.New("storage: object not found")

// Writer stores a blob under key.
type Writer interface {
	Write(ctx context.Context, key string, r io.Reader, contentType string) (Location, error)
}

// Reader streams a stored blob.
type Reader interface {
	Read(ctx context.Context, key string) (io.ReadCloser, error)
}

// Deleter removes a stored blob.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Storage combines the blob operations the attachment service needs.
type Storage interface {
	Writer
	Reader
	Deleter
}

// Presigner hands out time-limited direct URLs. Backends that cannot do so
// simply don't implement it and previews go through the API instead.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Location describes a written object.
type Location struct {
	Path string
	URL  string
}
