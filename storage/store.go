// Package storage is the object store client used by the pipeline and the
// playback composer. Every backend offers the same bucketed operations and a
// way to hand out time-bounded GET links.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"hlsvault/config"
)

// DefaultPresignTTL is used when a caller passes a non-positive ttl.
const DefaultPresignTTL = time.Hour

// ErrNotFound is returned when an object or bucket does not exist.
var ErrNotFound = errors.New("object not found")

// Error is a failed backend operation. errors.Is(err, ErrNotFound) sees
// through it when the backend reported a missing object.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("storage %s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func opError(op, bucket, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Bucket: bucket, Key: key, Err: err}
}

// ObjectInfo is what StatObject reports.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ObjectStore is safe for concurrent use by multiple jobs.
type ObjectStore interface {
	// EnsureBucket creates the bucket if it is missing. A newly created
	// bucket gets a public GET-only policy when publicRead is set. Calling
	// it again on an existing bucket changes nothing.
	EnsureBucket(ctx context.Context, bucket string, publicRead bool) error
	// PutObject uploads a local file, overwriting any object at key.
	PutObject(ctx context.Context, bucket, key, localPath, contentType string) error
	// GetObject streams an object. The caller closes the reader.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// DeleteObject removes an object; a missing key is not an error.
	DeleteObject(ctx context.Context, bucket, key string) error
	// StatObject probes existence.
	StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error)
	// PresignGet returns a URL that allows one GET of key until ttl elapses.
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Open builds the backend selected in cfg. The returned closer releases
// backend connections and may be a no-op.
func Open(ctx context.Context, cfg config.StorageConfig) (ObjectStore, io.Closer, error) {
	switch cfg.Backend {
	case "s3":
		s, err := NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open s3 backend: %w", err)
		}
		return s, nopCloser{}, nil
	case "gcs":
		g, err := NewGCS(ctx, cfg.GCS)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open gcs backend: %w", err)
		}
		return g, g, nil
	case "local":
		l, err := NewLocal(cfg.Local)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open local backend: %w", err)
		}
		return l, nopCloser{}, nil
	case "memory":
		return NewMemory(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func presignTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultPresignTTL
	}
	return ttl
}
