package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"hlsvault/config"
	"hlsvault/logger"
)

// GCS stores objects in Google Cloud Storage.
type GCS struct {
	client    *storage.Client
	projectID string
}

// NewGCS opens one client for the whole process. Without a credentials file
// the client falls back to application default credentials.
func NewGCS(ctx context.Context, cfg config.GCSConfig) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read gcs credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GCS{client: client, projectID: cfg.ProjectID}, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) EnsureBucket(ctx context.Context, bucket string, publicRead bool) error {
	handle := g.client.Bucket(bucket)
	_, err := handle.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return opError("ensure-bucket", bucket, "", err)
	}
	if err := handle.Create(ctx, g.projectID, nil); err != nil {
		return opError("create-bucket", bucket, "", err)
	}
	logger.Infof("created gcs bucket %s", bucket)

	if publicRead {
		// Reader on the default object ACL grants GET on every object and
		// nothing on the bucket itself.
		if err := handle.DefaultObjectACL().Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
			return opError("set-policy", bucket, "", err)
		}
		logger.Infof("granted public read on objects of gcs bucket %s", bucket)
	}
	return nil
}

func (g *GCS) PutObject(ctx context.Context, bucket, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return opError("put", bucket, key, err)
	}
	defer f.Close()

	wc := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	wc.ContentType = contentType

	if _, err := io.Copy(wc, f); err != nil {
		wc.Close()
		return opError("put", bucket, key, fmt.Errorf("io.Copy: %w", err))
	}
	// The upload is only committed by Close.
	if err := wc.Close(); err != nil {
		return opError("put", bucket, key, fmt.Errorf("Writer.Close: %w", err))
	}
	logger.Debugf("uploaded %s to gs://%s/%s", localPath, bucket, key)
	return nil
}

func (g *GCS) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, opError("get", bucket, key, classifyGCS(err))
	}
	return r, nil
}

func (g *GCS) DeleteObject(ctx context.Context, bucket, key string) error {
	err := g.client.Bucket(bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return opError("delete", bucket, key, err)
	}
	return nil
}

func (g *GCS) StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	attrs, err := g.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		return ObjectInfo{}, opError("stat", bucket, key, classifyGCS(err))
	}
	return ObjectInfo{
		Key:          key,
		Size:         attrs.Size,
		ContentType:  attrs.ContentType,
		LastModified: attrs.Updated,
	}, nil
}

func (g *GCS) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := g.client.Bucket(bucket).SignedURL(key, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(presignTTL(ttl)),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", opError("presign", bucket, key, err)
	}
	return u, nil
}

func classifyGCS(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
