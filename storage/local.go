package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"hlsvault/config"
	"hlsvault/logger"
	"hlsvault/utils"
)

// publicMarker marks a bucket directory created with publicRead.
const publicMarker = ".public-read"

// Local writes objects to the filesystem under Root/<bucket>/<key>. They are
// served by the HTTP server at BaseURL/objects/<bucket>/<key>, either through
// a signed token or, for public-read buckets, without one.
type Local struct {
	root    string
	baseURL string
	signer  *utils.LinkSigner
}

func NewLocal(cfg config.LocalConfig) (*Local, error) {
	if cfg.Root == "" {
		return nil, errors.New("local storage root is required")
	}
	signer, err := utils.NewLinkSigner([]byte(cfg.SigningSecret))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Local{
		root:    cfg.Root,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		signer:  signer,
	}, nil
}

// objectPath resolves a key inside the bucket and refuses anything that would
// escape it.
func (l *Local) objectPath(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || strings.Contains(key, "..") || path.Base(clean) == publicMarker {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.root, bucket, filepath.FromSlash(clean)), nil
}

func (l *Local) bucketDir(bucket string) string {
	return filepath.Join(l.root, bucket)
}

func (l *Local) EnsureBucket(ctx context.Context, bucket string, publicRead bool) error {
	dir := l.bucketDir(bucket)
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return opError("create-bucket", bucket, "", err)
	}
	if publicRead {
		if err := os.WriteFile(filepath.Join(dir, publicMarker), nil, 0o644); err != nil {
			return opError("set-policy", bucket, "", err)
		}
	}
	logger.Infof("created local bucket %s (public=%v)", dir, publicRead)
	return nil
}

// IsPublic reports whether the bucket was created with publicRead.
func (l *Local) IsPublic(bucket string) bool {
	_, err := os.Stat(filepath.Join(l.bucketDir(bucket), publicMarker))
	return err == nil
}

func (l *Local) PutObject(ctx context.Context, bucket, key, localPath, contentType string) error {
	dst, err := l.objectPath(bucket, key)
	if err != nil {
		return opError("put", bucket, key, err)
	}
	if _, err := os.Stat(l.bucketDir(bucket)); err != nil {
		return opError("put", bucket, key, fmt.Errorf("bucket %s: %w", bucket, ErrNotFound))
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return opError("put", bucket, key, fmt.Errorf("failed to create directories: %w", err))
	}

	src, err := os.Open(localPath)
	if err != nil {
		return opError("put", bucket, key, err)
	}
	defer src.Close()

	// Write to a sibling temp file and rename so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return opError("put", bucket, key, err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return opError("put", bucket, key, fmt.Errorf("failed to write %s: %w", dst, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return opError("put", bucket, key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return opError("put", bucket, key, err)
	}
	logger.Debugf("saved %s to %s", localPath, dst)
	return nil
}

func (l *Local) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	p, err := l.objectPath(bucket, key)
	if err != nil {
		return nil, opError("get", bucket, key, err)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, opError("get", bucket, key, classifyFS(err))
	}
	return f, nil
}

func (l *Local) DeleteObject(ctx context.Context, bucket, key string) error {
	p, err := l.objectPath(bucket, key)
	if err != nil {
		return opError("delete", bucket, key, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return opError("delete", bucket, key, err)
	}
	return nil
}

func (l *Local) StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	p, err := l.objectPath(bucket, key)
	if err != nil {
		return ObjectInfo{}, opError("stat", bucket, key, err)
	}
	fi, err := os.Stat(p)
	if err != nil {
		return ObjectInfo{}, opError("stat", bucket, key, classifyFS(err))
	}
	if fi.IsDir() {
		return ObjectInfo{}, opError("stat", bucket, key, ErrNotFound)
	}
	return ObjectInfo{
		Key:          key,
		Size:         fi.Size(),
		ContentType:  ContentTypeFor(key),
		LastModified: fi.ModTime(),
	}, nil
}

func (l *Local) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if _, err := l.objectPath(bucket, key); err != nil {
		return "", opError("presign", bucket, key, err)
	}
	token, err := l.signer.Sign(bucket, key, time.Now().Add(presignTTL(ttl)))
	if err != nil {
		return "", opError("presign", bucket, key, err)
	}
	return l.baseURL + "/objects/" + bucket + "/" + escapeKey(key) + "?token=" + url.QueryEscape(token), nil
}

// Authorize checks whether a GET of bucket/key is allowed with token.
func (l *Local) Authorize(bucket, key, token string) error {
	if token == "" && l.IsPublic(bucket) {
		return nil
	}
	return l.signer.Verify(token, bucket, key)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func classifyFS(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
