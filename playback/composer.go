// Package playback turns stored HLS packages into time-bounded playback
// links. Manifests are rewritten so every segment reference becomes its own
// signed URL, which lets players fetch from a private bucket.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"hlsvault/config"
	"hlsvault/logger"
	"hlsvault/metrics"
	"hlsvault/models"
	"hlsvault/storage"
)

// ErrMediaMissing means no candidate key of an asset exists in the bucket.
// It wraps storage.ErrNotFound.
var ErrMediaMissing = fmt.Errorf("file missing from storage: %w", storage.ErrNotFound)

// maxManifestSize caps how much of a manifest object is read.
const maxManifestSize = 8 << 20

// ErrManifestTooLarge is returned for manifests over maxManifestSize.
var ErrManifestTooLarge = errors.New("manifest too large")

// Manifest is a rewritten playlist and the signed URLs substituted into it,
// in playlist order.
type Manifest struct {
	Text        string
	SegmentURLs []string
}

// Playback is everything a client needs to start playing an asset.
type Playback struct {
	AssetID      string    `json:"id"`
	ObjectKey    string    `json:"object_key"`
	URL          string    `json:"manifest_url"`
	Manifest     string    `json:"manifest,omitempty"`
	PreviewURL   string    `json:"preview_url,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UsedFallback bool      `json:"-"`
}

// Composer resolves assets to signed links on one bucket.
type Composer struct {
	Store  storage.ObjectStore
	Bucket string
	TTL    time.Duration
	Kinds  map[models.Kind]config.KindConfig
	now    func() time.Time
}

func NewComposer(cfg config.Config, store storage.ObjectStore) *Composer {
	kinds := make(map[models.Kind]config.KindConfig, len(models.Kinds))
	for _, k := range models.Kinds {
		kinds[k] = cfg.Kind(k)
	}
	return &Composer{
		Store:  store,
		Bucket: cfg.Storage.Bucket,
		TTL:    cfg.SignedURLTTL,
		Kinds:  kinds,
		now:    time.Now,
	}
}

func (c *Composer) ttl(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if c.TTL > 0 {
		return c.TTL
	}
	return storage.DefaultPresignTTL
}

// ExtractKey accepts either a bare object key or a full URL that contains
// "/{bucket}/" and returns the object key. Bare keys are never split on the
// bucket name.
func (c *Composer) ExtractKey(v string) string {
	if strings.Contains(v, "://") {
		marker := "/" + c.Bucket + "/"
		if i := strings.Index(v, marker); i >= 0 {
			return v[i+len(marker):]
		}
	}
	return strings.TrimLeft(v, "/")
}

// PresignIfExists signs key only if the object is there. Any probe failure
// counts as absent so the caller can move on to a fallback key.
func (c *Composer) PresignIfExists(ctx context.Context, key string, ttl time.Duration) (string, bool) {
	if key == "" {
		return "", false
	}
	if _, err := c.Store.StatObject(ctx, c.Bucket, key); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warnf("stat %s/%s failed: %v", c.Bucket, key, err)
		}
		return "", false
	}
	url, err := c.Store.PresignGet(ctx, c.Bucket, key, c.ttl(ttl))
	if err != nil {
		logger.Warnf("presign %s/%s failed: %v", c.Bucket, key, err)
		return "", false
	}
	return url, true
}

// RewriteManifest fetches the playlist at manifestKey and replaces every
// relative URI line with a signed URL for the object next to the manifest.
// Blank lines, tags and absolute URLs are kept and the line count never
// changes. Output is normalized to "\n" line ends with one trailing newline;
// "\r" is dropped and absolute URLs are trimmed. Manifests over 8 MiB are
// rejected with ErrManifestTooLarge.
func (c *Composer) RewriteManifest(ctx context.Context, manifestKey string, ttl time.Duration) (Manifest, error) {
	rc, err := c.Store.GetObject(ctx, c.Bucket, manifestKey)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(io.LimitReader(rc, maxManifestSize+1))
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	if len(raw) > maxManifestSize {
		return Manifest{}, fmt.Errorf("%w: %s", ErrManifestTooLarge, manifestKey)
	}

	ttl = c.ttl(ttl)
	return rewrite(string(raw), keyDir(manifestKey), func(key string) (string, error) {
		return c.Store.PresignGet(ctx, c.Bucket, key, ttl)
	})
}

// keyDir returns everything up to and including the last "/" of key.
func keyDir(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[:i+1]
	}
	return ""
}

func rewrite(raw, prefix string, sign func(key string) (string, error)) (Manifest, error) {
	lines := splitLines(raw)
	var m Manifest
	for i, line := range lines {
		uri := strings.TrimSpace(line)
		switch {
		case uri == "" || strings.HasPrefix(uri, "#"):
			continue
		case strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://"):
			lines[i] = uri
		default:
			url, err := sign(prefix + uri)
			if err != nil {
				return Manifest{}, fmt.Errorf("failed to sign segment %s: %w", uri, err)
			}
			lines[i] = url
			m.SegmentURLs = append(m.SegmentURLs, url)
		}
	}
	m.Text = strings.Join(lines, "\n") + "\n"
	return m, nil
}

// splitLines splits on "\n" and "\r\n". A trailing line break does not
// start an extra empty line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// candidates lists the keys to probe for an asset, best first. Keys from
// index primary on are configured fallbacks.
func (c *Composer) candidates(a models.MediaAsset) (keys []string, primary int) {
	switch {
	case a.OutputObjectKey != "":
		keys = append(keys, c.ExtractKey(a.OutputObjectKey))
	case a.SourceObjectKey != "":
		keys = append(keys, c.ExtractKey(a.SourceObjectKey))
	}
	primary = len(keys)
	return append(keys, c.Kinds[a.Kind].Fallbacks(a.Kind, a.ID)...), primary
}

// Resolve picks the first existing key of the asset, signs it, rewrites it
// when it is a manifest and signs the preview image if there is one.
func (c *Composer) Resolve(ctx context.Context, a models.MediaAsset, ttl time.Duration) (Playback, error) {
	ttl = c.ttl(ttl)
	pb := Playback{AssetID: a.ID, ExpiresAt: c.now().Add(ttl)}

	keys, primary := c.candidates(a)
	for i, key := range keys {
		url, ok := c.PresignIfExists(ctx, key, ttl)
		if !ok {
			continue
		}
		pb.ObjectKey, pb.URL = key, url
		pb.UsedFallback = i >= primary
		break
	}
	if pb.URL == "" {
		metrics.IncPlayback("missing")
		logger.Warnf("no stored media for asset %s", a.ID)
		return Playback{}, ErrMediaMissing
	}

	if strings.HasSuffix(pb.ObjectKey, ".m3u8") {
		m, err := c.RewriteManifest(ctx, pb.ObjectKey, ttl)
		if err != nil {
			metrics.IncPlayback("error")
			return Playback{}, err
		}
		pb.Manifest = m.Text
	}
	if a.PreviewObjectKey != "" {
		if url, ok := c.PresignIfExists(ctx, c.ExtractKey(a.PreviewObjectKey), ttl); ok {
			pb.PreviewURL = url
		}
	}

	if pb.UsedFallback {
		metrics.IncPlayback("fallback")
	} else {
		metrics.IncPlayback("ok")
	}
	return pb, nil
}
