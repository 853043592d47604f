// Package media is the entry point for new assets: it checks uploads, stages
// them, stores the raw source, records the asset as PROCESSING and hands the
// transcode to the scheduler.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"hlsvault/assets"
	"hlsvault/config"
	"hlsvault/encoder"
	"hlsvault/logger"
	"hlsvault/models"
	"hlsvault/playback"
	"hlsvault/storage"
)

// ValidationError rejects a caller-supplied file or field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

var (
	videoTypes = map[string]bool{
		"video/mp4": true, "video/avi": true, "video/mpeg": true, "video/quicktime": true, "video/webm": true,
	}
	audioTypes = map[string]bool{
		"audio/mpeg": true, "audio/wav": true, "audio/ogg": true, "audio/x-flac": true,
		"audio/mp4": true, "audio/vnd.wave": true, "video/webm": true,
	}
	audioExts = map[string]bool{
		".mp3": true, ".wav": true, ".ogg": true, ".flac": true, ".m4a": true, ".webm": true,
	}
	previewTypes = map[string]bool{
		"image/jpeg": true, "image/png": true, "image/gif": true, "image/webp": true,
	}
)

// Upload is one file part of a create request.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

type CreateRequest struct {
	Kind    models.Kind
	Title   string
	File    Upload
	Preview *Upload
}

// Scheduler is the part of job.Scheduler the service needs.
type Scheduler interface {
	Schedule(j models.TranscodeJob) <-chan error
}

type Service struct {
	Store     storage.ObjectStore
	Assets    assets.Store
	Scheduler Scheduler
	Composer  *playback.Composer
	Bucket    string
	TempDir   string
	// FFprobe is the ffprobe binary used for durations; empty skips probing.
	FFprobe string
	newID   func() string
}

func NewService(cfg config.Config, store storage.ObjectStore, st assets.Store, sched Scheduler, comp *playback.Composer) *Service {
	return &Service{
		Store:     store,
		Assets:    st,
		Scheduler: sched,
		Composer:  comp,
		Bucket:    cfg.Storage.Bucket,
		TempDir:   cfg.TempDir,
		FFprobe:   cfg.FFprobePath,
		newID:     uuid.NewString,
	}
}

// validate checks the declared content type (and for music the extension)
// against what the kind accepts.
func validate(req CreateRequest) error {
	if _, err := models.ParseKind(string(req.Kind)); err != nil {
		return &ValidationError{Field: "kind", Msg: err.Error()}
	}
	if req.File.Body == nil {
		return &ValidationError{Field: "file", Msg: "missing"}
	}
	ct := mediaType(req.File.ContentType)
	switch req.Kind {
	case models.KindMusic:
		if !audioTypes[ct] {
			return &ValidationError{Field: "file", Msg: fmt.Sprintf("invalid audio file type: %s", req.File.ContentType)}
		}
		if ext := strings.ToLower(filepath.Ext(req.File.Filename)); !audioExts[ext] {
			return &ValidationError{Field: "file", Msg: fmt.Sprintf("unsupported file extension: %s", ext)}
		}
	default:
		if !videoTypes[ct] {
			return &ValidationError{Field: "file", Msg: fmt.Sprintf("invalid video file type: %s", req.File.ContentType)}
		}
	}
	if req.Preview != nil && !previewTypes[mediaType(req.Preview.ContentType)] {
		return &ValidationError{Field: "preview", Msg: fmt.Sprintf("must be an image, got %s", req.Preview.ContentType)}
	}
	return nil
}

// mediaType drops parameters such as "; codecs=..." and lowercases.
func mediaType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// Create stores the upload and returns the PROCESSING record. The transcode
// is scheduled only after the record is committed.
func (s *Service) Create(ctx context.Context, req CreateRequest) (models.MediaAsset, error) {
	if err := validate(req); err != nil {
		return models.MediaAsset{}, err
	}
	id := s.newID()
	log := logger.With("asset", id, "kind", req.Kind)

	ext := strings.ToLower(filepath.Ext(req.File.Filename))
	staged, err := s.stage(req.File.Body, "upload-*"+ext)
	if err != nil {
		return models.MediaAsset{}, err
	}
	scheduled := false
	defer func() {
		if !scheduled {
			if err := os.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warnf("failed to remove staged upload: %v", err)
			}
		}
	}()

	asset := models.MediaAsset{
		ID:              id,
		Kind:            req.Kind,
		Title:           strings.TrimSpace(req.Title),
		SourceObjectKey: fmt.Sprintf("%s/%s/source%s", req.Kind, id, ext),
	}
	if err := s.Store.PutObject(ctx, s.Bucket, asset.SourceObjectKey, staged, sourceContentType(req.File)); err != nil {
		return models.MediaAsset{}, fmt.Errorf("failed to store source: %w", err)
	}

	if req.Preview != nil {
		key, err := s.storePreview(ctx, asset, *req.Preview)
		if err != nil {
			return models.MediaAsset{}, err
		}
		asset.PreviewObjectKey = key
	}

	if s.FFprobe != "" {
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		d, err := encoder.ProbeDuration(probeCtx, s.FFprobe, staged)
		cancel()
		if err != nil {
			log.Warnf("duration probe failed: %v", err)
		} else {
			asset.DurationSeconds = d
		}
	}

	asset, err = s.Assets.Create(ctx, asset)
	if err != nil {
		return models.MediaAsset{}, fmt.Errorf("failed to create asset record: %w", err)
	}

	s.Scheduler.Schedule(models.TranscodeJob{AssetID: id, LocalSourcePath: staged})
	scheduled = true
	log.Infof("asset created, transcode scheduled")
	return asset, nil
}

func sourceContentType(u Upload) string {
	if ct := mediaType(u.ContentType); ct != "" {
		return ct
	}
	return storage.ContentTypeFor(u.Filename)
}

// storePreview stages, sniffs and uploads the preview image.
func (s *Service) storePreview(ctx context.Context, a models.MediaAsset, u Upload) (string, error) {
	ext := strings.ToLower(filepath.Ext(u.Filename))
	path, err := s.stage(u.Body, "preview-*"+ext)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	if err := sniffImage(path); err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s/%s/preview%s", a.Kind, a.ID, ext)
	if err := s.Store.PutObject(ctx, s.Bucket, key, path, mediaType(u.ContentType)); err != nil {
		return "", fmt.Errorf("failed to store preview: %w", err)
	}
	return key, nil
}

// sniffImage rejects previews whose leading bytes are not an image.
func sniffImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open preview: %w", err)
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	if !previewTypes[http.DetectContentType(head[:n])] {
		return &ValidationError{Field: "preview", Msg: "content is not a jpeg, png, gif or webp image"}
	}
	return nil
}

// stage copies r into a new file under TempDir.
func (s *Service) stage(r io.Reader, pattern string) (string, error) {
	f, err := os.CreateTemp(s.TempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to stage upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to stage upload: %w", err)
	}
	return f.Name(), nil
}

func (s *Service) Get(ctx context.Context, id string) (models.MediaAsset, error) {
	return s.Assets.Get(ctx, id)
}

// Playback resolves signed links for an asset. ttl <= 0 uses the configured
// default.
func (s *Service) Playback(ctx context.Context, id string, ttl time.Duration) (playback.Playback, error) {
	a, err := s.Assets.Get(ctx, id)
	if err != nil {
		return playback.Playback{}, err
	}
	return s.Composer.Resolve(ctx, a, ttl)
}

// List returns assets filtered by kind and status; empty values match all.
func (s *Service) List(ctx context.Context, kind models.Kind, status models.Status) ([]models.MediaAsset, error) {
	return s.Assets.List(ctx, kind, status)
}
