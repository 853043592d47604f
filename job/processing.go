package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hlsvault/assets"
	"hlsvault/config"
	"hlsvault/encoder"
	"hlsvault/logger"
	"hlsvault/metrics"
	"hlsvault/models"
	"hlsvault/storage"
)

// ErrTranscodeFailed is returned by Run when the transcoder reported failure.
var ErrTranscodeFailed = errors.New("transcode failed")

// Pipeline runs one asset from a staged source file to an ACTIVE or FAILED
// record. Kind-specific layout comes from Kinds; the code path is the same
// for every kind.
type Pipeline struct {
	Store      storage.ObjectStore
	Assets     assets.Store
	Transcoder encoder.Transcoder
	Bucket     string
	Kinds      map[models.Kind]config.KindConfig
	// TempDir is where output directories are created when a job does not
	// name one. Empty means os.TempDir().
	TempDir string
	// JobTimeout bounds the transcode and upload steps. Zero means no limit.
	JobTimeout        time.Duration
	UploadConcurrency int
}

// NewPipeline wires a pipeline from configuration.
func NewPipeline(cfg config.Config, store storage.ObjectStore, st assets.Store, tr encoder.Transcoder) *Pipeline {
	kinds := make(map[models.Kind]config.KindConfig, len(models.Kinds))
	for _, k := range models.Kinds {
		kinds[k] = cfg.Kind(k)
	}
	return &Pipeline{
		Store:             store,
		Assets:            st,
		Transcoder:        tr,
		Bucket:            cfg.Storage.Bucket,
		Kinds:             kinds,
		TempDir:           cfg.TempDir,
		JobTimeout:        cfg.JobTimeout,
		UploadConcurrency: cfg.UploadConcurrency,
	}
}

// KeyPrefix returns where the package of asset id of the given kind lives.
func (p *Pipeline) KeyPrefix(kind models.Kind, id string) string {
	return p.Kinds[kind].KeyPrefix(kind, id)
}

// Run executes transcode, upload and the terminal status write in that order.
// The source file and output directory are removed on every path, and a
// panic after the asset is loaded still ends it FAILED. The
// returned error describes why the asset ended FAILED (or why nothing ran);
// callers are not expected to act on it.
func (p *Pipeline) Run(ctx context.Context, j models.TranscodeJob) (err error) {
	outputDir := j.LocalOutputDir
	defer func() {
		removeBestEffort(j.LocalSourcePath)
		removeBestEffort(outputDir)
	}()

	asset, err := p.Assets.Get(context.WithoutCancel(ctx), j.AssetID)
	if err != nil {
		if errors.Is(err, assets.ErrNotFound) {
			logger.Warnf("asset %s was deleted before processing; dropping job", j.AssetID)
			return err
		}
		logger.Errorf("failed to load asset %s: %v", j.AssetID, err)
		// A failed read does not mean the record is gone.
		if _, uerr := p.Assets.Update(context.WithoutCancel(ctx), j.AssetID, assets.Update{Status: models.StatusFailed}); uerr != nil {
			logger.Errorf("failed to mark asset %s FAILED: %v", j.AssetID, uerr)
		}
		return err
	}
	log := logger.With("asset", asset.ID, "kind", asset.Kind)
	if asset.Status.Terminal() {
		log.Warnf("asset already %s; not reprocessing", asset.Status)
		return nil
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = p.fail(ctx, asset, start, fmt.Errorf("job panicked: %v", r))
		}
	}()

	runCtx := ctx
	if p.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.JobTimeout)
		defer cancel()
	}

	if outputDir == "" {
		outputDir, err = os.MkdirTemp(p.TempDir, "hls-"+asset.ID+"-")
	} else {
		err = os.MkdirAll(outputDir, 0o755)
	}
	if err != nil {
		return p.fail(ctx, asset, start, fmt.Errorf("failed to create output dir: %w", err))
	}

	if err := runCtx.Err(); err != nil {
		return p.fail(ctx, asset, start, fmt.Errorf("cancelled before transcode: %w", err))
	}

	log.Infof("transcoding %s", j.LocalSourcePath)
	manifestPath := filepath.Join(outputDir, ManifestName)
	if !p.Transcoder.Transcode(runCtx, j.LocalSourcePath, manifestPath) {
		return p.fail(ctx, asset, start, ErrTranscodeFailed)
	}

	prefix := p.KeyPrefix(asset.Kind, asset.ID)
	log.Infof("uploading package to %s/%s", p.Bucket, prefix)
	key, err := UploadPackage(runCtx, p.Store, outputDir, p.Bucket, prefix, p.UploadConcurrency)
	if err != nil {
		return p.fail(ctx, asset, start, err)
	}
	if files, err := packageFiles(outputDir); err == nil {
		metrics.AddUploaded(string(asset.Kind), len(files))
	}

	p.finish(ctx, asset, start, assets.Update{Status: models.StatusActive, OutputObjectKey: key})
	return nil
}

func (p *Pipeline) fail(ctx context.Context, asset models.MediaAsset, start time.Time, cause error) error {
	logger.With("asset", asset.ID, "kind", asset.Kind).Errorf("job failed: %v", cause)
	p.finish(ctx, asset, start, assets.Update{Status: models.StatusFailed})
	return cause
}

// finish writes the terminal status. Errors here are logged only: the status
// store is the last write of the job.
func (p *Pipeline) finish(ctx context.Context, asset models.MediaAsset, start time.Time, u assets.Update) {
	log := logger.With("asset", asset.ID, "kind", asset.Kind)
	// A cancelled run still gets to record its outcome.
	_, err := p.Assets.Update(context.WithoutCancel(ctx), asset.ID, u)
	switch {
	case errors.Is(err, assets.ErrNotFound):
		log.Warnf("asset deleted while processing; %s not recorded", u.Status)
		return
	case err != nil:
		log.Errorf("failed to record status %s: %v", u.Status, err)
		return
	}
	metrics.ObserveJob(string(asset.Kind), string(u.Status), time.Since(start))
	if u.Status == models.StatusActive {
		log.Infof("asset ACTIVE at %s", u.OutputObjectKey)
	} else {
		log.Infof("asset %s", u.Status)
	}
}

func removeBestEffort(path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		logger.Warnf("failed to remove %s: %v", path, err)
	}
}
