package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hlsvault/assets"
	"hlsvault/config"
	"hlsvault/encoder"
	"hlsvault/models"
	"hlsvault/storage"
)

const testBucket = "media"

// countingStore counts PutObject calls, successful or not.
type countingStore struct {
	*storage.Memory
	calls atomic.Int32
}

func (c *countingStore) PutObject(ctx context.Context, bucket, key, localPath, contentType string) error {
	c.calls.Add(1)
	return c.Memory.PutObject(ctx, bucket, key, localPath, contentType)
}

// writesPackage is a transcoder that leaves a manifest plus n segments.
func writesPackage(n int) encoder.Transcoder {
	return encoder.TranscodeFunc(func(ctx context.Context, src, manifest string) bool {
		dir := filepath.Dir(manifest)
		var b strings.Builder
		b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:10\n")
		for i := 0; i < n; i++ {
			name := "index" + string(rune('0'+i)) + ".ts"
			b.WriteString("#EXTINF:10.0,\n" + name + "\n")
			if err := os.WriteFile(filepath.Join(dir, name), []byte("segment"), 0o644); err != nil {
				return false
			}
		}
		b.WriteString("#EXT-X-ENDLIST\n")
		return os.WriteFile(manifest, []byte(b.String()), 0o644) == nil
	})
}

var failingTranscoder = encoder.TranscodeFunc(func(ctx context.Context, src, manifest string) bool {
	return false
})

// emptySuccess reports success without writing anything.
var emptySuccess = encoder.TranscodeFunc(func(ctx context.Context, src, manifest string) bool {
	return true
})

type fixture struct {
	pipeline *Pipeline
	store    *countingStore
	assets   *assets.MemoryStore
	source   string
	outDir   string
}

func newFixture(t *testing.T, kind models.Kind, tr encoder.Transcoder) (*fixture, models.TranscodeJob) {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemory()
	if err := mem.EnsureBucket(ctx, testBucket, false); err != nil {
		t.Fatal(err)
	}
	store := &countingStore{Memory: mem}
	st := assets.NewMemoryStore()
	if _, err := st.Create(ctx, models.MediaAsset{ID: "a1", Kind: kind}); err != nil {
		t.Fatal(err)
	}

	tmp := t.TempDir()
	source := filepath.Join(tmp, "upload.mp4")
	if err := os.WriteFile(source, []byte("source"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Storage.Bucket = testBucket
	cfg.TempDir = tmp
	p := NewPipeline(cfg, store, st, tr)

	f := &fixture{pipeline: p, store: store, assets: st, source: source, outDir: filepath.Join(tmp, "out-a1")}
	return f, models.TranscodeJob{AssetID: "a1", LocalSourcePath: source, LocalOutputDir: f.outDir}
}

func (f *fixture) assertCleaned(t *testing.T) {
	t.Helper()
	for _, p := range []string{f.source, f.outDir} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should be removed after the job, stat err = %v", p, err)
		}
	}
}

func (f *fixture) status(t *testing.T) models.MediaAsset {
	t.Helper()
	a, err := f.assets.Get(context.Background(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestPipelineSuccess(t *testing.T) {
	for _, kind := range models.Kinds {
		t.Run(string(kind), func(t *testing.T) {
			f, j := newFixture(t, kind, writesPackage(3))
			if err := f.pipeline.Run(context.Background(), j); err != nil {
				t.Fatalf("Run: %v", err)
			}

			a := f.status(t)
			wantKey := string(kind) + "/hls/a1/index.m3u8"
			if a.Status != models.StatusActive || a.OutputObjectKey != wantKey {
				t.Errorf("asset = %s %q, want ACTIVE %q", a.Status, a.OutputObjectKey, wantKey)
			}
			if got := f.store.calls.Load(); got != 4 {
				t.Errorf("uploads = %d, want 4", got)
			}
			keys := f.store.Keys(testBucket)
			if len(keys) != 4 {
				t.Fatalf("stored keys = %v", keys)
			}
			for _, k := range keys {
				if !strings.HasPrefix(k, string(kind)+"/hls/a1/") {
					t.Errorf("key %q outside the asset prefix", k)
				}
			}
			if ct := f.store.ContentType(testBucket, wantKey); ct != "application/vnd.apple.mpegurl" {
				t.Errorf("manifest content type = %q", ct)
			}
			f.assertCleaned(t)
		})
	}
}

func TestPipelineTranscodeFailure(t *testing.T) {
	f, j := newFixture(t, models.KindVideo, failingTranscoder)
	err := f.pipeline.Run(context.Background(), j)
	if !errors.Is(err, ErrTranscodeFailed) {
		t.Fatalf("Run = %v, want ErrTranscodeFailed", err)
	}
	a := f.status(t)
	if a.Status != models.StatusFailed || a.OutputObjectKey != "" {
		t.Errorf("asset = %+v, want FAILED without output key", a)
	}
	if got := f.store.calls.Load(); got != 0 {
		t.Errorf("uploads = %d, want 0", got)
	}
	f.assertCleaned(t)
}

func TestPipelineNoFilesGuard(t *testing.T) {
	f, j := newFixture(t, models.KindAd, emptySuccess)
	err := f.pipeline.Run(context.Background(), j)
	if !errors.Is(err, ErrNoFiles) {
		t.Fatalf("Run = %v, want ErrNoFiles", err)
	}
	if a := f.status(t); a.Status != models.StatusFailed {
		t.Errorf("status = %s, want FAILED", a.Status)
	}
	if got := f.store.calls.Load(); got != 0 {
		t.Errorf("uploads = %d, want 0", got)
	}
	f.assertCleaned(t)
}

func TestPipelineUploadFailure(t *testing.T) {
	f, j := newFixture(t, models.KindMusic, writesPackage(3))
	f.store.FailPut("music/hls/a1/index1.ts", errors.New("connection reset"))

	if err := f.pipeline.Run(context.Background(), j); err == nil {
		t.Fatal("Run should fail when an upload fails")
	}
	if a := f.status(t); a.Status != models.StatusFailed || a.OutputObjectKey != "" {
		t.Errorf("asset = %+v, want FAILED", a)
	}
	f.assertCleaned(t)
}

func TestPipelineAssetDeletedConcurrently(t *testing.T) {
	f, j := newFixture(t, models.KindVideo, nil)
	f.pipeline.Transcoder = encoder.TranscodeFunc(func(ctx context.Context, src, manifest string) bool {
		f.assets.Delete(ctx, "a1")
		return writesPackage(1).Transcode(ctx, src, manifest)
	})
	if err := f.pipeline.Run(context.Background(), j); err != nil {
		t.Fatalf("Run = %v, want nil when the asset vanished mid-run", err)
	}
	if _, err := f.assets.Get(context.Background(), "a1"); !errors.Is(err, assets.ErrNotFound) {
		t.Errorf("asset should stay deleted, got %v", err)
	}
	f.assertCleaned(t)
}

func TestPipelineMissingAsset(t *testing.T) {
	f, j := newFixture(t, models.KindVideo, writesPackage(1))
	j.AssetID = "nope"
	if err := f.pipeline.Run(context.Background(), j); !errors.Is(err, assets.ErrNotFound) {
		t.Fatalf("Run = %v, want assets.ErrNotFound", err)
	}
	if got := f.store.calls.Load(); got != 0 {
		t.Errorf("uploads = %d, want 0", got)
	}
	f.assertCleaned(t)
}

func TestPipelineTerminalAssetNotReprocessed(t *testing.T) {
	f, j := newFixture(t, models.KindAd, writesPackage(2))
	f.assets.Update(context.Background(), "a1", assets.Update{Status: models.StatusFailed})
	if err := f.pipeline.Run(context.Background(), j); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a := f.status(t); a.Status != models.StatusFailed {
		t.Errorf("status = %s, want FAILED to stick", a.Status)
	}
	if got := f.store.calls.Load(); got != 0 {
		t.Errorf("uploads = %d, want 0", got)
	}
}

func TestPipelineCreatesTempOutputDir(t *testing.T) {
	f, j := newFixture(t, models.KindAd, nil)
	var seen string
	f.pipeline.Transcoder = encoder.TranscodeFunc(func(ctx context.Context, src, manifest string) bool {
		seen = filepath.Dir(manifest)
		return writesPackage(1).Transcode(ctx, src, manifest)
	})
	j.LocalOutputDir = ""
	if err := f.pipeline.Run(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(seen, f.pipeline.TempDir) {
		t.Errorf("output dir %q not under %q", seen, f.pipeline.TempDir)
	}
	if _, err := os.Stat(seen); !os.IsNotExist(err) {
		t.Errorf("temp output dir %q should be removed", seen)
	}
}

func TestUploadPackageSkipsSubdirs(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	mem.EnsureBucket(ctx, testBucket, false)

	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte("#EXTM3U\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "index0.ts"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.zzq"), []byte("x"), 0o644)
	os.Mkdir(filepath.Join(dir, "nested"), 0o755)
	os.WriteFile(filepath.Join(dir, "nested", "deep.ts"), []byte("x"), 0o644)

	key, err := UploadPackage(ctx, mem, dir, testBucket, "ad/hls/x/", 2)
	if err != nil {
		t.Fatal(err)
	}
	if key != "ad/hls/x/index.m3u8" {
		t.Errorf("manifest key = %q", key)
	}
	want := []string{"ad/hls/x/index.m3u8", "ad/hls/x/index0.ts", "ad/hls/x/notes.zzq"}
	got := mem.Keys(testBucket)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("keys = %v, want %v", got, want)
	}
	if ct := mem.ContentType(testBucket, "ad/hls/x/index0.ts"); ct != "video/mp2t" {
		t.Errorf("segment content type = %q", ct)
	}
	if ct := mem.ContentType(testBucket, "ad/hls/x/notes.zzq"); ct != storage.DefaultContentType {
		t.Errorf("unknown content type = %q", ct)
	}
}

func TestUploadPackageMissingDir(t *testing.T) {
	_, err := UploadPackage(context.Background(), storage.NewMemory(), filepath.Join(t.TempDir(), "gone"), testBucket, "p/", 1)
	if err == nil || errors.Is(err, ErrNoFiles) {
		t.Errorf("missing dir error = %v", err)
	}
}

// brokenReads fails every Get while writes still reach the store.
type brokenReads struct {
	*assets.MemoryStore
}

func (b brokenReads) Get(ctx context.Context, id string) (models.MediaAsset, error) {
	return models.MediaAsset{}, errors.New("read failed")
}

func TestPipelineAssetReadErrorMarksFailed(t *testing.T) {
	f, j := newFixture(t, models.KindVideo, writesPackage(1))
	f.pipeline.Assets = brokenReads{f.assets}

	if err := f.pipeline.Run(context.Background(), j); err == nil || errors.Is(err, assets.ErrNotFound) {
		t.Fatalf("Run = %v, want the read error", err)
	}
	if a := f.status(t); a.Status != models.StatusFailed {
		t.Errorf("status = %s, want FAILED", a.Status)
	}
	if got := f.store.calls.Load(); got != 0 {
		t.Errorf("uploads = %d, want 0", got)
	}
	f.assertCleaned(t)
}

func TestPipelinePanicMarksFailed(t *testing.T) {
	f, j := newFixture(t, models.KindAd, encoder.TranscodeFunc(func(ctx context.Context, src, manifest string) bool {
		panic("encoder exploded")
	}))
	s := NewScheduler(f.pipeline, 0)

	if err := <-s.Schedule(j); err == nil {
		t.Error("panicking job should report an error")
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a := f.status(t); a.Status != models.StatusFailed || a.OutputObjectKey != "" {
		t.Errorf("asset = %+v, want FAILED", a)
	}
	f.assertCleaned(t)
}

func TestShutdownFailsJobsWaitingForSlot(t *testing.T) {
	started := make(chan struct{})
	f, j1 := newFixture(t, models.KindVideo, encoder.TranscodeFunc(func(ctx context.Context, src, manifest string) bool {
		close(started)
		<-ctx.Done()
		return false
	}))
	ctx := context.Background()
	if _, err := f.assets.Create(ctx, models.MediaAsset{ID: "a2", Kind: models.KindVideo}); err != nil {
		t.Fatal(err)
	}
	src2 := filepath.Join(t.TempDir(), "upload2.mp4")
	if err := os.WriteFile(src2, []byte("source"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewScheduler(f.pipeline, 1)
	r1 := s.Schedule(j1)
	<-started
	r2 := s.Schedule(models.TranscodeJob{AssetID: "a2", LocalSourcePath: src2})

	shutdownCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown = %v, want deadline exceeded", err)
	}
	if err := <-r1; err == nil {
		t.Error("running job should fail after cancellation")
	}
	if err := <-r2; !errors.Is(err, context.Canceled) {
		t.Errorf("waiting job = %v, want context.Canceled", err)
	}

	for _, id := range []string{"a1", "a2"} {
		a, err := f.assets.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if a.Status != models.StatusFailed {
			t.Errorf("%s status = %s, want FAILED", id, a.Status)
		}
	}
	if _, err := os.Stat(src2); !os.IsNotExist(err) {
		t.Errorf("staged source of the waiting job should be removed, stat err = %v", err)
	}
	if got := f.store.calls.Load(); got != 0 {
		t.Errorf("uploads = %d, want 0", got)
	}
	f.assertCleaned(t)
}
