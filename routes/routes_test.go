package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hlsvault/assets"
	"hlsvault/config"
	"hlsvault/encoder"
	"hlsvault/job"
	"hlsvault/media"
	"hlsvault/models"
	"hlsvault/playback"
	"hlsvault/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	api     *API
	handler http.Handler
	sched   *job.Scheduler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.TempDir = t.TempDir()
	cfg.FFprobePath = ""
	cfg.Storage.Backend = "local"
	cfg.Storage.Local = config.LocalConfig{Root: t.TempDir(), BaseURL: "http://media.test", SigningSecret: testSecret}

	local, err := storage.NewLocal(cfg.Storage.Local)
	if err != nil {
		t.Fatal(err)
	}
	if err := local.EnsureBucket(context.Background(), cfg.Storage.Bucket, false); err != nil {
		t.Fatal(err)
	}
	st := assets.NewMemoryStore()
	tr := encoder.TranscodeFunc(func(ctx context.Context, src, manifest string) bool {
		dir := filepath.Dir(manifest)
		os.WriteFile(filepath.Join(dir, "index0.ts"), []byte("segment-zero"), 0o644)
		return os.WriteFile(manifest, []byte("#EXTM3U\n#EXTINF:10,\nindex0.ts\n#EXT-X-ENDLIST\n"), 0o644) == nil
	})
	sched := job.NewScheduler(job.NewPipeline(cfg, local, st, tr), 0)
	t.Cleanup(func() { sched.Shutdown(context.Background()) })

	api := &API{
		Media:    media.NewService(cfg, local, st, sched, playback.NewComposer(cfg, local)),
		Local:    local,
		InFlight: func() int { return len(sched.InFlight()) },
	}
	return &testServer{api: api, handler: api.Handler(), sched: sched}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func multipartUpload(t *testing.T, kind, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("kind", kind)
	mw.WriteField("title", "Launch spot")
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/assets", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeAsset(t *testing.T, w *httptest.ResponseRecorder) models.MediaAsset {
	t.Helper()
	var a models.MediaAsset
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
		t.Fatalf("Failed to parse response JSON: %v (%s)", err, w.Body.String())
	}
	return a
}

func TestUploadToPlayback(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, multipartUpload(t, "ad", "spot.mp4", "video/mp4", []byte("movie")))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	created := decodeAsset(t, w)
	if created.Status != models.StatusProcessing || created.ID == "" {
		t.Fatalf("created = %+v", created)
	}

	if err := s.sched.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/status?id="+created.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	if a := decodeAsset(t, w); a.Status != models.StatusActive || a.OutputObjectKey != "ad/hls/"+created.ID+"/index.m3u8" {
		t.Fatalf("asset after job = %+v", a)
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/playback?id="+created.ID+"&ttl=60", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("playback code = %d: %s", w.Code, w.Body.String())
	}
	var pb playback.Playback
	if err := json.Unmarshal(w.Body.Bytes(), &pb); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(pb.Manifest, "\n"), "\n")
	if len(lines) != 4 || lines[0] != "#EXTM3U" || lines[3] != "#EXT-X-ENDLIST" {
		t.Fatalf("manifest = %q", pb.Manifest)
	}

	// The signed segment link is served by /objects/.
	seg, err := url.Parse(lines[2])
	if err != nil || seg.Host != "media.test" {
		t.Fatalf("segment URL = %q", lines[2])
	}
	w = s.do(t, httptest.NewRequest(http.MethodGet, seg.RequestURI(), nil))
	if w.Code != http.StatusOK || w.Body.String() != "segment-zero" {
		t.Fatalf("segment fetch = %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "video/mp2t" {
		t.Errorf("segment content type = %q", ct)
	}

	q := seg.Query()
	q.Set("token", q.Get("token")+"x")
	seg.RawQuery = q.Encode()
	if w = s.do(t, httptest.NewRequest(http.MethodGet, seg.RequestURI(), nil)); w.Code != http.StatusForbidden {
		t.Errorf("tampered token = %d, want 403", w.Code)
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/playback/manifest?id="+created.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("manifest code = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Errorf("manifest content type = %q", ct)
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/assets/list?kind=ad&status=ACTIVE", nil))
	var list struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &list)
	if w.Code != http.StatusOK || list.Count != 1 {
		t.Errorf("list = %d %s", w.Code, w.Body.String())
	}
}

func TestUploadRejectsWrongType(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, multipartUpload(t, "video", "notes.txt", "text/plain", []byte("hello")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if w = s.do(t, httptest.NewRequest(http.MethodGet, "/assets", nil)); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /assets = %d, want 405", w.Code)
	}
}

func TestStatusErrors(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, httptest.NewRequest(http.MethodGet, "/status", nil)); w.Code != http.StatusBadRequest {
		t.Errorf("missing id = %d, want 400", w.Code)
	}
	if w := s.do(t, httptest.NewRequest(http.MethodGet, "/status?id=nope", nil)); w.Code != http.StatusNotFound {
		t.Errorf("unknown id = %d, want 404", w.Code)
	}
	if w := s.do(t, httptest.NewRequest(http.MethodGet, "/assets/list?status=DONE", nil)); w.Code != http.StatusBadRequest {
		t.Errorf("bad status filter = %d, want 400", w.Code)
	}
}

func TestPlaybackMissingMedia(t *testing.T) {
	s := newTestServer(t)
	st := s.api.Media.Assets
	ctx := context.Background()
	st.Create(ctx, models.MediaAsset{ID: "gone", Kind: models.KindVideo})
	st.Update(ctx, "gone", assets.Update{Status: models.StatusActive, OutputObjectKey: "video/hls/gone/index.m3u8"})

	if w := s.do(t, httptest.NewRequest(http.MethodGet, "/playback?id=gone", nil)); w.Code != http.StatusNotFound {
		t.Errorf("deleted manifest = %d, want 404", w.Code)
	}
	if w := s.do(t, httptest.NewRequest(http.MethodGet, "/playback?id=gone&ttl=-5", nil)); w.Code != http.StatusBadRequest {
		t.Errorf("negative ttl = %d, want 400", w.Code)
	}
}

func TestObjectPathRejected(t *testing.T) {
	s := newTestServer(t)
	for _, p := range []string{"/objects/media", "/objects/media/"} {
		if w := s.do(t, httptest.NewRequest(http.MethodGet, p, nil)); w.Code != http.StatusNotFound {
			t.Errorf("%s = %d, want 404", p, w.Code)
		}
	}
	if w := s.do(t, httptest.NewRequest(http.MethodGet, "/objects/media/ad/x.ts", nil)); w.Code != http.StatusForbidden {
		t.Errorf("unsigned private object = %d, want 403", w.Code)
	}
}

func TestHealthAndVersion(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
	var hr HealthResponse
	json.Unmarshal(w.Body.Bytes(), &hr)
	if hr.Status != "healthy" {
		t.Errorf("health status = %q", hr.Status)
	}

	s.api.Health = func() error { return errors.New("disk gone") }
	if w := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil)); w.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy = %d, want 503", w.Code)
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/version", nil))
	var vr VersionResponse
	json.Unmarshal(w.Body.Bytes(), &vr)
	if w.Code != http.StatusOK || vr.Version != version {
		t.Errorf("version = %d %+v", w.Code, vr)
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	if w.Code != http.StatusOK || !bytes.Contains(body, []byte("go_goroutines")) {
		t.Errorf("metrics = %d", w.Code)
	}
}
