package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hlsvault/assets"
	"hlsvault/logger"
	"hlsvault/media"
	"hlsvault/storage"
)

// DefaultMaxUploadBytes caps a multipart create request.
const DefaultMaxUploadBytes = 2 << 30

// API holds what the handlers need. Local is set only for the local storage
// backend and enables /objects/.
type API struct {
	Media          *media.Service
	Local          *storage.Local
	MaxUploadBytes int64
	// Health reports the status store's health; nil means always healthy.
	Health func() error
	// InFlight reports running transcode jobs for /health.
	InFlight func() int
}

// Handler registers every route on a new mux.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/assets", a.UploadHandler)
	mux.HandleFunc("/assets/list", a.ListHandler)
	mux.HandleFunc("/status", a.StatusHandler)
	mux.HandleFunc("/playback", a.PlaybackHandler)
	mux.HandleFunc("/playback/manifest", a.ManifestHandler)
	if a.Local != nil {
		mux.HandleFunc("/objects/", a.ObjectHandler)
	}
	mux.HandleFunc("/health", a.HealthHandler)
	mux.HandleFunc("/version", VersionHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

// writeError maps domain errors to status codes: validation 400, missing
// asset or object 404, anything else 500.
func writeError(w http.ResponseWriter, err error) {
	var verr *media.ValidationError
	switch {
	case errors.As(err, &verr):
		http.Error(w, verr.Error(), http.StatusBadRequest)
	case errors.Is(err, assets.ErrNotFound):
		http.Error(w, "Asset not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "File missing from storage", http.StatusNotFound)
	default:
		logger.Errorf("Request failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		logger.Warnf("Invalid method for %s: %s", r.URL.Path, r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}
