package routes

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"hlsvault/logger"
	"hlsvault/storage"
	"hlsvault/utils"
)

// ObjectHandler serves /objects/{bucket}/{key}?token= from the local
// backend. Tokens come from Local.PresignGet.
func (a *API) ObjectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/objects/")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	if err := a.Local.Authorize(bucket, key, r.URL.Query().Get("token")); err != nil {
		logger.Debugf("Rejected object request %s/%s: %v", bucket, key, err)
		if errors.Is(err, utils.ErrTokenExpired) {
			http.Error(w, "Link expired", http.StatusForbidden)
			return
		}
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	info, err := a.Local.StatObject(r.Context(), bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	rc, err := a.Local.GetObject(r.Context(), bucket, key)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Warnf("Failed to stream %s/%s: %v", bucket, key, err)
	}
}
