package routes

import (
	"net/http"
	"strconv"
	"time"

	"hlsvault/logger"
	"hlsvault/playback"
)

// parsePlayback reads ?id= and the optional ?ttl= in seconds.
func parsePlayback(w http.ResponseWriter, r *http.Request) (string, time.Duration, bool) {
	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return "", 0, false
	}
	var ttl time.Duration
	if v := q.Get("ttl"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			http.Error(w, "ttl must be a positive number of seconds", http.StatusBadRequest)
			return "", 0, false
		}
		ttl = time.Duration(secs) * time.Second
	}
	return id, ttl, true
}

func (a *API) resolve(w http.ResponseWriter, r *http.Request) (playback.Playback, bool) {
	if !allowMethod(w, r, http.MethodGet) {
		return playback.Playback{}, false
	}
	id, ttl, ok := parsePlayback(w, r)
	if !ok {
		return playback.Playback{}, false
	}
	pb, err := a.Media.Playback(r.Context(), id, ttl)
	if err != nil {
		logger.Warnf("Playback for %s failed: %v", id, err)
		writeError(w, err)
		return playback.Playback{}, false
	}
	return pb, true
}

// PlaybackHandler returns signed links and the rewritten manifest as JSON.
func (a *API) PlaybackHandler(w http.ResponseWriter, r *http.Request) {
	pb, ok := a.resolve(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, pb)
}

// ManifestHandler serves the rewritten manifest itself so a player can be
// pointed straight at it.
func (a *API) ManifestHandler(w http.ResponseWriter, r *http.Request) {
	pb, ok := a.resolve(w, r)
	if !ok {
		return
	}
	if pb.Manifest == "" {
		http.Error(w, "Asset has no HLS manifest yet", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(pb.Manifest))
}
