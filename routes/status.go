package routes

import (
	"net/http"

	"hlsvault/logger"
	"hlsvault/models"
)

// StatusHandler returns the asset record for ?id=.
func (a *API) StatusHandler(w http.ResponseWriter, r *http.Request) {
	logger.Debugf("Asset status request: method=%s, remoteAddr=%s", r.Method, r.RemoteAddr)
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		logger.Warn("Missing id parameter in status request")
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}

	asset, err := a.Media.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Debugf("Asset status: id=%s, status=%s", id, asset.Status)
	writeJSON(w, http.StatusOK, asset)
}

// ListHandler lists assets, optionally filtered by ?kind= and ?status=.
func (a *API) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	var kind models.Kind
	if v := q.Get("kind"); v != "" {
		k, err := models.ParseKind(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		kind = k
	}
	status := models.Status(q.Get("status"))
	if status != "" && !status.Valid() {
		http.Error(w, "Unknown status", http.StatusBadRequest)
		return
	}

	list, err := a.Media.List(r.Context(), kind, status)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []models.MediaAsset{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assets": list,
		"count":  len(list),
	})
}
