package routes

import (
	"errors"
	"mime/multipart"
	"net/http"

	"hlsvault/logger"
	"hlsvault/media"
	"hlsvault/models"
)

// UploadHandler accepts a multipart form with kind, title, file and an
// optional preview, and answers 202 with the PROCESSING asset.
func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	limit := a.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to parse multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Failed to get file from form", http.StatusBadRequest)
		return
	}
	defer file.Close()

	req := media.CreateRequest{
		Kind:  models.Kind(r.FormValue("kind")),
		Title: r.FormValue("title"),
		File:  formUpload(file, header),
	}
	if pf, ph, err := r.FormFile("preview"); err == nil {
		defer pf.Close()
		u := formUpload(pf, ph)
		req.Preview = &u
	} else if !errors.Is(err, http.ErrMissingFile) {
		http.Error(w, "Failed to get preview from form", http.StatusBadRequest)
		return
	}

	asset, err := a.Media.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Infof("Accepted %s upload %s as asset %s", asset.Kind, header.Filename, asset.ID)
	writeJSON(w, http.StatusAccepted, asset)
}

func formUpload(f multipart.File, h *multipart.FileHeader) media.Upload {
	return media.Upload{Filename: h.Filename, ContentType: h.Header.Get("Content-Type"), Body: f}
}
