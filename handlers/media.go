package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"messenger-console/db"
	"messenger-console/logger"
	apperrors "messenger-console/pkg/errors"
	"messenger-console/pkg/media"
	"messenger-console/pkg/views"
)

type MediaHandler struct {
	*BaseHandler
}

type mediaItem struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	UserID    uint      `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	saved, err := h.storeUpload(w, r, user)
	if err != nil {
		apperrors.HandleError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, saved)
}

// List shows the caller's uploads; admins see everyone's.
func (h *MediaHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	owner := user.ID
	if user.IsAdmin() {
		owner = 0
	}
	rows, err := h.MediaIndex.List(r.Context(), owner)
	if err != nil {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to list media", err))
		return
	}
	items := make([]mediaItem, len(rows))
	for i, m := range rows {
		items[i] = mediaItem{Name: m.Filename, URL: h.Media.PublicPrefix() + m.Filename, UserID: m.UserID, CreatedAt: m.CreatedAt}
	}
	apperrors.WriteJSON(w, http.StatusOK, items)
}

func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]
	owned, err := h.MediaIndex.Get(r.Context(), name)
	if err != nil {
		if db.IsNotFound(err) {
			apperrors.HandleError(w, apperrors.NotFound("file"))
			return
		}
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to load media", err))
		return
	}
	if owned.UserID != user.ID && !user.IsAdmin() {
		apperrors.HandleError(w, apperrors.Forbidden())
		return
	}
	if err := h.Media.Delete(r.Context(), name); err != nil && !errors.Is(err, media.ErrNotFound) {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to delete file", err))
		return
	}
	if err := h.MediaIndex.Delete(r.Context(), name); err != nil && !db.IsNotFound(err) {
		apperrors.HandleError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to delete media record", err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, views.SuccessView{Success: true})
}

// Serve streams a stored upload. It is public so the platform can fetch
// images it is asked to deliver.
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	obj, err := h.Media.Open(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		if errors.Is(err, media.ErrNotFound) || errors.Is(err, media.ErrInvalidName) {
			http.NotFound(w, r)
			return
		}
		logger.LogError("Failed to open upload: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer obj.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if !obj.ModTime.IsZero() {
		w.Header().Set("Last-Modified", obj.ModTime.UTC().Format(http.TimeFormat))
	}
	if _, err := io.Copy(w, obj); err != nil {
		logger.LogDebug("Upload stream interrupted: %v", err)
	}
}
