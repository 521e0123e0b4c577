// Package handler exposes the catalog over HTTP: listing, downloading, and
// deleting stored files.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/docstore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/proto"
)

type Handler struct {
	store  catalog.Store
	logger *slog.Logger
}

func New(store catalog.Store) *Handler {
	return &Handler{
		store:  store,
		logger: slog.Default().With("component", "catalog-handler"),
	}
}

// List handles GET /list.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List(r.Context())
	if err != nil {
		h.fail(w, r, "listing catalog", err)
		return
	}
	h.writeJSON(w, http.StatusOK, catalog.Documents(entries))
}

// Download handles GET /uploaded_files/{name}.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	entry, info, err := catalog.Stat(ctx, h.store, name)
	if err != nil {
		h.fail(w, r, "stat for download", err)
		return
	}
	f, err := os.Open(entry.Path)
	if err != nil {
		h.fail(w, r, "opening file", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// Delete handles DELETE /delete?fileName=.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("fileName")
	if name == "" {
		h.writeError(w, http.StatusBadRequest, "fileName is required")
		return
	}
	if _, err := catalog.Delete(r.Context(), h.store, name); err != nil {
		h.fail(w, r, "deleting file", err)
		return
	}
	h.writeJSON(w, http.StatusOK, proto.DeleteResponse{Deleted: true, Message: "File deleted successfully"})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := apperrors.HTTPStatusCode(err)
	if errors.Is(err, apperrors.ErrFileNotFound) {
		h.writeError(w, status, "file not found")
		return
	}
	logger.FromContext(r.Context()).Error(op+" failed", "error", err, "status_code", status)
	h.writeError(w, status, apperrors.Message(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
