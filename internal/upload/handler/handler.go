// Package handler exposes the upload endpoints: chunked upload with
// reassembly and single-shot upload.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/upload"
	apperrors "github.com/Adithya-Monish-Kumar-K/docstore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/logger"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temp files.
const multipartMemory = 32 << 20

// Handler serves the upload endpoints.
type Handler struct {
	assembler *upload.Assembler
	maxChunk  int64
	maxUpload int64
	logger    *slog.Logger
}

// New creates a Handler. maxChunk and maxUpload bound request bodies; zero
// means unbounded.
func New(a *upload.Assembler, maxChunk, maxUpload int64) *Handler {
	return &Handler{
		assembler: a,
		maxChunk:  maxChunk,
		maxUpload: maxUpload,
		logger:    slog.Default().With("component", "upload-handler"),
	}
}

// UploadChunk handles POST /upload_chunk with multipart fields chunk,
// chunkNumber, fileName, and totalChunks.
func (h *Handler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	if h.maxChunk > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxChunk+1<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	index, indexErr := strconv.Atoi(r.FormValue("chunkNumber"))
	total, totalErr := strconv.Atoi(r.FormValue("totalChunks"))
	fields := make(map[string]string)
	if indexErr != nil {
		fields["chunkNumber"] = "chunk number must be an integer"
	}
	if totalErr != nil {
		fields["totalChunks"] = "total chunks must be an integer"
	}
	file, _, err := r.FormFile("chunk")
	if err != nil {
		fields["chunk"] = "chunk file is required"
	} else {
		defer file.Close()
	}
	if len(fields) > 0 {
		h.writeValidation(w, &upload.ValidationError{Fields: fields})
		return
	}

	resp, err := h.assembler.SubmitChunk(ctx, upload.ChunkRequest{
		FileName: r.FormValue("fileName"),
		Index:    index,
		Total:    total,
		Payload:  file,
	})
	if err != nil {
		var vErr *upload.ValidationError
		if errors.As(err, &vErr) {
			h.writeValidation(w, vErr)
			return
		}
		status := apperrors.HTTPStatusCode(err)
		if status >= 500 {
			log.Error("chunk upload failed", "error", err, "status_code", status)
		} else {
			log.Warn("chunk rejected", "error", err, "status_code", status)
		}
		h.writeError(w, status, apperrors.Message(err))
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Upload handles POST /upload with a single multipart file field.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeValidation(w, &upload.ValidationError{Fields: map[string]string{"file": "file is required"}})
		return
	}
	defer file.Close()

	entry, err := h.assembler.Store(ctx, header.Filename, file)
	if err != nil {
		var vErr *upload.ValidationError
		if errors.As(err, &vErr) {
			h.writeValidation(w, vErr)
			return
		}
		status := apperrors.HTTPStatusCode(err)
		log.Error("upload failed", "file_name", header.Filename, "error", err, "status_code", status)
		h.writeError(w, status, apperrors.Message(err))
		return
	}
	h.writeJSON(w, http.StatusCreated, entry.Document())
}

func (h *Handler) writeValidation(w http.ResponseWriter, err *upload.ValidationError) {
	h.writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "validation failed",
		"fields": err.Fields,
	})
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
