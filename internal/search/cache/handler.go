package cache

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/logger"
)

// Handler exposes cache statistics and manual invalidation.
type Handler struct {
	cache  *QueryCache
	logger *slog.Logger
}

func NewHandler(c *QueryCache) *Handler {
	return &Handler{cache: c, logger: slog.Default().With("component", "cache-handler")}
}

// Stats handles GET /api/v1/cache/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	hits, misses := h.cache.Stats()
	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":      hits,
		"misses":    misses,
		"hit_ratio": ratio,
	})
}

// Invalidate handles POST /api/v1/cache/invalidate.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Invalidate(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "cache unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
