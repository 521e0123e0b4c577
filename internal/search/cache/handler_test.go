package cache

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHandlerStatsAndInvalidate(t *testing.T) {
	backend := newMemBackend()
	next := newCountingSearcher(t)
	c := New(backend, next, nil, time.Minute, nil)
	h := NewHandler(c)
	ctx := context.Background()

	c.Search(ctx, "a")
	c.Search(ctx, "a")

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	var stats struct {
		Hits     int64   `json:"hits"`
		Misses   int64   `json:"misses"`
		HitRatio float64 `json:"hit_ratio"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Hits != 1 || stats.Misses != 1 || stats.HitRatio != 0.5 {
		t.Errorf("stats = %+v", stats)
	}

	rec = httptest.NewRecorder()
	h.Invalidate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("invalidate status = %d", rec.Code)
	}
	c.Search(ctx, "a")
	if next.calls.Load() != 2 {
		t.Errorf("searcher calls = %d, want 2 after invalidation", next.calls.Load())
	}
}
