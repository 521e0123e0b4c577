package main

import (
	"bytes"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	sorted := make([]time.Duration, 100)
	for i := range sorted {
		sorted[i] = time.Duration(i+1) * time.Millisecond
	}
	tests := []struct {
		p    float64
		want time.Duration
	}{
		{0, time.Millisecond},
		{50, 50 * time.Millisecond},
		{99, 99 * time.Millisecond},
		{100, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("percentile(nil) = %v, want 0", got)
	}
}

func TestParseQueries(t *testing.T) {
	if got := parseQueries("a,,b c"); len(got) != 2 || got[0] != "a" || got[1] != "b c" {
		t.Errorf("parseQueries = %q", got)
	}
	if got := parseQueries(""); len(got) == 0 {
		t.Error("expected default queries")
	}
}

func TestPrintReport(t *testing.T) {
	stats := NewStats()
	stats.RecordRequest(10*time.Millisecond, http.StatusOK, nil)
	stats.RecordRequest(30*time.Millisecond, http.StatusTooManyRequests, nil)
	stats.RecordRequest(0, 0, http.ErrServerClosed)

	var buf bytes.Buffer
	if !printReport(&buf, stats, time.Second) {
		t.Fatal("printReport reported no completed requests")
	}
	out := buf.String()
	for _, want := range []string{"Total Requests:  3", "Errors:          2", "P50:    10ms", "429: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	if printReport(&bytes.Buffer{}, NewStats(), time.Second) {
		t.Error("empty stats should report failure")
	}
}
