// Command loadtest drives concurrent searches against a docstore server and
// reports throughput, latency percentiles, and status codes.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/proto"
)

type Config struct {
	BaseURL     string
	Mode        string
	Concurrency int
	Duration    time.Duration
	Queries     []string
}

// statusStreamFailed marks a stream that ended with an error event.
const statusStreamFailed = 599

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	occurrences   atomic.Int64
	bytesScanned  atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, duration)
	s.statusCodes[statusCode]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:5000", "base URL of the docstore server")
	mode := flag.String("mode", "batch", "search mode: batch (GET /search) or stream (WebSocket)")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	queries := flag.String("queries", "", "comma-separated byte patterns (default: a built-in mix)")
	flag.Parse()

	if *mode != "batch" && *mode != "stream" {
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Mode:        *mode,
		Concurrency: *concurrency,
		Duration:    *duration,
		Queries:     parseQueries(*queries),
	}

	fmt.Println("=== docstore Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Mode:        %s\n", cfg.Mode)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique\n", len(cfg.Queries))
	fmt.Println()

	stats := runLoadTest(cfg)
	if !printReport(os.Stdout, stats, cfg.Duration) {
		os.Exit(1)
	}
}

func parseQueries(raw string) []string {
	if raw == "" {
		return []string{
			"error",
			"TODO",
			"func ",
			"the",
			"0x",
			"\r\n",
			"timeout",
			"PDF-1.",
			"lorem ipsum",
			"abcabc",
		}
	}
	var out []string
	for _, q := range strings.Split(raw, ",") {
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	do := func(ctx context.Context, query string) (int, error) {
		return batchSearch(ctx, client, cfg.BaseURL, query)
	}
	if cfg.Mode == "stream" {
		do = func(ctx context.Context, query string) (int, error) {
			return streamSearch(ctx, cfg.BaseURL, query, stats)
		}
	}

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			queryIdx := workerID
			for ctx.Err() == nil {
				query := cfg.Queries[queryIdx%len(cfg.Queries)]
				queryIdx++

				start := time.Now()
				status, err := do(ctx, query)
				if ctx.Err() != nil {
					// Requests cut off by the deadline are not counted.
					return
				}
				stats.RecordRequest(time.Since(start), status, err)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func batchSearch(ctx context.Context, client *http.Client, base, query string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/search?query="+url.QueryEscape(query), nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

func streamSearch(ctx context.Context, base, query string, stats *Stats) (int, error) {
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws/search"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return resp.StatusCode, nil
		}
		return 0, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	if err := conn.WriteJSON(proto.StreamRequest{Query: query}); err != nil {
		return 0, err
	}
	for {
		var ev proto.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return 0, err
		}
		switch ev.Type {
		case proto.EventOccurrence:
			stats.occurrences.Add(1)
		case proto.EventDone:
			stats.bytesScanned.Add(ev.Scanned)
			return http.StatusOK, nil
		case proto.EventError:
			return statusStreamFailed, nil
		}
	}
}

// printReport writes the summary and reports whether any request completed.
func printReport(w io.Writer, stats *Stats, duration time.Duration) bool {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %s\n", humanize.Comma(total))
	fmt.Fprintf(w, "Successful:      %s\n", humanize.Comma(success))
	fmt.Fprintf(w, "Errors:          %s\n", humanize.Comma(errors))

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", rps)
	}
	if scanned := stats.bytesScanned.Load(); scanned > 0 {
		fmt.Fprintf(w, "Bytes Scanned:   %s (%s/s)\n", humanize.IBytes(uint64(scanned)),
			humanize.IBytes(uint64(float64(scanned)/duration.Seconds())))
		fmt.Fprintf(w, "Occurrences:     %s\n", humanize.Comma(stats.occurrences.Load()))
	}

	stats.mu.Lock()
	latencies := slices.Clone(stats.latencies)
	codes := make(map[int]int64, len(stats.statusCodes))
	for code, n := range stats.statusCodes {
		codes[code] = n
	}
	stats.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", avg)
		fmt.Fprintf(w, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(w, "P90:    %s\n", percentile(latencies, 90))
		fmt.Fprintf(w, "P95:    %s\n", percentile(latencies, 95))
		fmt.Fprintf(w, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		avgFloat := float64(avg)
		for _, l := range latencies {
			diff := float64(l) - avgFloat
			sumSquared += diff * diff
		}
		stddev := time.Duration(math.Sqrt(sumSquared / float64(len(latencies))))
		fmt.Fprintf(w, "StdDev: %s\n", stddev)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	for _, code := range slices.Sorted(maps.Keys(codes)) {
		label := fmt.Sprint(code)
		if code == statusStreamFailed {
			label = "stream error"
		}
		fmt.Fprintf(w, "  %s: %s\n", label, humanize.Comma(codes[code]))
	}

	if total == 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "WARNING: No requests completed. Is the server running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
