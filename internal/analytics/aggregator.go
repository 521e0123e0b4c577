package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/search"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/kafka"
)

// latencyWindow bounds how many recent search latencies feed percentiles.
const latencyWindow = 10000

type AggregatedStats struct {
	TotalSearches     int64        `json:"total_searches"`
	StreamSearches    int64        `json:"stream_searches"`
	FailedSearches    int64        `json:"failed_searches"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	BytesScanned      int64        `json:"bytes_scanned"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
	FilesCreated      int64        `json:"files_created"`
	FilesUpdated      int64        `json:"files_updated"`
	FilesRemoved      int64        `json:"files_removed"`
	FilesPruned       int64        `json:"files_pruned"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds search and catalog events into running statistics.
type Aggregator struct {
	mu                sync.RWMutex
	stats             AggregatedStats
	latencies         []int64
	next              int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	startTime         time.Time
	logger            *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent decodes a published event and records it. Undecodable
// messages are logged and acknowledged so they are not redelivered.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		head, err := kafka.DecodeJSON[struct {
			Type EventType `json:"type"`
		}](value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		switch head.Type {
		case EventSearch:
			event, err := kafka.DecodeJSON[SearchEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode search event", "error", err)
				return nil
			}
			agg.RecordSearch(event)
		case EventCatalog:
			event, err := kafka.DecodeJSON[CatalogEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode catalog event", "error", err)
				return nil
			}
			agg.RecordCatalog(event)
		default:
			agg.logger.Warn("ignoring analytics event of unknown type", "type", head.Type, "key", string(key))
		}
		return nil
	}
}

// LocalPublisher hands events straight to an aggregator in-process, for
// deployments without Kafka. Events take the same JSON path they would
// through the broker.
type LocalPublisher struct {
	handler kafka.MessageHandler
}

func NewLocalPublisher(agg *Aggregator) *LocalPublisher {
	return &LocalPublisher{handler: HandleEvent(agg)}
}

func (p *LocalPublisher) Publish(ctx context.Context, event kafka.Event) error {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return fmt.Errorf("marshaling event value: %w", err)
	}
	return p.handler(ctx, []byte(event.Key), value)
}

func (a *Aggregator) RecordSearch(event SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalSearches++
	if event.Mode == search.ModeStream {
		a.stats.StreamSearches++
	}
	if event.Failed {
		a.stats.FailedSearches++
		return
	}
	a.stats.BytesScanned += event.BytesScanned
	a.stats.FilesPruned += int64(event.Pruned)
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % latencyWindow
	}
	if event.Query == "" {
		return
	}
	a.queryCounts[event.Query]++
	if event.Occurrences == 0 {
		a.stats.ZeroResultCount++
		a.zeroResultQueries[event.Query]++
	}
}

func (a *Aggregator) RecordCatalog(event CatalogEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch catalog.Op(event.Op) {
	case catalog.OpCreated:
		a.stats.FilesCreated++
	case catalog.OpUpdated:
		a.stats.FilesUpdated++
	case catalog.OpRemoved:
		// Pruned removals are counted from the search events that caused them.
		if !event.Pruned {
			a.stats.FilesRemoved++
		}
	}
}

// DefaultTopQueries is the length of the query rankings returned by Stats.
const DefaultTopQueries = 10

func (a *Aggregator) Stats() AggregatedStats {
	return a.StatsTop(DefaultTopQueries)
}

// StatsTop is Stats with the top and zero-result query lists cut to n.
func (a *Aggregator) StatsTop(n int) AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := a.stats
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, n)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, n)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n most frequent queries, ties broken alphabetically.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
