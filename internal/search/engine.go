// Package search scans every cataloged file for a literal byte pattern. The
// same scan drives both batch results and streamed progress events.
package search

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docstore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/tracing"
)

// Search modes, used as metric and event labels.
const (
	ModeBatch  = "batch"
	ModeStream = "stream"
)

// Occurrence is one match. End is exclusive.
type Occurrence struct {
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	Context string `json:"context"`
}

// FileMatch groups the occurrences found in one file.
type FileMatch struct {
	FileName    string       `json:"fileName"`
	FilePath    string       `json:"filePath"`
	Occurrences []Occurrence `json:"occurrences"`
}

// Summary describes a finished search for observers.
type Summary struct {
	Mode         string
	Pattern      string
	Files        int
	MatchedFiles int
	Occurrences  int
	BytesScanned int64
	Pruned       int
	Duration     time.Duration
	Err          error
}

// Observer is notified after every search.
type Observer func(ctx context.Context, s Summary)

// Engine scans the files in a catalog.
type Engine struct {
	catalog      catalog.Store
	contextBytes int
	maxPattern   int
	metrics      *metrics.Metrics
	logger       *slog.Logger

	mu        sync.RWMutex
	observers []Observer
}

// NewEngine creates an Engine over store. m may be nil.
func NewEngine(store catalog.Store, cfg config.SearchConfig, m *metrics.Metrics) *Engine {
	return &Engine{
		catalog:      store,
		contextBytes: cfg.ContextBytes,
		maxPattern:   cfg.MaxPatternBytes,
		metrics:      m,
		logger:       slog.Default().With("component", "search-engine"),
	}
}

// Observe registers fn to receive a Summary after every search.
func (e *Engine) Observe(fn Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// Search returns every occurrence of pattern in every cataloged file, one
// FileMatch per file with at least one occurrence, in catalog order. An
// empty pattern yields an empty result without scanning.
func (e *Engine) Search(ctx context.Context, pattern string) ([]FileMatch, error) {
	c := &collector{}
	if err := e.run(ctx, ModeBatch, pattern, c); err != nil {
		return nil, err
	}
	return c.matches, nil
}

// Stream scans like Search but reports through sink: progress(0, T), then
// per matching file a file result and its occurrences each followed by
// progress, progress after every file, a final progress(T, T), and Done.
func (e *Engine) Stream(ctx context.Context, pattern string, sink Sink) error {
	return e.run(ctx, ModeStream, pattern, sink)
}

func (e *Engine) run(ctx context.Context, mode, pattern string, sink Sink) (err error) {
	start := time.Now()
	sum := Summary{Mode: mode, Pattern: pattern}
	ctx, span := tracing.StartSpan(ctx, "search."+mode, logger.RequestID(ctx))
	defer func() {
		sum.Duration = time.Since(start)
		sum.Err = err
		span.SetAttr("files", sum.Files)
		span.SetAttr("occurrences", sum.Occurrences)
		span.End()
		e.record(ctx, sum)
		span.Log(ctx, logger.FromContext(ctx))
	}()

	if e.maxPattern > 0 && len(pattern) > e.maxPattern {
		return apperrors.Invalid("query must be at most %d bytes", e.maxPattern)
	}
	if pattern == "" {
		if err := sink.Progress(0, 0); err != nil {
			return err
		}
		return sink.Done()
	}
	return e.scan(ctx, []byte(pattern), sink, &sum)
}

// candidate is a cataloged file that existed when the scan was planned.
type candidate struct {
	entry catalog.Entry
	size  int64
}

// plan lists the catalog, prunes entries whose file is gone, and totals the
// sizes of the rest.
func (e *Engine) plan(ctx context.Context, sum *Summary) ([]candidate, int64, error) {
	entries, err := e.catalog.List(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("listing catalog: %w", err)
	}
	cands := make([]candidate, 0, len(entries))
	var total int64
	for _, entry := range entries {
		info, err := os.Stat(entry.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				e.prune(ctx, entry, sum)
				continue
			}
			logger.FromContext(ctx).Warn("skipping unreadable file", "file_name", entry.Name, "error", err)
			continue
		}
		if info.IsDir() {
			continue
		}
		cands = append(cands, candidate{entry: entry, size: info.Size()})
		total += info.Size()
	}
	return cands, total, nil
}

func (e *Engine) prune(ctx context.Context, entry catalog.Entry, sum *Summary) {
	log := logger.FromContext(ctx)
	log.Warn("cataloged file missing on disk, removing entry", "file_name", entry.Name, "file_path", entry.Path)
	if err := e.catalog.Remove(catalog.WithPruned(ctx), entry.Name); err != nil && !errors.Is(err, apperrors.ErrFileNotFound) {
		log.Error("pruning catalog entry failed", "file_name", entry.Name, "error", err)
		return
	}
	sum.Pruned++
	if e.metrics != nil {
		e.metrics.CatalogPrunedTotal.Inc()
	}
}

// scan is the single scan primitive behind both modes.
func (e *Engine) scan(ctx context.Context, pattern []byte, sink Sink, sum *Summary) error {
	cands, total, err := e.plan(ctx, sum)
	if err != nil {
		return err
	}
	sum.Files = len(cands)
	if err := sink.Progress(0, total); err != nil {
		return err
	}

	var cumulative int64
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return err
		}
		found, err := e.scanFile(ctx, c, pattern, cumulative, total, sink, sum)
		if err != nil {
			return err
		}
		if found > 0 {
			sum.MatchedFiles++
			sum.Occurrences += found
		}
		cumulative += c.size
		sum.BytesScanned = cumulative
		if err := sink.Progress(cumulative, total); err != nil {
			return err
		}
	}

	if err := sink.Progress(total, total); err != nil {
		return err
	}
	return sink.Done()
}

// scanFile reports the occurrences in one file. I/O failures skip the file;
// only cancellation and sink errors are returned.
func (e *Engine) scanFile(ctx context.Context, c candidate, pattern []byte, base, total int64, sink Sink, sum *Summary) (int, error) {
	log := logger.FromContext(ctx).With("file_name", c.entry.Name)
	_, span := tracing.StartChildSpan(ctx, "scan_file")
	span.SetAttr("file_name", c.entry.Name)
	span.SetAttr("bytes", c.size)
	defer span.End()

	data, release, err := mapFile(c.entry.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			e.prune(ctx, c.entry, sum)
		} else {
			log.Warn("skipping file", "error", err)
		}
		return 0, nil
	}
	defer func() {
		if err := release(); err != nil {
			log.Warn("releasing file mapping", "error", err)
		}
	}()

	// The file may have changed size since planning; never report offsets
	// past what was planned.
	if int64(len(data)) > c.size {
		data = data[:c.size]
	}

	starts := FindAll(data, pattern)
	span.SetAttr("occurrences", len(starts))
	if len(starts) == 0 {
		return 0, nil
	}
	if err := sink.FileResult(c.entry.Name, c.entry.Path); err != nil {
		return 0, err
	}
	for i, start := range starts {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		end := start + len(pattern)
		occ := Occurrence{
			Start:   int64(start),
			End:     int64(end),
			Context: ContextWindow(data, start, end, e.contextBytes),
		}
		if err := sink.Occurrence(c.entry.Name, occ); err != nil {
			return i, err
		}
		if err := sink.Progress(base+int64(start), total); err != nil {
			return i, err
		}
	}
	return len(starts), nil
}

func (e *Engine) record(ctx context.Context, sum Summary) {
	outcome := "ok"
	switch {
	case sum.Err != nil && (errors.Is(sum.Err, context.Canceled) || errors.Is(sum.Err, context.DeadlineExceeded)):
		outcome = "cancelled"
	case sum.Err != nil:
		outcome = "error"
	case sum.Occurrences == 0:
		outcome = "empty"
	}
	if e.metrics != nil {
		e.metrics.SearchesTotal.WithLabelValues(sum.Mode, outcome).Inc()
		e.metrics.SearchLatency.WithLabelValues(sum.Mode).Observe(sum.Duration.Seconds())
		e.metrics.SearchBytesScanned.Add(float64(sum.BytesScanned))
		if sum.Err == nil {
			e.metrics.SearchOccurrences.Observe(float64(sum.Occurrences))
		}
	}
	logger.FromContext(ctx).Debug("search finished",
		"mode", sum.Mode,
		"outcome", outcome,
		"files", sum.Files,
		"matched_files", sum.MatchedFiles,
		"occurrences", sum.Occurrences,
		"bytes_scanned", sum.BytesScanned,
		"pruned", sum.Pruned,
		"duration", sum.Duration,
	)

	e.mu.RLock()
	observers := e.observers
	e.mu.RUnlock()
	for _, fn := range observers {
		fn(ctx, sum)
	}
}

// collector is the Sink behind batch mode: it ignores progress and groups
// occurrences by file.
type collector struct {
	matches []FileMatch
}

func (c *collector) Progress(int64, int64) error { return nil }

func (c *collector) FileResult(name, path string) error {
	c.matches = append(c.matches, FileMatch{FileName: name, FilePath: path, Occurrences: []Occurrence{}})
	return nil
}

func (c *collector) Occurrence(name string, occ Occurrence) error {
	last := &c.matches[len(c.matches)-1]
	last.Occurrences = append(last.Occurrences, occ)
	return nil
}

func (c *collector) Done() error {
	if c.matches == nil {
		c.matches = []FileMatch{}
	}
	return nil
}
