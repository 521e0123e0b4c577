package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docstore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/tracing"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/workerpool"
)

// ErrMissingChunk is returned by Assemble when a staged part is absent.
var ErrMissingChunk = errors.New("missing chunk")

// Assembler stages chunk uploads and concatenates each logical file once all
// of its chunks are present. Assembly runs on a bounded worker pool.
type Assembler struct {
	root      string
	maxChunk  int64
	maxUpload int64
	timeout   time.Duration
	catalog   catalog.Store
	tracker   *Tracker
	pool      *workerpool.Pool[Job]
	metrics   *metrics.Metrics
	retry     resilience.RetryConfig
	logger    *slog.Logger

	// onAssembled, if set, is called after every assembly attempt. Tests use
	// it to wait for the background worker.
	onAssembled func(job Job, err error)
}

// New creates an Assembler rooted at storage.UploadRoot, creating the
// directory if needed. m may be nil.
func New(storage config.StorageConfig, asm config.AssemblerConfig, store catalog.Store, m *metrics.Metrics) (*Assembler, error) {
	if err := os.MkdirAll(storage.UploadRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload root: %w", err)
	}
	a := &Assembler{
		root:      storage.UploadRoot,
		maxChunk:  storage.MaxChunkBytes,
		maxUpload: storage.MaxUploadBytes,
		timeout:   asm.Timeout,
		catalog:   store,
		tracker:   NewTracker(),
		metrics:   m,
		retry: resilience.RetryConfig{
			MaxAttempts:  4,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Retryable: func(err error) bool {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, apperrors.ErrInvalidInput)
			},
		},
		logger: slog.Default().With("component", "assembler"),
	}
	a.pool = workerpool.New("assembly", asm.Workers, asm.QueueSize, a.runJob)
	if m != nil {
		a.pool.OnDepth = func(depth int) { m.AssemblyQueueDepth.Set(float64(depth)) }
	}
	return a, nil
}

// Start launches the assembly workers. Cancelling ctx does not abort
// assemblies: every accepted upload is finished, each bounded by the
// assembler timeout, before Close returns.
func (a *Assembler) Start(ctx context.Context) {
	a.pool.Start(context.WithoutCancel(ctx))
}

// Close waits for queued assemblies to finish.
func (a *Assembler) Close() {
	a.pool.Close()
}

// Root returns the upload root directory.
func (a *Assembler) Root() string {
	return a.root
}

// Tracker exposes the chunk tracker for inspection.
func (a *Assembler) Tracker() *Tracker {
	return a.tracker
}

// SubmitChunk stages one chunk and, when it completes its logical file,
// enqueues assembly. The check-and-trigger runs under the file's lock so
// concurrent final chunks enqueue exactly one job.
func (a *Assembler) SubmitChunk(ctx context.Context, req ChunkRequest) (ChunkResponse, error) {
	if err := ValidateChunk(req); err != nil {
		return ChunkResponse{}, err
	}
	log := logger.FromContext(ctx).With("component", "assembler", "file_name", req.FileName, "chunk_index", req.Index)

	a.tracker.Lock(req.FileName)
	defer a.tracker.Unlock(req.FileName)

	st, err := a.tracker.acquire(req.FileName, req.Total)
	if err != nil {
		return ChunkResponse{}, err
	}

	if st.stagingDir == "" {
		st.stagingDir = a.stagingDir(st.stem)
	}
	stagingDir := st.stagingDir
	n, err := a.stage(stagingDir, req.Index, req.Payload)
	if err != nil {
		a.tracker.drop(req.FileName)
		return ChunkResponse{}, err
	}
	st.received[req.Index] = struct{}{}
	if a.metrics != nil {
		a.metrics.ChunksReceivedTotal.Inc()
		a.metrics.ChunkBytesTotal.Add(float64(n))
		a.metrics.ActiveUploads.Set(float64(a.tracker.Active()))
	}
	log.Debug("chunk staged", "bytes", n, "received", len(st.received), "total", st.total)

	resp := ChunkResponse{
		Status:   StatusReceived,
		FileName: req.FileName,
		Received: len(st.received),
		Total:    st.total,
	}
	if len(st.received) < st.total {
		return resp, nil
	}

	job := Job{
		FileName:   req.FileName,
		Total:      st.total,
		StagingDir: stagingDir,
		RequestID:  logger.RequestID(ctx),
	}
	if err := a.pool.TrySubmit(job); err != nil {
		log.Warn("assembly not enqueued, chunk state kept", "error", err)
		return ChunkResponse{}, apperrors.Newf(apperrors.ErrQueueFull, http.StatusServiceUnavailable,
			"assembly queue is full; resend any chunk of %s to retry", req.FileName)
	}
	a.tracker.markPending(req.FileName)
	if a.metrics != nil {
		a.metrics.ActiveUploads.Set(float64(a.tracker.Active()))
	}
	log.Info("all chunks received, assembly enqueued", "total", st.total)
	resp.Status = StatusAssembling
	return resp, nil
}

// stagingDir is {root}/{stem}, or {root}/{stem}.parts when a stored file
// already holds that path, as it does after any upload of an extensionless
// name.
func (a *Assembler) stagingDir(stem string) string {
	dir := filepath.Join(a.root, stem)
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		return dir + ".parts"
	}
	return dir
}

// stage writes one part into stagingDir via a temp file and rename, so a
// repeated index replaces the earlier part atomically.
func (a *Assembler) stage(stagingDir string, index int, payload io.Reader) (int64, error) {
	if info, err := os.Stat(stagingDir); err == nil && !info.IsDir() {
		return 0, apperrors.Newf(apperrors.ErrUploadConflict, http.StatusConflict,
			"staging path %s is occupied by a file", filepath.Base(stagingDir))
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return 0, fmt.Errorf("creating staging directory: %w", err)
	}
	tmp, err := os.CreateTemp(stagingDir, ".part-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp part: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	src := payload
	if a.maxChunk > 0 {
		src = io.LimitReader(payload, a.maxChunk+1)
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		cleanup()
		return 0, fmt.Errorf("writing part %d: %w", index, err)
	}
	if a.maxChunk > 0 && n > a.maxChunk {
		cleanup()
		return 0, apperrors.Invalid("chunk exceeds %s limit", humanize.IBytes(uint64(a.maxChunk)))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("closing part %d: %w", index, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(stagingDir, partName(index))); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("publishing part %d: %w", index, err)
	}
	return n, nil
}

func (a *Assembler) runJob(ctx context.Context, job Job) {
	if job.RequestID != "" {
		ctx = logger.WithRequestID(ctx, job.RequestID)
	}
	err := resilience.WithTimeout(ctx, a.timeout, "assemble "+job.FileName, func(ctx context.Context) error {
		return a.Assemble(ctx, job)
	})
	a.tracker.finish(job.FileName)
	if a.onAssembled != nil {
		a.onAssembled(job, err)
	}
}

// Assemble concatenates parts 1..Total of job into {root}/{FileName} and
// catalogs the result. It holds the file's lock for the duration. A missing
// part aborts the assembly with no final file written and the staged parts
// left in place.
func (a *Assembler) Assemble(ctx context.Context, job Job) (err error) {
	a.tracker.Lock(job.FileName)
	defer a.tracker.Unlock(job.FileName)

	log := logger.FromContext(ctx).With("component", "assembler", "file_name", job.FileName)
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "assemble", job.RequestID)
	span.SetAttr("chunks", job.Total)
	defer func() {
		span.End()
		span.Log(ctx, log)
		status := "success"
		if err != nil {
			status = "failed"
			log.Error("assembly failed", "total", job.Total, "error", err)
		}
		if a.metrics != nil {
			a.metrics.AssembliesTotal.WithLabelValues(status).Inc()
			a.metrics.AssemblyDuration.Observe(time.Since(start).Seconds())
		}
	}()

	tmp, err := os.CreateTemp(a.root, ".assembling-*")
	if err != nil {
		return fmt.Errorf("creating assembly temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_, concat := tracing.StartChildSpan(ctx, "concat")
	var size int64
	for i := 1; i <= job.Total; i++ {
		if err := ctx.Err(); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("assembly of %s interrupted: %w", job.FileName, err)
		}
		n, err := appendPart(tmp, filepath.Join(job.StagingDir, partName(i)))
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: part %d of %d for %s", ErrMissingChunk, i, job.Total, job.FileName)
			}
			return fmt.Errorf("appending part %d: %w", i, err)
		}
		size += n
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing assembled file: %w", err)
	}
	concat.SetAttr("bytes", size)
	concat.End()

	for i := 1; i <= job.Total; i++ {
		if err := os.Remove(filepath.Join(job.StagingDir, partName(i))); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("removing consumed part", "chunk_index", i, "error", err)
		}
	}
	if err := os.Remove(job.StagingDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("staging directory not removed", "dir", job.StagingDir, "error", err)
	}

	finalPath := filepath.Join(a.root, job.FileName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publishing %s: %w", job.FileName, err)
	}

	_, upsert := tracing.StartChildSpan(ctx, "catalog_upsert")
	var created bool
	err = resilience.Retry(ctx, "catalog upsert", a.retry, func() error {
		var uerr error
		created, uerr = a.catalog.Upsert(ctx, job.FileName, finalPath)
		return uerr
	})
	upsert.End()
	if err != nil {
		return fmt.Errorf("cataloging %s: %w", job.FileName, err)
	}
	log.Info("file assembled",
		"chunks", job.Total,
		"size", humanize.IBytes(uint64(size)),
		"new_entry", created,
		"duration", time.Since(start),
	)
	return nil
}

func appendPart(dst io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(dst, f)
}

// Store writes a whole file in one request, replacing any previous file of
// the same name, and catalogs it.
func (a *Assembler) Store(ctx context.Context, name string, r io.Reader) (catalog.Entry, error) {
	if err := ValidateFileName(name); err != nil {
		return catalog.Entry{}, err
	}
	a.tracker.Lock(name)
	defer a.tracker.Unlock(name)

	tmp, err := os.CreateTemp(a.root, ".upload-*")
	if err != nil {
		return catalog.Entry{}, fmt.Errorf("creating upload temp file: %w", err)
	}
	tmpPath := tmp.Name()
	src := r
	if a.maxUpload > 0 {
		src = io.LimitReader(r, a.maxUpload+1)
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return catalog.Entry{}, fmt.Errorf("writing %s: %w", name, err)
	}
	if a.maxUpload > 0 && n > a.maxUpload {
		os.Remove(tmpPath)
		return catalog.Entry{}, apperrors.Invalid("file exceeds %s limit", humanize.IBytes(uint64(a.maxUpload)))
	}

	finalPath := filepath.Join(a.root, name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return catalog.Entry{}, fmt.Errorf("publishing %s: %w", name, err)
	}
	if _, err := a.catalog.Upsert(ctx, name, finalPath); err != nil {
		return catalog.Entry{}, fmt.Errorf("cataloging %s: %w", name, err)
	}
	entry, err := a.catalog.Get(ctx, name)
	if err != nil {
		return catalog.Entry{}, fmt.Errorf("reading catalog entry for %s: %w", name, err)
	}
	logger.FromContext(ctx).Info("file stored", "component", "assembler", "file_name", name, "size", humanize.IBytes(uint64(n)))
	return entry, nil
}
