package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docstore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/metrics"
)

type fixture struct {
	engine *Engine
	store  *catalog.MemoryStore
	dir    string
	m      *metrics.Metrics
}

func newFixture(t *testing.T, files ...[2]string) *fixture {
	t.Helper()
	f := &fixture{
		store: catalog.NewMemoryStore(),
		dir:   t.TempDir(),
		m:     metrics.New(prometheus.NewRegistry()),
	}
	for _, file := range files {
		f.add(t, file[0], file[1])
	}
	f.engine = NewEngine(f.store, config.SearchConfig{ContextBytes: 20, MaxPatternBytes: 64}, f.m)
	return f
}

func (f *fixture) add(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Upsert(context.Background(), name, path); err != nil {
		t.Fatal(err)
	}
	return path
}

// recorder is a Sink that keeps every event.
type recorder struct {
	events []Event
	failAt int
}

func (r *recorder) push(ev Event) error {
	r.events = append(r.events, ev)
	if r.failAt > 0 && len(r.events) >= r.failAt {
		return errors.New("subscriber gone")
	}
	return nil
}

func (r *recorder) Progress(s, t int64) error {
	return r.push(Event{Kind: EventProgress, Scanned: s, Total: t})
}
func (r *recorder) FileResult(n, p string) error {
	return r.push(Event{Kind: EventFileResult, FileName: n, FilePath: p})
}
func (r *recorder) Occurrence(n string, o Occurrence) error {
	return r.push(Event{Kind: EventOccurrence, FileName: n, Occurrence: o})
}
func (r *recorder) Done() error { return r.push(Event{Kind: EventDone}) }

func TestSearchOverlappingMatches(t *testing.T) {
	f := newFixture(t, [2]string{"x.txt", "xababx"})
	got, err := f.engine.Search(context.Background(), "ab")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || len(got[0].Occurrences) != 2 {
		t.Fatalf("results = %+v", got)
	}
	occ := got[0].Occurrences
	if occ[0].Start != 1 || occ[0].End != 3 || occ[1].Start != 3 || occ[1].End != 5 {
		t.Fatalf("occurrences = %+v, want [1,3) and [3,5)", occ)
	}
	if occ[0].Context != "xababx" {
		t.Errorf("context = %q", occ[0].Context)
	}
}

func TestSearchEmptyPattern(t *testing.T) {
	f := newFixture(t, [2]string{"a.txt", "anything"})
	got, err := f.engine.Search(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("results = %#v, want empty non-nil slice", got)
	}

	var rec recorder
	if err := f.engine.Stream(context.Background(), "", &rec); err != nil {
		t.Fatal(err)
	}
	if len(rec.events) != 2 || rec.events[0].Total != 0 || rec.events[1].Kind != EventDone {
		t.Fatalf("events = %+v", rec.events)
	}
}

func TestSearchPatternTooLong(t *testing.T) {
	f := newFixture(t)
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	_, err := f.engine.Search(context.Background(), string(long))
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSearchSelfHealsMissingFile(t *testing.T) {
	f := newFixture(t,
		[2]string{"keep.txt", "needle here"},
		[2]string{"gone.txt", "needle there"},
		[2]string{"also.txt", "another needle"},
	)
	os.Remove(filepath.Join(f.dir, "gone.txt"))

	var pruned []catalog.Change
	n := catalog.NewNotifying(f.store)
	n.Subscribe(func(_ context.Context, c catalog.Change) { pruned = append(pruned, c) })
	f.engine = NewEngine(n, config.SearchConfig{ContextBytes: 20}, f.m)

	got, err := f.engine.Search(context.Background(), "needle")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].FileName != "keep.txt" || got[1].FileName != "also.txt" {
		t.Fatalf("results = %+v", got)
	}
	if ok, _ := f.store.Exists(context.Background(), "gone.txt"); ok {
		t.Fatal("missing file still cataloged")
	}
	if len(pruned) != 1 || !pruned[0].Pruned || pruned[0].Name != "gone.txt" {
		t.Fatalf("changes = %+v", pruned)
	}
	if v := testutil.ToFloat64(f.m.CatalogPrunedTotal); v != 1 {
		t.Errorf("pruned counter = %v", v)
	}
}

func TestStreamEventSequence(t *testing.T) {
	f := newFixture(t,
		[2]string{"one.txt", "--ab--ab"},
		[2]string{"none.txt", "zzzz"},
		[2]string{"two.txt", "ab"},
	)
	var rec recorder
	if err := f.engine.Stream(context.Background(), "ab", &rec); err != nil {
		t.Fatal(err)
	}

	const total = 8 + 4 + 2
	want := []Event{
		{Kind: EventProgress, Scanned: 0, Total: total},
		{Kind: EventFileResult, FileName: "one.txt", FilePath: filepath.Join(f.dir, "one.txt")},
		{Kind: EventOccurrence, FileName: "one.txt", Occurrence: Occurrence{Start: 2, End: 4, Context: "--ab--ab"}},
		{Kind: EventProgress, Scanned: 2, Total: total},
		{Kind: EventOccurrence, FileName: "one.txt", Occurrence: Occurrence{Start: 6, End: 8, Context: "--ab--ab"}},
		{Kind: EventProgress, Scanned: 6, Total: total},
		{Kind: EventProgress, Scanned: 8, Total: total},
		{Kind: EventProgress, Scanned: 12, Total: total},
		{Kind: EventFileResult, FileName: "two.txt", FilePath: filepath.Join(f.dir, "two.txt")},
		{Kind: EventOccurrence, FileName: "two.txt", Occurrence: Occurrence{Start: 0, End: 2, Context: "ab"}},
		{Kind: EventProgress, Scanned: 12, Total: total},
		{Kind: EventProgress, Scanned: 14, Total: total},
		{Kind: EventProgress, Scanned: total, Total: total},
		{Kind: EventDone},
	}
	if len(rec.events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(rec.events), len(want), rec.events)
	}
	var last int64
	for i := range want {
		if rec.events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, rec.events[i], want[i])
		}
		if rec.events[i].Kind == EventProgress {
			if rec.events[i].Scanned < last {
				t.Errorf("progress went backwards at event %d", i)
			}
			last = rec.events[i].Scanned
		}
	}
}

func TestStreamFinalProgressWithPrunedFile(t *testing.T) {
	f := newFixture(t, [2]string{"a.txt", "abc"}, [2]string{"b.txt", "abcabc"})
	os.Remove(filepath.Join(f.dir, "a.txt"))

	var rec recorder
	if err := f.engine.Stream(context.Background(), "c", &rec); err != nil {
		t.Fatal(err)
	}
	final := rec.events[len(rec.events)-2]
	if final.Kind != EventProgress || final.Scanned != final.Total || final.Total != 6 {
		t.Fatalf("final progress = %+v, want scanned == total == 6", final)
	}
}

func TestStreamSinkErrorAborts(t *testing.T) {
	f := newFixture(t, [2]string{"a.txt", "aaaaaaaa"})
	rec := recorder{failAt: 3}
	err := f.engine.Stream(context.Background(), "a", &rec)
	if err == nil || err.Error() != "subscriber gone" {
		t.Fatalf("err = %v, want sink error", err)
	}
	if len(rec.events) != 3 {
		t.Fatalf("scan continued after sink failure: %d events", len(rec.events))
	}
}

func TestStreamHonoursCancellation(t *testing.T) {
	f := newFixture(t, [2]string{"a.txt", "abab"}, [2]string{"b.txt", "abab"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var rec recorder
	err := f.engine.Stream(ctx, "ab", &rec)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	for _, ev := range rec.events {
		if ev.Kind == EventDone {
			t.Fatal("cancelled stream reported done")
		}
	}
}

func TestSearchSkipsEmptyFiles(t *testing.T) {
	f := newFixture(t, [2]string{"empty.txt", ""}, [2]string{"full.txt", "needle"})
	got, err := f.engine.Search(context.Background(), "needle")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].FileName != "full.txt" {
		t.Fatalf("results = %+v", got)
	}
}

func TestObserverReceivesSummary(t *testing.T) {
	f := newFixture(t, [2]string{"a.txt", "abab"})
	var sums []Summary
	f.engine.Observe(func(_ context.Context, s Summary) { sums = append(sums, s) })
	f.engine.Search(context.Background(), "ab")
	if len(sums) != 1 {
		t.Fatalf("summaries = %d", len(sums))
	}
	s := sums[0]
	if s.Mode != ModeBatch || s.Occurrences != 2 || s.MatchedFiles != 1 || s.BytesScanned != 4 {
		t.Fatalf("summary = %+v", s)
	}
	if v := testutil.ToFloat64(f.m.SearchesTotal.WithLabelValues(ModeBatch, "ok")); v != 1 {
		t.Errorf("searches counter = %v", v)
	}
}

func TestChanSinkDeliversAndCloses(t *testing.T) {
	f := newFixture(t, [2]string{"a.txt", "xabx"})
	ctx := context.Background()
	sink := NewChanSink(ctx, 0)
	go func() {
		sink.Close(f.engine.Stream(ctx, "ab", sink))
	}()
	var kinds []EventKind
	for ev := range sink.Events() {
		kinds = append(kinds, ev.Kind)
	}
	if sink.Err() != nil {
		t.Fatalf("stream err = %v", sink.Err())
	}
	if kinds[len(kinds)-1] != EventDone {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestChanSinkStopsWhenConsumerLeaves(t *testing.T) {
	f := newFixture(t, [2]string{"a.txt", "aaaaaaaaaaaaaaaa"})
	ctx, cancel := context.WithCancel(context.Background())
	sink := NewChanSink(ctx, 1)
	done := make(chan error, 1)
	go func() {
		err := f.engine.Stream(ctx, "a", sink)
		sink.Close(err)
		done <- err
	}()
	<-sink.Events()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// BenchmarkEngineSearch measures a full batch scan over catalogs of
// increasing size.
func BenchmarkEngineSearch(b *testing.B) {
	line := []byte("the quick brown fox jumps over the lazy dog; needle in a haystack\n")
	for _, numFiles := range []int{10, 100} {
		b.Run(fmt.Sprintf("files_%d", numFiles), func(b *testing.B) {
			dir := b.TempDir()
			store := catalog.NewMemoryStore()
			content := bytes.Repeat(line, 1024)
			for i := 0; i < numFiles; i++ {
				name := fmt.Sprintf("doc-%d.txt", i)
				path := filepath.Join(dir, name)
				if err := os.WriteFile(path, content, 0o644); err != nil {
					b.Fatal(err)
				}
				if _, err := store.Upsert(context.Background(), name, path); err != nil {
					b.Fatal(err)
				}
			}
			engine := NewEngine(store, config.SearchConfig{ContextBytes: 20}, nil)

			b.SetBytes(int64(numFiles * len(content)))
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := engine.Search(context.Background(), "needle"); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
