package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/search"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/resilience"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, e kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestAggregatorStats(t *testing.T) {
	agg := NewAggregator()
	agg.RecordSearch(SearchEvent{Mode: search.ModeBatch, Query: "alpha", Occurrences: 3, LatencyMs: 10, BytesScanned: 100})
	agg.RecordSearch(SearchEvent{Mode: search.ModeStream, Query: "alpha", Occurrences: 1, LatencyMs: 30, BytesScanned: 100})
	agg.RecordSearch(SearchEvent{Mode: search.ModeBatch, Query: "beta", Occurrences: 0, LatencyMs: 20, Pruned: 1})
	agg.RecordSearch(SearchEvent{Mode: search.ModeBatch, Query: "gamma", Failed: true})
	agg.RecordCatalog(CatalogEvent{Op: string(catalog.OpCreated), FileName: "a"})
	agg.RecordCatalog(CatalogEvent{Op: string(catalog.OpUpdated), FileName: "a"})
	agg.RecordCatalog(CatalogEvent{Op: string(catalog.OpRemoved), FileName: "a"})
	agg.RecordCatalog(CatalogEvent{Op: string(catalog.OpRemoved), FileName: "b", Pruned: true})

	s := agg.Stats()
	if s.TotalSearches != 4 || s.StreamSearches != 1 || s.FailedSearches != 1 {
		t.Errorf("search counts = %d/%d/%d, want 4/1/1", s.TotalSearches, s.StreamSearches, s.FailedSearches)
	}
	if s.ZeroResultCount != 1 || len(s.ZeroResultQueries) != 1 || s.ZeroResultQueries[0].Query != "beta" {
		t.Errorf("zero results = %d %+v", s.ZeroResultCount, s.ZeroResultQueries)
	}
	if s.BytesScanned != 200 {
		t.Errorf("bytes scanned = %d, want 200", s.BytesScanned)
	}
	if s.AvgLatencyMs != 20 || s.P50LatencyMs != 20 || s.P99LatencyMs != 30 {
		t.Errorf("latency avg=%v p50=%d p99=%d", s.AvgLatencyMs, s.P50LatencyMs, s.P99LatencyMs)
	}
	if len(s.TopQueries) == 0 || s.TopQueries[0] != (QueryCount{Query: "alpha", Count: 2}) {
		t.Errorf("top queries = %+v", s.TopQueries)
	}
	if s.FilesCreated != 1 || s.FilesUpdated != 1 || s.FilesRemoved != 1 || s.FilesPruned != 1 {
		t.Errorf("file counts = %d/%d/%d/%d, want 1/1/1/1", s.FilesCreated, s.FilesUpdated, s.FilesRemoved, s.FilesPruned)
	}
}

func TestHandleEventDispatchesByType(t *testing.T) {
	agg := NewAggregator()
	handle := HandleEvent(agg)
	ctx := context.Background()

	searchMsg, _ := json.Marshal(SearchEvent{Type: EventSearch, Query: "q", Occurrences: 1})
	catalogMsg, _ := json.Marshal(CatalogEvent{Type: EventCatalog, Op: "created", FileName: "f"})
	for _, value := range [][]byte{searchMsg, catalogMsg, []byte(`{"type":"mystery"}`), []byte(`not json`)} {
		if err := handle(ctx, nil, value); err != nil {
			t.Fatalf("handler returned %v; bad messages must be acknowledged", err)
		}
	}
	s := agg.Stats()
	if s.TotalSearches != 1 || s.FilesCreated != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestCollectorRoutesByKind(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	searchPub, catalogPub := &fakePublisher{}, &fakePublisher{}
	c := NewCollector(searchPub, catalogPub, 16, nil)
	c.Start(context.Background())

	c.SearchObserver()(context.Background(), search.Summary{Mode: search.ModeBatch, Pattern: "x", Duration: time.Millisecond})
	c.CatalogListener()(context.Background(), catalog.Change{Op: catalog.OpCreated, Name: "a.txt"})
	c.Close()

	if searchPub.count() != 1 || catalogPub.count() != 1 {
		t.Fatalf("published search=%d catalog=%d, want 1 each", searchPub.count(), catalogPub.count())
	}
	ev := searchPub.events[0].Value.(SearchEvent)
	if ev.Type != EventSearch || ev.Query != "x" {
		t.Errorf("search event = %+v", ev)
	}
	if catalogPub.events[0].Key != "a.txt" {
		t.Errorf("catalog key = %q, want the file name", catalogPub.events[0].Key)
	}
}

func TestCollectorDropsWhenFullAndAfterClose(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	pub := &fakePublisher{}
	c := NewCollector(pub, pub, 1, nil)

	c.TrackSearch(SearchEvent{Query: "a"})
	c.TrackSearch(SearchEvent{Query: "b"})
	if c.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", c.Pending())
	}

	c.Start(context.Background())
	c.Close()
	c.TrackSearch(SearchEvent{Query: "c"})
	if pub.count() != 1 {
		t.Errorf("published %d events, want 1", pub.count())
	}
}

func TestCollectorCircuitBreakerOpens(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	pub := &fakePublisher{err: errors.New("broker down")}
	var states []resilience.State
	cb := resilience.NewCircuitBreaker("analytics", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
		OnStateChange:    func(_ string, to resilience.State) { states = append(states, to) },
	})
	c := NewCollector(pub, pub, 8, cb)
	for i := 0; i < 5; i++ {
		c.TrackSearch(SearchEvent{Query: "q"})
	}
	c.Start(context.Background())
	c.Close()

	if cb.GetState() != resilience.StateOpen {
		t.Errorf("breaker state = %v, want open", cb.GetState())
	}
	if len(states) != 1 || states[0] != resilience.StateOpen {
		t.Errorf("transitions = %v", states)
	}
}

func TestLocalPublisherFeedsAggregator(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	agg := NewAggregator()
	local := NewLocalPublisher(agg)
	c := NewCollector(local, local, 8, nil)
	c.Start(context.Background())
	c.TrackSearch(SearchEvent{Mode: search.ModeStream, Query: "needle", Occurrences: 2})
	c.TrackCatalog(CatalogEvent{Op: string(catalog.OpCreated), FileName: "a"})
	c.Close()

	rec := httptest.NewRecorder()
	NewHandler(agg).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))
	var s AggregatedStats
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.TotalSearches != 1 || s.StreamSearches != 1 || s.FilesCreated != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestKafkaRoundTrip(t *testing.T) {
	brokers := os.Getenv("DS_KAFKA_BROKERS")
	if brokers == "" {
		t.Skipf("DS_KAFKA_BROKERS not set")
	}
	cfg := config.KafkaConfig{Brokers: strings.Split(brokers, ","), ConsumerGroup: "docstore-test"}
	topic := "docstore.test.analytics"

	agg := NewAggregator()
	consumer := kafka.NewConsumer(cfg, topic, "docstore-test-"+time.Now().Format("150405.000"), HandleEvent(agg))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go consumer.Start(ctx)

	producer := kafka.NewProducer(cfg, topic)
	defer producer.Close()

	deadline := time.Now().Add(25 * time.Second)
	for agg.Stats().TotalSearches == 0 {
		if time.Now().After(deadline) {
			t.Fatal("search event never reached the aggregator")
		}
		if err := producer.Publish(ctx, kafka.Event{Key: "batch", Value: SearchEvent{Type: EventSearch, Query: "q"}}); err != nil {
			t.Fatalf("publish: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestHandlerTopQueries(t *testing.T) {
	agg := NewAggregator()
	for i, q := range []string{"alpha", "beta", "beta", "gamma", "gamma", "gamma"} {
		agg.RecordSearch(SearchEvent{Mode: search.ModeBatch, Query: q, Occurrences: i + 1})
	}
	h := NewHandler(agg)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics?top=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var s AggregatedStats
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if len(s.TopQueries) != 2 || s.TopQueries[0].Query != "gamma" || s.TopQueries[1].Query != "beta" {
		t.Errorf("top queries = %+v", s.TopQueries)
	}

	for _, bad := range []string{"0", "101", "many"} {
		rec := httptest.NewRecorder()
		h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics?top="+bad, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("top=%s status = %d, want 400", bad, rec.Code)
		}
		var body map[string]string
		json.NewDecoder(rec.Body).Decode(&body)
		if body["error"] == "" {
			t.Errorf("top=%s: missing error message", bad)
		}
	}
}
