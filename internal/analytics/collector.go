package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/search"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/resilience"
)

// Publisher delivers one event. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

const publishTimeout = 5 * time.Second

type envelope struct {
	pub   Publisher
	event kafka.Event
}

// Collector buffers analytics events and publishes them from a single
// background goroutine so searches and uploads never wait on the broker.
// Publishing goes through a circuit breaker; while it is open events are
// dropped rather than queued.
type Collector struct {
	searchPub  Publisher
	catalogPub Publisher
	breaker    *resilience.CircuitBreaker
	eventCh    chan envelope
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	logger     *slog.Logger
}

// NewCollector creates a Collector. breaker may be nil.
func NewCollector(searchPub, catalogPub Publisher, bufferSize int, breaker *resilience.CircuitBreaker) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		searchPub:  searchPub,
		catalogPub: catalogPub,
		breaker:    breaker,
		eventCh:    make(chan envelope, bufferSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "analytics-collector"),
	}
}

// Start launches the publish loop. It exits when ctx is cancelled or Close
// is called, publishing whatever is still buffered first.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case env := <-c.eventCh:
				c.publish(ctx, env)
			case <-ctx.Done():
				c.drainRemaining()
				return
			case <-c.quit:
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
}

// Close stops the publish loop and waits for it to flush. Start must have
// been called.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.done
}

// Pending returns the number of buffered events.
func (c *Collector) Pending() int {
	return len(c.eventCh)
}

// TrackSearch buffers a search event; it never blocks.
func (c *Collector) TrackSearch(e SearchEvent) {
	e.Type = EventSearch
	c.track(c.searchPub, kafka.Event{Key: e.Mode, Value: e})
}

// TrackCatalog buffers a catalog event; it never blocks.
func (c *Collector) TrackCatalog(e CatalogEvent) {
	e.Type = EventCatalog
	c.track(c.catalogPub, kafka.Event{Key: e.FileName, Value: e})
}

func (c *Collector) track(pub Publisher, event kafka.Event) {
	if pub == nil {
		return
	}
	select {
	case <-c.quit:
		return
	default:
	}
	select {
	case c.eventCh <- envelope{pub: pub, event: event}:
	default:
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

// SearchObserver returns a search.Observer that records every search.
func (c *Collector) SearchObserver() search.Observer {
	return func(ctx context.Context, s search.Summary) {
		c.TrackSearch(SearchEvent{
			Mode:         s.Mode,
			Query:        s.Pattern,
			Files:        s.Files,
			MatchedFiles: s.MatchedFiles,
			Occurrences:  s.Occurrences,
			BytesScanned: s.BytesScanned,
			Pruned:       s.Pruned,
			LatencyMs:    s.Duration.Milliseconds(),
			Failed:       s.Err != nil,
			Timestamp:    time.Now().UTC(),
			RequestID:    logger.RequestID(ctx),
		})
	}
}

// CatalogListener returns a catalog.Listener that records every change.
func (c *Collector) CatalogListener() catalog.Listener {
	return func(ctx context.Context, ch catalog.Change) {
		c.TrackCatalog(CatalogEvent{
			Op:        string(ch.Op),
			FileName:  ch.Name,
			Pruned:    ch.Pruned,
			Timestamp: time.Now().UTC(),
			RequestID: logger.RequestID(ctx),
		})
	}
}

func (c *Collector) publish(ctx context.Context, env envelope) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	send := func() error { return env.pub.Publish(ctx, env.event) }
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(send)
	} else {
		err = send()
	}
	switch {
	case err == nil:
	case errors.Is(err, resilience.ErrCircuitOpen):
		c.logger.Debug("analytics event dropped (circuit open)", "key", env.event.Key)
	default:
		c.logger.Error("failed to publish analytics event", "key", env.event.Key, "error", err)
	}
}

func (c *Collector) drainRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	for {
		select {
		case env := <-c.eventCh:
			c.publish(ctx, env)
		default:
			return
		}
	}
}
