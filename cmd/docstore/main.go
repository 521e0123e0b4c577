// Command docstore runs the document storage service: chunked uploads,
// the file catalog, streaming byte search, analytics, and the JSON-over-TCP
// command port.
//
// Usage:
//
//	go run ./cmd/docstore [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/analytics/snapshot"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog"
	cataloghandler "github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog/handler"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/router"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/rpcapi"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/search"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/search/cache"
	searchhandler "github.com/Adithya-Monish-Kumar-K/docstore/internal/search/handler"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/upload"
	uploadhandler "github.com/Adithya-Monish-Kumar-K/docstore/internal/upload/handler"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docstore/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/rpc"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting docstore",
		"port", cfg.Server.Port,
		"upload_root", cfg.Storage.UploadRoot,
		"catalog", cfg.Catalog.Driver,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	checker := health.NewChecker()

	// Catalog
	backend, err := openCatalog(ctx, cfg)
	if err != nil {
		slog.Error("failed to open catalog", "driver", cfg.Catalog.Driver, "error", err)
		os.Exit(1)
	}
	defer backend.Close()
	store := catalog.NewNotifying(backend.store)
	checker.Register("catalog", health.PingCheck(store, true))
	checker.Register("upload_root", health.DirWritableCheck(cfg.Storage.UploadRoot))

	// Search
	engine := search.NewEngine(store, cfg.Search, m)
	var searcher interface {
		Search(ctx context.Context, pattern string) ([]search.FileMatch, error)
	} = engine

	var cacheHandler *cache.Handler
	if cfg.Redis.Addr != "" {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache := cache.New(redisClient, engine, store, cfg.Redis.CacheTTL, m)
			store.Subscribe(invalidateOnChange(queryCache))
			searcher = queryCache
			cacheHandler = cache.NewHandler(queryCache)
			checker.Register("redis", health.PingCheck(redisClient, false))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	// Analytics
	aggregator := analytics.NewAggregator()
	collector, closePublishers := newCollector(ctx, cfg, aggregator, m, checker)
	defer closePublishers()
	collector.Start(ctx)
	defer collector.Close()
	engine.Observe(collector.SearchObserver())
	store.Subscribe(collector.CatalogListener())

	var snapshotHandler *snapshot.Handler
	if backend.snapshots != nil && cfg.Analytics.SnapshotInterval > 0 {
		go backend.snapshots.Run(ctx, aggregator, cfg.Analytics.SnapshotInterval)
		snapshotHandler = snapshot.NewHandler(backend.snapshots)
	}

	// Uploads
	assembler, err := upload.New(cfg.Storage, cfg.Assembler, store, m)
	if err != nil {
		slog.Error("failed to create assembler", "error", err)
		os.Exit(1)
	}
	assembler.Start(ctx)
	defer assembler.Close()

	// Command port
	if cfg.RPC.Port > 0 {
		rpcServer := rpc.NewServer()
		rpcapi.NewService(store, searcher).Register(rpcServer)
		go func() {
			if err := rpcServer.Serve(ctx, fmt.Sprintf(":%d", cfg.RPC.Port)); err != nil {
				slog.Error("rpc server error", "error", err)
			}
		}()
		defer rpcServer.Stop()
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdownMetrics(context.Background())
	}

	limiter := ratelimit.New(cfg.RateLimit.UploadsPerWindow, cfg.RateLimit.Window)
	go limiter.Run(ctx, cfg.RateLimit.Window)

	handler := router.New(router.Handlers{
		Upload:    uploadhandler.New(assembler, cfg.Storage.MaxChunkBytes, cfg.Storage.MaxUploadBytes),
		Catalog:   cataloghandler.New(store),
		Search:    searchhandler.New(searcher, engine, cfg.Search.StreamBuffer, middleware.AllowOrigin(cfg.CORS)),
		Analytics: analytics.NewHandler(aggregator),
		Snapshots: snapshotHandler,
		Cache:     cacheHandler,
		Health:    checker,
	}, router.Options{
		CORS:           cfg.CORS,
		Limiter:        limiter,
		RequestTimeout: cfg.Server.RequestTimeout,
		Metrics:        m,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("docstore listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("docstore stopped")
}

// invalidateOnChange drops cached search results after any catalog change.
// Results stop being served immediately; the Redis scan that reclaims the
// keys runs in the background.
func invalidateOnChange(c *cache.QueryCache) catalog.Listener {
	return func(ctx context.Context, ch catalog.Change) {
		c.Expire()
		go func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := c.Invalidate(ctx); err != nil {
				slog.Warn("cache invalidation failed", "file_name", ch.Name, "op", ch.Op, "error", err)
			}
		}()
	}
}

// newCollector publishes analytics to Kafka when brokers are configured,
// consuming the same topics into aggregator; otherwise events go straight
// to aggregator. The returned func closes the producers and must run after
// the collector is closed.
func newCollector(ctx context.Context, cfg *config.Config, aggregator *analytics.Aggregator, m *metrics.Metrics, checker *health.Checker) (*analytics.Collector, func()) {
	if len(cfg.Kafka.Brokers) == 0 {
		local := analytics.NewLocalPublisher(aggregator)
		slog.Info("kafka not configured, aggregating analytics in process")
		return analytics.NewCollector(local, local, cfg.Analytics.BufferSize, nil), func() {}
	}

	breaker := resilience.NewCircuitBreaker("kafka-analytics", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	searchProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
	catalogProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CatalogEvents)
	closeProducers := func() {
		for _, p := range []*kafka.Producer{searchProducer, catalogProducer} {
			if err := p.Close(); err != nil {
				slog.Error("closing kafka producer", "topic", p.Topic(), "error", err)
			}
		}
	}

	handle := analytics.HandleEvent(aggregator)
	for _, topic := range []string{cfg.Kafka.Topics.SearchEvents, cfg.Kafka.Topics.CatalogEvents} {
		consumer := kafka.NewConsumer(cfg.Kafka, topic, "", handle)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("analytics consumer error", "topic", topic, "error", err)
			}
		}()
	}

	brokers := cfg.Kafka.Brokers
	checker.Register("kafka", health.PingCheck(health.PingFunc(func(ctx context.Context) error {
		return kafka.Ping(ctx, brokers)
	}), false))
	slog.Info("analytics publishing to kafka",
		"search_topic", cfg.Kafka.Topics.SearchEvents,
		"catalog_topic", cfg.Kafka.Topics.CatalogEvents,
	)
	return analytics.NewCollector(searchProducer, catalogProducer, cfg.Analytics.BufferSize, breaker), closeProducers
}
