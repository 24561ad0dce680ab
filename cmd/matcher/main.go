package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medassist-io/codematch/internal/analytics"
	"github.com/medassist-io/codematch/internal/corpus"
	"github.com/medassist-io/codematch/internal/matcher"
	"github.com/medassist-io/codematch/internal/matcher/cache"
	"github.com/medassist-io/codematch/internal/matcher/handler"
	"github.com/medassist-io/codematch/pkg/config"
	"github.com/medassist-io/codematch/pkg/health"
	"github.com/medassist-io/codematch/pkg/kafka"
	"github.com/medassist-io/codematch/pkg/logger"
	"github.com/medassist-io/codematch/pkg/metrics"
	"github.com/medassist-io/codematch/pkg/middleware"
	"github.com/medassist-io/codematch/pkg/postgres"
	pkgredis "github.com/medassist-io/codematch/pkg/redis"
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
	slog.Info("starting matcher service", "port", cfg.Server.Port)

	var m *metrics.Metrics
	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()
	slog.Info("postgres connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

	corpusStore := corpus.NewStore(corpus.NewPostgresLoader(pg), cfg.Matching.CorpusTTL, m)

	var backend cache.Backend
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, using in-process result cache", "error", err)
		backend = cache.NewMemory()
	} else {
		defer redisClient.Close()
		backend = cache.NewRedisBackend(redisClient)
		slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}
	results := cache.NewStore(backend, cfg.Redis.CacheTTL, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.MatchEvents)
	defer eventsProducer.Close()
	collector := analytics.NewCollector(eventsProducer, 10000)
	collector.Start(ctx)
	defer collector.Close()
	slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.MatchEvents)

	aggregator := analytics.NewAggregator()
	eventsConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.MatchEvents, analytics.HandleEvent(aggregator))
	analyticsH := analytics.NewHandler(aggregator)
	go func() {
		if err := eventsConsumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()

	svc := matcher.NewService(corpusStore, results, cfg.Matching, m, collector)

	invalidateProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CorpusInvalidate)
	defer invalidateProducer.Close()
	broadcast := func(ctx context.Context) error {
		return invalidateProducer.Publish(ctx, kafka.Event{
			Key: "invalidate",
			Value: map[string]string{
				"at": time.Now().UTC().Format(time.RFC3339),
			},
		})
	}
	invalidateConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CorpusInvalidate,
		func(ctx context.Context, key, value []byte) error {
			slog.Info("corpus invalidation received")
			return svc.InvalidateCorpus(ctx)
		})
	go func() {
		if err := invalidateConsumer.Start(ctx); err != nil {
			slog.Error("invalidation consumer error", "error", err)
		}
	}()

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := pg.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("corpus", func(ctx context.Context) health.ComponentHealth {
		snap := corpusStore.Snapshot(ctx)
		if snap.Unavailable {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "reference data unavailable"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d entries", snap.Size()),
		}
	})

	h := handler.New(svc, broadcast)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/analytics", analyticsH.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
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
		if metricsShutdown != nil {
			if err := metricsShutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("matcher service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("matcher service stopped")
}
