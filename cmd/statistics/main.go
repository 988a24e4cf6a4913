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

	apihandler "github.com/dspace-analytics/statistics-api/internal/api/handler"
	"github.com/dspace-analytics/statistics-api/internal/api/router"
	"github.com/dspace-analytics/statistics-api/internal/catalog"
	"github.com/dspace-analytics/statistics-api/internal/overview"
	"github.com/dspace-analytics/statistics-api/internal/solr"
	"github.com/dspace-analytics/statistics-api/internal/statistics"
	"github.com/dspace-analytics/statistics-api/pkg/config"
	"github.com/dspace-analytics/statistics-api/pkg/health"
	"github.com/dspace-analytics/statistics-api/pkg/logger"
	"github.com/dspace-analytics/statistics-api/pkg/metrics"
	"github.com/dspace-analytics/statistics-api/pkg/postgres"
	pkgredis "github.com/dspace-analytics/statistics-api/pkg/redis"
	"github.com/dspace-analytics/statistics-api/pkg/resilience"
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
	slog.Info("starting statistics service",
		"port", cfg.Server.Port,
		"solr", cfg.Solr.BaseURL,
		"protocol", cfg.Solr.Protocol,
	)

	// Postgres tends to come up after the API in container deployments.
	var db *postgres.Client
	err = resilience.Retry(context.Background(), "postgres-connect", resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Second,
	}, func() error {
		var err error
		db, err = postgres.New(cfg.Postgres)
		return err
	})
	if err != nil {
		slog.Error("failed to connect to catalog database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("catalog database connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

	var redisClient *pkgredis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, response caching disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			slog.Info("response cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	solrClient := solr.New(cfg.Solr, m)
	repo := catalog.NewRepository(db, cfg.DSpace)

	statsService, err := statistics.NewService(cfg, repo, solrClient, redisClient, m)
	if err != nil {
		slog.Error("failed to build statistics service", "error", err)
		os.Exit(1)
	}
	overviewService := overview.NewService(cfg.Solr, solrClient)

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := db.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("solr", func(ctx context.Context) health.ComponentHealth {
		if err := solrClient.Ping(ctx, cfg.Solr.StatisticsCore); err != nil {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	h := apihandler.New(statsService, overviewService)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.New(h, checker, m, cfg.Auth.APIKey, cfg.Server.WriteTimeout),
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

	slog.Info("statistics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("statistics service stopped")
}
