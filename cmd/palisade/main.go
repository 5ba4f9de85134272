// Command palisade serves the data-scope authorization engine: effective
// permission resolution over HTTP, event-driven cache invalidation, and the
// expired-grant sweeper.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/palisade/pkg/authz"
	"github.com/platinummonkey/palisade/pkg/cache"
	"github.com/platinummonkey/palisade/pkg/config"
	"github.com/platinummonkey/palisade/pkg/events"
	"github.com/platinummonkey/palisade/pkg/observability"
	"github.com/platinummonkey/palisade/pkg/orgs"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := authz.Migrate(ctx, db); err != nil {
		log.Fatalf("Failed to run grant migrations: %v", err)
	}
	orgStore := orgs.NewStore(db)
	if err := orgStore.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run organization migrations: %v", err)
	}

	store, redisClient, err := openCache(cfg.Cache, logger)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	repo := authz.NewSQLRepository(db)
	resolverOpts := []authz.ResolverOption{
		authz.WithCacheTTL(cfg.Cache.TTL),
		authz.WithOrganizations(orgStore),
	}
	invalidatorOpts := []authz.InvalidatorOption{}
	sweeperOpts := []authz.SweeperOption{
		authz.WithSweepSchedule(cfg.Sweeper.Schedule),
		authz.WithSweepTimeout(cfg.Sweeper.Timeout),
	}
	if metrics != nil {
		resolverOpts = append(resolverOpts, authz.WithMetrics(metrics))
		invalidatorOpts = append(invalidatorOpts, authz.WithInvalidatorMetrics(metrics))
		sweeperOpts = append(sweeperOpts, authz.WithSweeperMetrics(metrics))
	}
	resolver := authz.NewResolver(repo, store, logger, resolverOpts...)

	bus := events.NewBus(cfg.Events.Buffer, logrus.StandardLogger(),
		events.WithMaxAttempts(cfg.Events.MaxAttempts),
		events.WithRetryDelay(cfg.Events.RetryDelay),
	)
	bus.Subscribe(authz.NewInvalidator(repo, store, logger, invalidatorOpts...))
	bus.Start(ctx, cfg.Events.Workers)

	sweeper := authz.NewSweeper(repo, store, logger, sweeperOpts...)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatalf("Failed to start expired-grant sweeper: %v", err)
	}

	router := mux.NewRouter()
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	authz.NewHandlers(resolver).RegisterRoutes(router)
	events.NewHandlers(bus).RegisterRoutes(router)

	var handler http.Handler = router
	if tp != nil {
		handler = otelhttp.NewHandler(router, "palisade")
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      healthMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if metrics != nil {
		go collectDBStats(ctx, db, metrics)
	}

	sm := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	sm.Register(func(shutdownCtx context.Context) error {
		return healthServer.Shutdown(shutdownCtx)
	})
	sm.Register(func(context.Context) error {
		sweeper.Stop()
		return nil
	})
	sm.Register(func(context.Context) error {
		bus.Close()
		return nil
	})
	sm.Register(func(context.Context) error {
		return store.Close()
	})
	sm.Register(func(context.Context) error {
		return db.Close()
	})
	if tp != nil {
		sm.Register(func(shutdownCtx context.Context) error {
			return tp.Shutdown(shutdownCtx)
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		logger.Info("starting authorization server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("starting health server", "addr", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})

	if err := sm.Wait(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
	}
	cancel()
	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// openDatabase connects to PostgreSQL and verifies the connection.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// openCache builds the resolution cache. Redis when configured, otherwise
// the in-process LRU for single-instance deployments.
func openCache(cfg config.CacheConfig, logger *observability.Logger) (cache.Cache, *redis.Client, error) {
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return rc, rc.Client(), nil
	}

	logger.Warn("redis not configured, using in-process cache; invalidation will not reach other instances")
	mc, err := cache.NewMemoryCache(cfg.MemorySize)
	if err != nil {
		return nil, nil, err
	}
	return mc, nil, nil
}

// collectDBStats exports connection pool gauges until the context ends.
func collectDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		}
	}
}
