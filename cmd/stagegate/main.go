// Package main is the entry point for the stagegate review server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/stagegate/internal/config"
	"github.com/pitabwire/stagegate/internal/definition"
	"github.com/pitabwire/stagegate/internal/directory"
	"github.com/pitabwire/stagegate/internal/maintenance"
	"github.com/pitabwire/stagegate/internal/notify"
	"github.com/pitabwire/stagegate/internal/observability"
	"github.com/pitabwire/stagegate/internal/transport"
	"github.com/pitabwire/stagegate/internal/workflow"
	"github.com/pitabwire/stagegate/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "stagegate", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Load workflow definitions and refuse to start on an invalid set: a
	// server with broken definitions would strand every item it touches.
	loader := definition.NewLoader()
	defs, err := loader.LoadAll(cfg.Workflows.Directories)
	if err != nil {
		logger.Error("workflow definition loading failed", zap.Error(err))
		return 1
	}

	validator := definition.NewValidator()
	if verrs := validator.Validate(defs); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("workflow definition invalid", zap.String("error", ve.Error()))
		}
		return 1
	}

	store, storeCloser, err := buildStore(ctx, cfg.Store, defs, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	dir, err := buildDirectory(cfg.Directory, logger)
	if err != nil {
		logger.Error("directory initialization failed", zap.Error(err))
		return 1
	}

	dispatcher := buildDispatcher(cfg.Notifier, metrics, logger)

	engine := workflow.NewEngine(store, dir, dispatcher, logger)
	maintSvc := maintenance.NewService(store, dir, logger)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readiness := observability.ReadinessChecks{
		WorkflowsLoaded: func() bool { return len(defs) > 0 },
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readiness.Store = hc
	}
	if hc, ok := dir.(observability.HealthChecker); ok {
		readiness.Directory = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Engine:       engine,
		Maintenance:  maintSvc,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Readiness:    readiness,
	})

	metrics.SetWorkflowsLoaded(float64(len(defs)))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("workflows", len(defs)),
		zap.String("store", cfg.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if storeCloser != nil {
		storeCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStore creates the item store per config and seeds the loaded
// workflow definitions into it.
func buildStore(ctx context.Context, cfg config.StoreConfig, defs []model.WorkflowDefinition, logger *zap.Logger) (workflow.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory item store")
		store := workflow.NewMemoryStore()
		for _, def := range defs {
			store.PutDefinition(def)
		}
		return store, nil, nil

	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxConns)
		poolCfg.MinConns = int32(cfg.MinConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("store: ping: %w", err)
		}

		store := workflow.NewPgStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := store.SeedDefinitions(ctx, defs); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildDirectory creates the role membership directory. The static file
// backend is wrapped in a TTL cache so hot transition paths do not re-read
// grants on every eligibility check.
func buildDirectory(cfg config.DirectoryConfig, logger *zap.Logger) (directory.Directory, error) {
	static, err := directory.NewStatic(cfg.GrantsFile)
	if err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}
	logger.Info("directory loaded", zap.String("grants_file", cfg.GrantsFile))
	if cfg.Cache.TTL > 0 {
		return directory.NewCached(static, cfg.Cache.TTL), nil
	}
	return static, nil
}

// buildDispatcher creates the reviewer notification dispatcher. The webhook
// driver sits behind a circuit breaker so a dead notification endpoint
// cannot slow down transitions.
func buildDispatcher(cfg config.NotifierConfig, metrics *observability.Metrics, logger *zap.Logger) notify.Dispatcher {
	switch cfg.Driver {
	case "webhook":
		breaker := notify.NewCircuitBreaker(
			cfg.CircuitBreaker.FailureThreshold,
			cfg.CircuitBreaker.SuccessThreshold,
			cfg.CircuitBreaker.Timeout,
		)
		dispatcher := notify.NewBreakerDispatcher(
			notify.NewWebhookDispatcher(cfg.WebhookURL, cfg.Timeout),
			breaker,
		)
		return &meteredDispatcher{inner: dispatcher, metrics: metrics}
	default:
		return notify.NewLogDispatcher(logger)
	}
}

// meteredDispatcher reports notification outcomes and the breaker state.
type meteredDispatcher struct {
	inner   *notify.BreakerDispatcher
	metrics *observability.Metrics
}

func (d *meteredDispatcher) Notify(ctx context.Context, userIDs []string, event string, payload map[string]any) error {
	err := d.inner.Notify(ctx, userIDs, event, payload)
	status := "ok"
	if err != nil {
		status = "error"
	}
	d.metrics.RecordNotification(event, status)
	d.metrics.SetNotifierBreakerState(float64(d.inner.State()))
	return err
}
