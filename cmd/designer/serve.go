package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/designer/internal/config"
	"github.com/pitabwire/designer/internal/definition"
	"github.com/pitabwire/designer/internal/designer"
	"github.com/pitabwire/designer/internal/domainstore"
	"github.com/pitabwire/designer/internal/observability"
	"github.com/pitabwire/designer/internal/transport"
	"github.com/pitabwire/designer/model"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the designer HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "designer", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	defs, err := loadDefinitions(cfg.Definitions.Directories)
	if err != nil {
		return err
	}
	registry := definition.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(float64(registry.Len()))

	store, storeCloser, err := buildDomainStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	if storeCloser != nil {
		defer storeCloser()
	}

	idemStore, idemCloser := buildIdempotencyStore(cfg.Idempotency, logger)
	if idemCloser != nil {
		defer idemCloser()
	}

	opts := []designer.Option{
		designer.WithMetrics(metrics),
		designer.WithLogger(logger),
		designer.WithIdleTimeout(cfg.Designer.SessionIdleTimeout),
		designer.WithSaveTimeout(cfg.Designer.SaveTimeout),
		designer.WithMaxSessions(cfg.Designer.MaxSessions),
	}
	if idemStore != nil {
		opts = append(opts, designer.WithIdempotencyStore(idemStore, cfg.Idempotency.Store.DefaultTTL))
	}
	manager := designer.NewManager(registry, store, store, opts...)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL,
		transport.WithJWKSLogger(logger))

	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return registry.Len() > 0 },
		DomainStore:       store,
	}
	if idemStore != nil {
		readiness.IdempotencyStore = idemStore
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:         cfg,
		Logger:         logger,
		Authenticate:   transport.JWTAuthenticator(cfg.Identity, jwks),
		Designers:      manager,
		Metrics:        metrics,
		HealthHandler:  observability.HandleHealth(),
		ReadyHandler:   observability.HandleReady(readiness),
		MetricsHandler: observability.Handler(),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go runSessionSweeper(bgCtx, manager, cfg.Designer.SweepInterval, logger)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", registry.Len()),
		zap.String("definitions_checksum", registry.Checksum()),
		zap.String("store", cfg.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Drain in-flight requests before the stores close.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	bgCancel()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete", zap.Int("open_sessions", manager.Len()))
	return nil
}

// loadDefinitions loads and validates every designer definition under dirs.
func loadDefinitions(dirs []string) ([]model.DesignerDefinition, error) {
	defs, err := definition.NewLoader().LoadAll(dirs)
	if err != nil {
		return nil, fmt.Errorf("definition loading failed: %w", err)
	}
	if verrs := definition.NewValidator().Validate(defs); len(verrs) > 0 {
		return nil, fmt.Errorf("definition validation failed: %w", errors.Join(verrsToErrors(verrs)...))
	}
	return defs, nil
}

func verrsToErrors(verrs []definition.VError) []error {
	errs := make([]error, len(verrs))
	for i, ve := range verrs {
		errs[i] = ve
	}
	return errs
}

// buildDomainStore creates the domain store based on config. The returned
// closer is nil for the in-memory store.
func buildDomainStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (domainstore.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory domain store")
		return domainstore.NewMemoryStore(), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" && cfg.DSNEnv != "" {
			return nil, nil, fmt.Errorf("domain store: %s environment variable not set", cfg.DSNEnv)
		}
		if dsn == "" {
			logger.Warn("domain store DSN not configured, using in-memory store")
			return domainstore.NewMemoryStore(), nil, nil
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("domain store: parse DSN: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			poolCfg.MinConns = int32(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("domain store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("domain store: ping: %w", err)
		}

		store := domainstore.NewPgStore(pool)
		if cfg.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("domain store: migrate: %w", err)
			}
		}
		logger.Info("using postgres domain store", zap.Int32("max_conns", poolCfg.MaxConns))
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported domain store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns a nil store when idempotency is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (designer.IdempotencyStore, func()) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Store.Driver {
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			logger.Warn("idempotency redis address not configured, using in-memory store",
				zap.String("addr_env", cfg.Store.AddrEnv))
			return designer.NewMemoryIdempotencyStore(), nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		logger.Info("using redis idempotency store", zap.String("addr", addr), zap.Int("db", cfg.Store.DB))
		return designer.NewRedisIdempotencyStore(client), func() {
			if err := client.Close(); err != nil {
				logger.Error("redis close error", zap.Error(err))
			}
		}
	default:
		logger.Info("using in-memory idempotency store")
		return designer.NewMemoryIdempotencyStore(), nil
	}
}

// runSessionSweeper periodically drops designer sessions that have been idle
// past the configured timeout.
func runSessionSweeper(ctx context.Context, manager *designer.Manager, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := manager.SweepIdle(ctx)
			logger.Debug("session sweep", zap.Int("closed", n), zap.Int("open", manager.Len()))
		}
	}
}
