package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/quotagate/pkg/api"
	"github.com/platinummonkey/quotagate/pkg/auth"
	"github.com/platinummonkey/quotagate/pkg/config"
	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/middleware"
	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/payment"
	"github.com/platinummonkey/quotagate/pkg/predict"
	"github.com/platinummonkey/quotagate/pkg/settlement"
	"github.com/platinummonkey/quotagate/pkg/sso"
	"github.com/platinummonkey/quotagate/pkg/subscription"
)

const dbStatsInterval = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(map[string]interface{}{
		"version": Version,
		"commit":  GitCommit,
	}).Infof("Starting %s", config.AppName)

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown.Register("otel", providers.Shutdown)

	store, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	shutdown.Register("database", func(context.Context) error { return store.Close() })

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			shutdown.Shutdown(context.Background())
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	go recordDBStats(ctx, store, metrics)

	services, predictor, err := buildServices(ctx, cfg, store, logger, metrics)
	if err != nil {
		shutdown.Shutdown(context.Background())
		return err
	}
	shutdown.Register("usage log", func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			predictor.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if cfg.Reconcile.Enabled {
		reconciler := newReconciler(cfg, store, metrics)
		if err := reconciler.Start(); err != nil {
			shutdown.Shutdown(context.Background())
			return err
		}
		shutdown.Register("reconciler", reconciler.Stop)
	}

	health := observability.NewHealthChecker(store.DB(), redisClient, Version)
	apiCfg := api.Config{
		AppName:     config.AppName,
		Version:     Version,
		AppURL:      cfg.Server.AppURL,
		CORSOrigins: cfg.Server.CORSOrigins,
		Health:      health,
		Metrics:     metrics,
		Logger:      logger,
	}
	if cfg.Observability.MetricsEnabled {
		apiCfg.Gatherer = registry
	}
	if cfg.RateLimit.Enabled {
		apiCfg.AuthLimiter, apiCfg.TopupLimiter = newLimiters(ctx, cfg, redisClient)
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(apiCfg, services),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter(health, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdown.Register("health server", healthServer.Shutdown)
	shutdown.Register("api server", apiServer.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		return listen(apiServer)
	})
	g.Go(func() error {
		logger.Infof("Health and metrics server listening on %s", healthServer.Addr)
		return listen(healthServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})
	return g.Wait()
}

// buildServices wires the domain services onto one ledger store
func buildServices(ctx context.Context, cfg *config.Config, store ledger.Store, logger *observability.Logger, metrics *observability.Metrics) (api.Services, *predict.Service, error) {
	catalogue, err := cfg.Plans.Catalogue()
	if err != nil {
		return api.Services{}, nil, err
	}
	engine := subscription.NewEngine(store, catalogue,
		subscription.WithLogger(logger),
		subscription.WithMetrics(metrics),
	)

	authOpts := []auth.Option{auth.WithLogger(logger)}
	provider, err := sso.NewProvider(ctx, cfg.Auth.SSO())
	switch {
	case errors.Is(err, sso.ErrNotConfigured):
		logger.Info("Google login is not configured")
	case err != nil:
		return api.Services{}, nil, fmt.Errorf("failed to set up Google login: %w", err)
	default:
		authOpts = append(authOpts, auth.WithIdentityProvider(provider))
	}
	accounts := auth.NewService(store, engine,
		auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL),
		authOpts...,
	)

	classifier := predict.NewCachedClassifier(
		predict.NewHTTPClassifier(cfg.Predict),
		cfg.Predict.CacheSize, cfg.Predict.CacheTTL, metrics,
	)
	predictor := predict.NewService(engine, store, classifier,
		predict.WithLogger(logger),
		predict.WithMetrics(metrics),
	)

	return api.Services{
		Accounts:      accounts,
		Subscriptions: engine,
		Payments:      payment.NewMoMoClient(store, cfg.MoMo, payment.WithLogger(logger), payment.WithMetrics(metrics)),
		Webhooks:      settlement.NewProcessor(store, cfg.MoMo, settlement.WithLogger(logger), settlement.WithMetrics(metrics)),
		Predictor:     predictor,
		Transactions:  store,
	}, predictor, nil
}

// newLimiters shares limits through Redis when it is configured and keeps
// them in process otherwise
func newLimiters(ctx context.Context, cfg *config.Config, client *redis.Client) (authLimiter, topupLimiter middleware.Limiter) {
	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.Requests,
		WindowDuration:    cfg.RateLimit.Window,
	}
	if client != nil {
		return middleware.NewDistributedRateLimiter(client, limits, "quotagate:ratelimit:auth"),
			middleware.NewDistributedRateLimiter(client, limits, "quotagate:ratelimit:topup")
	}

	perIP := middleware.NewRateLimiter(limits)
	perIP.StartCleanup(ctx)
	perUser := middleware.NewRateLimiter(limits)
	perUser.StartCleanup(ctx)
	return perIP, perUser
}

func healthRouter(health *observability.HealthChecker, gatherer prometheus.Gatherer) http.Handler {
	router := mux.NewRouter()
	health.RegisterRoutes(router)
	router.Handle("/metrics", observability.MetricsHandler(gatherer)).Methods(http.MethodGet)
	return router
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
	}
	return nil
}

func recordDBStats(ctx context.Context, store *ledger.SQLStore, metrics *observability.Metrics) {
	defer observability.RecoverPanic(nil, "db-stats")
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metrics.RecordDBStats(store.DB().Stats())
		case <-ctx.Done():
			return
		}
	}
}
