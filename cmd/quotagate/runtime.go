package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/quotagate/pkg/config"
	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/reconcile"
)

// loadConfig reads the configuration and builds the process logger
func loadConfig() (*config.Config, *observability.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, observability.NewLogger(cfg.Observability.Level(), os.Stdout), nil
}

// openLedger connects to the configured database and applies the schema
func openLedger(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*ledger.SQLStore, error) {
	store, err := ledger.Open(ctx, cfg.Database.Ledger())
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}
	logger.WithField("dialect", string(store.Dialect())).Info("Ledger ready")
	return store, nil
}

// newReconciler builds the stale top-up reporter. It logs through logrus in
// JSON so its lines can be routed apart from the request log.
func newReconciler(cfg *config.Config, store reconcile.PendingLister, metrics *observability.Metrics) *reconcile.Reconciler {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel); err == nil {
		log.SetLevel(level)
	}
	return reconcile.New(store, log,
		reconcile.WithSchedule(cfg.Reconcile.Schedule),
		reconcile.WithStaleAfter(cfg.Reconcile.StaleAfter),
		reconcile.WithMetrics(metrics),
	)
}
