package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/observability"
)

const (
	// DefaultSchedule runs the report every quarter hour
	DefaultSchedule = "@every 15m"

	// DefaultStaleAfter is how long a top-up may stay pending before it is reported
	DefaultStaleAfter = time.Hour

	runTimeout = 30 * time.Second
)

// PendingLister finds top-ups still waiting for a provider callback
type PendingLister interface {
	StalePendingTopups(ctx context.Context, olderThan time.Time) ([]*ledger.Transaction, error)
}

// Report is the outcome of one reconciliation run
type Report struct {
	Stale  []*ledger.Transaction
	Amount ledger.Money
	Oldest time.Duration
}

// Reconciler periodically reports top-ups whose IPN never arrived. It only
// reads: stale rows are left pending for manual inspection.
type Reconciler struct {
	store      PendingLister
	schedule   string
	staleAfter time.Duration
	log        *logrus.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithSchedule sets the cron spec, e.g. "@every 15m" or "*/10 * * * *"
func WithSchedule(spec string) Option {
	return func(r *Reconciler) { r.schedule = spec }
}

// WithStaleAfter sets the pending age at which a top-up is reported
func WithStaleAfter(d time.Duration) Option {
	return func(r *Reconciler) { r.staleAfter = d }
}

// WithMetrics sets the metrics the stale gauge is written to
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Reconciler) { r.metrics = metrics }
}

// WithClock overrides the clock used to compute ages
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a reconciler. A nil log uses a default logrus logger.
func New(store PendingLister, log *logrus.Logger, opts ...Option) *Reconciler {
	if log == nil {
		log = logrus.New()
	}
	r := &Reconciler{
		store:      store,
		schedule:   DefaultSchedule,
		staleAfter: DefaultStaleAfter,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observability.NewNopMetrics()
	}
	if r.staleAfter <= 0 {
		r.staleAfter = DefaultStaleAfter
	}
	return r
}

// RunOnce lists stale pending top-ups, logs each one and updates the gauge
func (r *Reconciler) RunOnce(ctx context.Context) (*Report, error) {
	now := r.now()
	stale, err := r.store.StalePendingTopups(ctx, now.Add(-r.staleAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale top-ups: %w", err)
	}

	report := &Report{Stale: stale}
	for _, txn := range stale {
		age := now.Sub(txn.CreatedAt)
		report.Amount += txn.Amount
		if age > report.Oldest {
			report.Oldest = age
		}
		r.log.WithFields(logrus.Fields{
			"transaction_id": txn.ID,
			"user_id":        txn.UserID,
			"request_id":     txn.ProviderRequestID,
			"amount":         int64(txn.Amount),
			"age":            age.Round(time.Second).String(),
		}).Warn("Top-up still pending")
	}
	r.metrics.StalePendingTopups.Set(float64(len(stale)))

	entry := r.log.WithFields(logrus.Fields{
		"stale":       len(stale),
		"stale_after": r.staleAfter.String(),
	})
	if len(stale) == 0 {
		entry.Debug("No stale top-ups")
	} else {
		entry.WithField("amount", int64(report.Amount)).Infof("Found %d stale top-ups", len(stale))
	}
	return report, nil
}

// Start schedules RunOnce. It returns an error when the schedule does not parse.
func (r *Reconciler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("reconciler already started")
	}

	logger := cron.PrintfLogger(r.log)
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	_, err := c.AddFunc(r.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.WithError(err).Error("Reconciliation failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", r.schedule, err)
	}

	c.Start()
	r.cron = c
	r.log.WithField("schedule", r.schedule).Info("Reconciler started")
	return nil
}

// Stop stops scheduling and waits for a running job until ctx is done
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		r.log.Info("Reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
