package predict

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/quotagate/pkg/async"
	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/subscription"
)

// QuotaMeter checks and consumes subscription quota
type QuotaMeter interface {
	CheckQuota(ctx context.Context, userID int64) (*subscription.QuotaStatus, error)
	IncrementUsage(ctx context.Context, subscriptionID int64) error
}

// UsageRecorder stores the usage log
type UsageRecorder interface {
	RecordUsage(ctx context.Context, entry *ledger.UsageLog) error
}

// Service runs metered predictions
type Service struct {
	quota      QuotaMeter
	usage      UsageRecorder
	classifier Classifier
	now        func() time.Time
	pending    sync.WaitGroup
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics the service records into
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithClock overrides the clock used to time classifications
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a prediction service
func NewService(quota QuotaMeter, usage UsageRecorder, classifier Classifier, opts ...Option) *Service {
	s := &Service{
		quota:      quota,
		usage:      usage,
		classifier: classifier,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.OrDefault()
	if s.metrics == nil {
		s.metrics = observability.NewNopMetrics()
	}
	return s
}

const usageLogTimeout = 5 * time.Second

// Wait blocks until pending usage log writes have finished
func (s *Service) Wait() {
	s.pending.Wait()
}

// Predict classifies image for userID and consumes one call of quota. Nothing
// is consumed when the quota check, the threshold or the classification fails.
func (s *Service) Predict(ctx context.Context, userID int64, image []byte, threshold float64) (pred *Prediction, err error) {
	ctx, span := observability.Tracer().Start(ctx, "predict.predict")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.Int64("user.id", userID))

	logger := observability.FromContext(ctx, s.logger).WithField("user_id", userID)

	quota, err := s.quota.CheckQuota(ctx, userID)
	if errors.Is(err, subscription.ErrNoActiveSubscription) {
		s.metrics.PredictionsTotal.WithLabelValues("denied").Inc()
		return nil, ledger.Detailf(ErrQuotaExceeded, "No active subscription")
	}
	if err != nil {
		s.metrics.PredictionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if !quota.Allowed {
		s.metrics.PredictionsTotal.WithLabelValues("denied").Inc()
		return nil, ledger.Detailf(ErrQuotaExceeded, "%s", quota.Reason)
	}

	if threshold <= 0 || threshold >= 1 {
		s.metrics.PredictionsTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidThreshold
	}

	start := s.now()
	res, err := s.classifier.Predict(ctx, image, threshold)
	if err != nil {
		if ledger.IsClientError(err) {
			s.metrics.PredictionsTotal.WithLabelValues("invalid").Inc()
		} else {
			s.metrics.PredictionsTotal.WithLabelValues("error").Inc()
			logger.WithError(err).Error("Inference failed")
		}
		return nil, err
	}
	elapsed := s.now().Sub(start)

	if err := s.quota.IncrementUsage(ctx, quota.SubscriptionID); err != nil {
		s.metrics.PredictionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	// the call is already metered; the log entry is written off the request path
	entry := &ledger.UsageLog{
		UserID:         userID,
		Endpoint:       usageEndpoint,
		Method:         usageMethod,
		StatusCode:     200,
		ResponseTimeMs: float64(elapsed.Microseconds()) / 1000,
	}
	s.pending.Add(1)
	async.SafeGo(observability.WithLogger(context.WithoutCancel(ctx), logger), usageLogTimeout, "usage log", func(ctx context.Context) error {
		defer s.pending.Done()
		return s.usage.RecordUsage(ctx, entry)
	})

	s.metrics.PredictionsTotal.WithLabelValues("ok").Inc()
	remaining := quota.Remaining - 1
	if remaining < 0 {
		remaining = 0
	}
	return &Prediction{Result: *res, QuotaRemaining: remaining}, nil
}
