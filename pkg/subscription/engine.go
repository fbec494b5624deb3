package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/observability"
)

// DefaultPeriod is how long a purchased plan lasts
const DefaultPeriod = 30 * 24 * time.Hour

var currentStatuses = []ledger.SubscriptionStatus{ledger.SubscriptionActive, ledger.SubscriptionCancelled}

// Engine runs subscription lifecycle transitions against the ledger
type Engine struct {
	store     ledger.Store
	catalogue Catalogue
	period    time.Duration
	now       func() time.Time
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the engine clock used for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPeriod overrides the length of a purchased plan
func WithPeriod(d time.Duration) Option {
	return func(e *Engine) { e.period = d }
}

// WithLogger sets the engine logger
func WithLogger(logger *observability.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics the engine records into
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// NewEngine creates a subscription engine
func NewEngine(store ledger.Store, catalogue Catalogue, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		catalogue: catalogue,
		period:    DefaultPeriod,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.OrDefault()
	if e.metrics == nil {
		e.metrics = observability.NewNopMetrics()
	}
	return e
}

// Plans returns the plan catalogue in rank order
func (e *Engine) Plans() []PlanSpec {
	return e.catalogue.List()
}

// ProvisionFree creates the FREE subscription a new user starts with. store may be
// transaction-bound so registration can create the user and subscription together.
func (e *Engine) ProvisionFree(ctx context.Context, store ledger.Store, userID int64) (*ledger.Subscription, error) {
	spec, _ := e.catalogue.Spec(ledger.PlanFree)
	sub := &ledger.Subscription{
		UserID:       userID,
		Plan:         ledger.PlanFree,
		Status:       ledger.SubscriptionActive,
		MonthlyQuota: spec.Quota,
	}
	if err := store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetActive returns the user's current subscription, expiring it and provisioning
// FREE first when it has lapsed.
func (e *Engine) GetActive(ctx context.Context, userID int64) (*ledger.Subscription, error) {
	sub, err := e.store.CurrentSubscription(ctx, userID, false)
	if ledger.IsNotFound(err) {
		return nil, ErrNoActiveSubscription
	}
	if err != nil {
		return nil, err
	}
	if !sub.ExpiredAt(e.now()) {
		return sub, nil
	}

	var current *ledger.Subscription
	err = e.store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		current, err = e.resolveCurrent(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNoActiveSubscription
	}
	return current, nil
}

// resolveCurrent reads the current subscription and applies lazy expiry. It
// returns nil when the user has no current subscription.
//
// The user row is locked before the subscription read so concurrent callers
// queue on one row and each sees the previous caller's committed FREE row.
func (e *Engine) resolveCurrent(ctx context.Context, tx ledger.Store, userID int64) (*ledger.Subscription, error) {
	if _, err := tx.LockUser(ctx, userID); err != nil {
		if ledger.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	sub, err := tx.CurrentSubscription(ctx, userID, true)
	if ledger.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !sub.ExpiredAt(e.now()) {
		return sub, nil
	}

	ctx, span := observability.Tracer().Start(ctx, "subscription.expire")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int64("subscription.id", sub.ID),
		attribute.String("subscription.plan", string(sub.Plan)),
	)

	changed, err := tx.SetSubscriptionStatus(ctx, sub.ID, currentStatuses, ledger.SubscriptionExpired)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Another request expired it first; its FREE row is now current
		cur, err := tx.CurrentSubscription(ctx, userID, false)
		if ledger.IsNotFound(err) {
			return nil, nil
		}
		return cur, err
	}

	retired, err := e.retireSuperseded(ctx, tx, userID, sub.ID)
	if err != nil {
		return nil, err
	}

	free, err := e.ProvisionFree(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	e.metrics.ExpirationsTotal.WithLabelValues(string(sub.Plan)).Inc()
	e.logger.WithFields(map[string]interface{}{
		"user_id":         userID,
		"subscription_id": sub.ID,
		"plan":            sub.Plan,
		"free_id":         free.ID,
		"retired":         retired,
	}).Info("Subscription expired, reverted to FREE")
	return free, nil
}

// retireSuperseded expires rows a purchase left cancelled behind the lapsing
// one, so only the new FREE row remains current.
func (e *Engine) retireSuperseded(ctx context.Context, tx ledger.Store, userID, lapsedID int64) (int, error) {
	subs, err := tx.ListSubscriptions(ctx, userID)
	if err != nil {
		return 0, err
	}
	retired := 0
	for _, s := range subs {
		if s.ID == lapsedID || !s.Current() {
			continue
		}
		changed, err := tx.SetSubscriptionStatus(ctx, s.ID, currentStatuses, ledger.SubscriptionExpired)
		if err != nil {
			return retired, err
		}
		if changed {
			retired++
		}
	}
	return retired, nil
}

// History lists every subscription the user has had, newest first
func (e *Engine) History(ctx context.Context, userID int64) ([]*ledger.Subscription, error) {
	if _, err := e.GetActive(ctx, userID); err != nil && !errors.Is(err, ErrNoActiveSubscription) {
		return nil, err
	}
	return e.store.ListSubscriptions(ctx, userID)
}

// CheckQuota reports whether the user may make another metered call
func (e *Engine) CheckQuota(ctx context.Context, userID int64) (*QuotaStatus, error) {
	sub, err := e.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	status := &QuotaStatus{
		Allowed:        sub.UsedQuota < sub.MonthlyQuota,
		Remaining:      sub.Remaining(),
		SubscriptionID: sub.ID,
		Plan:           sub.Plan,
	}
	if !status.Allowed {
		status.Reason = QuotaExceededReason
		e.metrics.QuotaDenialsTotal.WithLabelValues(string(sub.Plan)).Inc()
	}
	return status, nil
}

// IncrementUsage records one metered call against a subscription. The increment is
// a single UPDATE, so concurrent calls never lose counts.
func (e *Engine) IncrementUsage(ctx context.Context, subscriptionID int64) error {
	err := e.store.IncrementUsage(ctx, subscriptionID, 1)
	if ledger.IsNotFound(err) {
		return fmt.Errorf("subscription %d: %w", subscriptionID, ErrSubscriptionNotFound)
	}
	return err
}

// PurchasePlan buys plan with the user's wallet credits
func (e *Engine) PurchasePlan(ctx context.Context, userID int64, planName string) (sub *ledger.Subscription, err error) {
	plan, ok := ledger.ParsePlan(planName)
	if !ok || plan == ledger.PlanFree {
		return nil, ErrInvalidPlan
	}
	spec, _ := e.catalogue.Spec(plan)

	ctx, span := observability.Tracer().Start(ctx, "subscription.purchase")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.Int64("user.id", userID), attribute.String("subscription.plan", string(plan)))

	var (
		previous *ledger.Subscription
		txn      *ledger.Transaction
	)
	err = e.store.WithTx(ctx, func(tx ledger.Store) error {
		user, err := tx.LockUser(ctx, userID)
		if ledger.IsNotFound(err) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if user.Credits < spec.Price {
			return ledger.Detailf(ErrInsufficientCredits,
				"Insufficient credits. Required: %d, Available: %d", int64(spec.Price), int64(user.Credits))
		}

		previous, err = e.resolveCurrent(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := e.checkUpgrade(previous, plan); err != nil {
			return err
		}

		if err := tx.AdjustCredits(ctx, userID, -spec.Price); err != nil {
			if errors.Is(err, ledger.ErrInsufficientCredits) {
				return ErrInsufficientCredits
			}
			return err
		}

		txn = &ledger.Transaction{
			UserID:      userID,
			Amount:      spec.Price,
			Type:        ledger.TransactionPurchase,
			Status:      ledger.TransactionSuccess,
			Description: fmt.Sprintf("Purchase %s plan", plan.Display()),
		}
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}

		if previous != nil {
			if _, err := tx.SetSubscriptionStatus(ctx, previous.ID, currentStatuses, ledger.SubscriptionCancelled); err != nil {
				return err
			}
		}

		expires := e.now().UTC().Add(e.period)
		sub = &ledger.Subscription{
			UserID:       userID,
			Plan:         plan,
			Status:       ledger.SubscriptionActive,
			MonthlyQuota: spec.Quota,
			ExpiresAt:    &expires,
		}
		return tx.CreateSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	e.metrics.PlanPurchasesTotal.WithLabelValues(string(plan)).Inc()
	fields := map[string]interface{}{
		"user_id":         userID,
		"plan":            plan,
		"price":           int64(spec.Price),
		"subscription_id": sub.ID,
		"transaction_id":  txn.ID,
	}
	if previous != nil {
		fields["previous_plan"] = previous.Plan
	}
	e.logger.WithFields(fields).Info("Plan purchased")
	return sub, nil
}

// checkUpgrade rejects buying the current plan or a cheaper one
func (e *Engine) checkUpgrade(current *ledger.Subscription, plan ledger.Plan) error {
	if current == nil {
		return nil
	}
	name := plan.Display()
	if current.Plan == plan {
		if current.Status == ledger.SubscriptionCancelled {
			return ledger.Detailf(ErrAlreadyOnPlan,
				"You cancelled your %s subscription, but you can still use it until it expires. No need to purchase again.", name)
		}
		return ledger.Detailf(ErrAlreadyOnPlan, "You are already on the %s plan. No need to purchase again.", name)
	}
	if plan.Rank() < current.Plan.Rank() {
		return ledger.Detailf(ErrDowngradeNotAllowed,
			"Cannot downgrade from %s to %s. You can only upgrade or cancel your current subscription.",
			current.Plan.Display(), name)
	}
	return nil
}

// CancelSubscription stops renewal of the current paid plan. The plan stays usable
// until it expires; expires_at and used_quota are left untouched.
func (e *Engine) CancelSubscription(ctx context.Context, userID int64) (*ledger.Subscription, error) {
	var sub *ledger.Subscription
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		sub, err = e.resolveCurrent(ctx, tx, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			return ledger.Detailf(ErrNoActiveSubscription, "No active subscription to cancel")
		}
		if sub.Plan == ledger.PlanFree {
			return ErrCannotCancelFree
		}

		if _, err := tx.SetSubscriptionStatus(ctx, sub.ID, currentStatuses, ledger.SubscriptionCancelled); err != nil {
			return err
		}
		sub.Status = ledger.SubscriptionCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"user_id":         userID,
		"subscription_id": sub.ID,
		"plan":            sub.Plan,
	}).Info("Subscription cancelled")
	return sub, nil
}
