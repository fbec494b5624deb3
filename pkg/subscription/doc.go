// Package subscription implements the plan catalogue, the subscription lifecycle
// and quota accounting.
//
// # Lifecycle
//
// Every user has at most one current subscription: the newest row whose status is
// active or cancelled. A cancelled subscription stays usable until it expires.
// Expiry is applied lazily: whenever the engine reads the current subscription
// and finds it past expires_at, it marks the row expired and provisions a fresh
// FREE subscription in the same database transaction.
//
//	engine := subscription.NewEngine(store, catalogue,
//		subscription.WithLogger(logger),
//		subscription.WithMetrics(metrics),
//	)
//
//	status, err := engine.CheckQuota(ctx, userID)
//	if err == nil && status.Allowed {
//		// serve the call, then
//		err = engine.IncrementUsage(ctx, status.SubscriptionID)
//	}
//
// # Purchases
//
// PurchasePlan is upgrade-only. Buying the current plan fails with
// ErrAlreadyOnPlan and buying a cheaper plan fails with ErrDowngradeNotAllowed.
// The debit, the purchase transaction, the cancellation of the previous row and
// the new subscription commit together.
package subscription
