package subscription

import "github.com/platinummonkey/quotagate/pkg/ledger"

var (
	ErrInvalidPlan          = ledger.NewError(ledger.ErrValidation, "Invalid plan. Choose 'plus' or 'pro'")
	ErrUserNotFound         = ledger.NewError(ledger.ErrNotFound, "User not found")
	ErrSubscriptionNotFound = ledger.NewError(ledger.ErrNotFound, "Subscription not found")
	ErrInsufficientCredits  = ledger.NewError(ledger.ErrStateConflict, "Insufficient credits")
	ErrAlreadyOnPlan        = ledger.NewError(ledger.ErrStateConflict, "Already on this plan")
	ErrDowngradeNotAllowed  = ledger.NewError(ledger.ErrStateConflict, "Downgrade not allowed")
	ErrNoActiveSubscription = ledger.NewError(ledger.ErrStateConflict, "No active subscription")
	ErrCannotCancelFree     = ledger.NewError(ledger.ErrStateConflict, "Cannot cancel FREE plan")
)
