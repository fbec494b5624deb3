package ledger

import (
	"context"
	"time"
)

// Store is the persistence contract for the ledger. SQLStore is the only
// implementation; the interface exists so engine code can run the same calls
// against the pool or against a transaction handed out by WithTx.
type Store interface {
	// WithTx runs fn inside a database transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. Calling WithTx on a transaction-bound
	// store runs fn in the existing transaction.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	LockUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByGoogleID(ctx context.Context, googleID string) (*User, error)
	LinkGoogleAccount(ctx context.Context, userID int64, googleID, avatar string) error
	AdjustCredits(ctx context.Context, userID int64, delta Money) error

	// Subscriptions
	CreateSubscription(ctx context.Context, sub *Subscription) error
	CurrentSubscription(ctx context.Context, userID int64, forUpdate bool) (*Subscription, error)
	ListSubscriptions(ctx context.Context, userID int64) ([]*Subscription, error)
	SetSubscriptionStatus(ctx context.Context, id int64, from []SubscriptionStatus, to SubscriptionStatus) (bool, error)
	IncrementUsage(ctx context.Context, id int64, n int) error

	// Transactions
	CreateTransaction(ctx context.Context, txn *Transaction) error
	GetTransactionByRequestID(ctx context.Context, requestID string) (*Transaction, error)
	ListTransactions(ctx context.Context, userID int64, limit int) ([]*Transaction, error)
	TransitionTransaction(ctx context.Context, id int64, from, to TransactionStatus, providerTxID string) (bool, error)
	StalePendingTopups(ctx context.Context, olderThan time.Time) ([]*Transaction, error)

	// Usage
	RecordUsage(ctx context.Context, entry *UsageLog) error
	UsageSince(ctx context.Context, userID int64, since time.Time) (int, error)
}
