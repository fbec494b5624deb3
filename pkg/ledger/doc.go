// Package ledger is the durable record behind quotagate: user balances, subscription
// rows, top-up and purchase transactions, and usage logs.
//
// # Overview
//
// A single SQL implementation, SQLStore, serves two dialects:
//
//   - postgres (github.com/lib/pq) for production
//   - sqlite3 (github.com/mattn/go-sqlite3) for local development and tests
//
// Balances are Money, an int64 count of VND. Credits only move through
// AdjustCredits, and a debit that would take the balance below zero fails with
// ErrInsufficientCredits without touching the row.
//
// # Transactions
//
// Multi-step operations run inside WithTx, which hands the callback a Store bound to
// one database transaction:
//
//	err := store.WithTx(ctx, func(tx ledger.Store) error {
//		if err := tx.AdjustCredits(ctx, userID, -price); err != nil {
//			return err
//		}
//		_, err := tx.CreateTransaction(ctx, &ledger.Transaction{...})
//		return err
//	})
//
// # Conditional transitions
//
// Status changes that must happen at most once are expressed as conditional updates
// (UPDATE ... WHERE id = ? AND status = ?). TransitionTransaction and
// SetSubscriptionStatus report whether the row actually changed, so concurrent
// callers racing on the same row see exactly one winner.
//
// # Errors
//
// errors.go defines five error kinds (validation, state conflict, security, not found,
// upstream) shared by every domain package. Use KindOf to classify an error.
package ledger
