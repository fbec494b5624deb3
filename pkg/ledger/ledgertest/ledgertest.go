// Package ledgertest provides a throwaway SQLite-backed ledger for tests.
package ledgertest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/quotagate/pkg/ledger"
)

var userSeq atomic.Int64

// NewStore opens a migrated SQLite ledger in the test's temp dir. The database is
// closed when the test finishes.
func NewStore(t testing.TB, opts ...ledger.Option) *ledger.SQLStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := ledger.Open(context.Background(), ledger.Config{URL: "sqlite://" + path}, opts...)
	if err != nil {
		t.Fatalf("failed to open test ledger: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test ledger: %v", err)
	}
	return store
}

// CreateUser inserts a user with the given balance and a unique email
func CreateUser(t testing.TB, store ledger.Store, credits ledger.Money) *ledger.User {
	t.Helper()

	user := &ledger.User{
		Email:   fmt.Sprintf("user%d@example.com", userSeq.Add(1)),
		Credits: credits,
	}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// CreateSubscription inserts a subscription row for userID
func CreateSubscription(t testing.TB, store ledger.Store, userID int64, plan ledger.Plan, quota, used int, expiresAt *time.Time) *ledger.Subscription {
	t.Helper()

	sub := &ledger.Subscription{
		UserID:       userID,
		Plan:         plan,
		Status:       ledger.SubscriptionActive,
		MonthlyQuota: quota,
		UsedQuota:    used,
		ExpiresAt:    expiresAt,
	}
	if err := store.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("failed to create test subscription: %v", err)
	}
	return sub
}

// Clock is a settable clock for tests
type Clock struct {
	now atomic.Int64
}

// NewClock returns a clock fixed at t
func NewClock(t time.Time) *Clock {
	c := &Clock{}
	c.Set(t)
	return c
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	return time.Unix(0, c.now.Load()).UTC()
}

// Set moves the clock to t
func (c *Clock) Set(t time.Time) {
	c.now.Store(t.UnixNano())
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}
