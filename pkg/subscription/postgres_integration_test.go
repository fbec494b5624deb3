//go:build integration

package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/ledger/ledgertest"
	"github.com/platinummonkey/quotagate/pkg/observability"
)

func TestPostgresEngine_ConcurrentLapse(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	clock := ledgertest.NewClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	store := ledgertest.NewPostgresStore(t, ledger.WithClock(clock.Now))
	engine := NewEngine(store, testCatalogue(t),
		WithClock(clock.Now),
		WithLogger(observability.NopLogger()),
	)
	f := &fixture{engine: engine, store: store, clock: clock}

	for round := 0; round < 5; round++ {
		user := f.newUser(t, 99000)
		_, err := engine.PurchasePlan(ctx, user.ID, "plus")
		require.NoError(t, err)
		clock.Advance(31 * 24 * time.Hour)

		const readers = 8
		subs := make([]*ledger.Subscription, readers)
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < readers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				sub, err := engine.GetActive(ctx, user.ID)
				if assert.NoError(t, err) {
					subs[i] = sub
				}
			}(i)
		}
		close(start)
		wg.Wait()

		history, err := store.ListSubscriptions(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, history, 3, "exactly one FREE row is provisioned")
		current := currentRows(history)
		require.Len(t, current, 1)

		for _, sub := range subs {
			require.NotNil(t, sub)
			assert.Equal(t, current[0].ID, sub.ID, "every reader sees the new FREE row")
			assert.Equal(t, ledger.PlanFree, sub.Plan)
			assert.Equal(t, ledger.SubscriptionActive, sub.Status)
			assert.Equal(t, 0, sub.UsedQuota)
		}
	}
}
