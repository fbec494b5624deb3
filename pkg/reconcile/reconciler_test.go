package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/ledger/ledgertest"
	"github.com/platinummonkey/quotagate/pkg/observability"
)

var start = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func topup(t *testing.T, store ledger.Store, userID int64, requestID string, amount ledger.Money) *ledger.Transaction {
	t.Helper()
	txn := &ledger.Transaction{
		UserID:            userID,
		Amount:            amount,
		Type:              ledger.TransactionTopup,
		Status:            ledger.TransactionPending,
		ProviderRequestID: requestID,
	}
	require.NoError(t, store.CreateTransaction(context.Background(), txn))
	return txn
}

func TestReconciler_RunOnce(t *testing.T) {
	ctx := context.Background()
	clock := ledgertest.NewClock(start)
	store := ledgertest.NewStore(t, ledger.WithClock(clock.Now))
	user := ledgertest.CreateUser(t, store, 0)

	old := topup(t, store, user.ID, "REQ_old", 50000)
	settled := topup(t, store, user.ID, "REQ_settled", 20000)
	_, err := store.TransitionTransaction(ctx, settled.ID, ledger.TransactionPending, ledger.TransactionSuccess, "1")
	require.NoError(t, err)

	clock.Advance(50 * time.Minute)
	topup(t, store, user.ID, "REQ_recent", 30000)
	clock.Advance(30 * time.Minute)

	log, hook := logtest.NewNullLogger()
	metrics := observability.NewNopMetrics()
	r := New(store, log, WithClock(clock.Now), WithMetrics(metrics))

	report, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, report.Stale, 1)
	assert.Equal(t, old.ID, report.Stale[0].ID)
	assert.Equal(t, ledger.Money(50000), report.Amount)
	assert.Equal(t, 80*time.Minute, report.Oldest)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StalePendingTopups))

	var warned *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = e
		}
	}
	require.NotNil(t, warned)
	assert.Equal(t, "Top-up still pending", warned.Message)
	assert.Equal(t, "REQ_old", warned.Data["request_id"])
	assert.Equal(t, "1h20m0s", warned.Data["age"])

	// rows are only reported, never changed
	txn, err := store.GetTransactionByRequestID(ctx, "REQ_old")
	require.NoError(t, err)
	assert.Equal(t, ledger.TransactionPending, txn.Status)
}

func TestReconciler_RunOnceNothingStale(t *testing.T) {
	store := ledgertest.NewStore(t)
	metrics := observability.NewNopMetrics()
	metrics.StalePendingTopups.Set(7)
	log, hook := logtest.NewNullLogger()

	report, err := New(store, log, WithMetrics(metrics)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Stale)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.StalePendingTopups))
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, e.Level)
	}
}

type listerFunc func(ctx context.Context, olderThan time.Time) ([]*ledger.Transaction, error)

func (f listerFunc) StalePendingTopups(ctx context.Context, olderThan time.Time) ([]*ledger.Transaction, error) {
	return f(ctx, olderThan)
}

func TestReconciler_StaleAfter(t *testing.T) {
	var cutoff time.Time
	lister := listerFunc(func(_ context.Context, olderThan time.Time) ([]*ledger.Transaction, error) {
		cutoff = olderThan
		return nil, nil
	})
	log, _ := logtest.NewNullLogger()

	_, err := New(lister, log, WithClock(func() time.Time { return start }), WithStaleAfter(2*time.Hour)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, start.Add(-2*time.Hour), cutoff)

	_, err = New(lister, log, WithClock(func() time.Time { return start }), WithStaleAfter(-time.Minute)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, start.Add(-DefaultStaleAfter), cutoff)
}

func TestReconciler_RunOnceError(t *testing.T) {
	lister := listerFunc(func(context.Context, time.Time) ([]*ledger.Transaction, error) {
		return nil, errors.New("database is locked")
	})
	log, _ := logtest.NewNullLogger()

	_, err := New(lister, log).RunOnce(context.Background())
	assert.ErrorContains(t, err, "failed to list stale top-ups: database is locked")
}

func TestReconciler_StartStop(t *testing.T) {
	var runs atomic.Int32
	lister := listerFunc(func(context.Context, time.Time) ([]*ledger.Transaction, error) {
		runs.Add(1)
		return nil, nil
	})
	log, _ := logtest.NewNullLogger()

	r := New(lister, log, WithSchedule("@every 1s"))
	require.NoError(t, r.Start())
	assert.Error(t, r.Start(), "second start")

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	require.NoError(t, r.Stop(ctx), "stopping twice is a no-op")
}

func TestReconciler_InvalidSchedule(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	r := New(listerFunc(nil), log, WithSchedule("every tuesday"))
	assert.ErrorContains(t, r.Start(), `invalid reconcile schedule "every tuesday"`)
}
