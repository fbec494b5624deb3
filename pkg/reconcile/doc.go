// Package reconcile reports MoMo top-ups that never received an IPN callback.
//
// A top-up is written PENDING before the provider is called and is settled by
// the callback. When the callback is lost the row stays PENDING forever. The
// Reconciler lists such rows on a cron schedule, logs them through logrus and
// exports their count as the quotagate_stale_pending_topups gauge. It never
// changes a row.
//
//	r := reconcile.New(store, logrus.New(), reconcile.WithStaleAfter(time.Hour))
//	if err := r.Start(); err != nil {
//		return err
//	}
//	defer r.Stop(ctx)
package reconcile
