// Package async runs background tasks with panic recovery, timeouts and
// structured error logging.
//
//	done := async.SafeGo(ctx, 5*time.Second, "usage log", func(ctx context.Context) error {
//		return store.RecordUsage(ctx, entry)
//	})
//	<-done // optional
//
// Errors and panics are logged with the logger found in ctx and never
// propagate to the caller.
package async
