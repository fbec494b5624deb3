package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/quotagate/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
//   - a timeout derived from parentCtx
//   - panic recovery
//   - error logging through the logger carried by parentCtx
//
// The returned channel is closed once fn has returned. Pass a context detached
// with context.WithoutCancel when the task must outlive the request that
// started it.
//
// Example:
//
//	async.SafeGo(context.WithoutCancel(r.Context()), 5*time.Second, "usage log", func(ctx context.Context) error {
//	    return store.RecordUsage(ctx, entry)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		logger := observability.FromContext(parentCtx, nil).WithField("task", taskName)
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("Panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).Error("Background task failed")
		}
	}()
	return done
}
