// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext returns a context carrying ctx1's values that is canceled when either
// ctx1 or ctx2 is. ctx1 is the chromedp context (it holds the CDP target); ctx2 carries
// the caller's deadline.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)
	stop := context.AfterFunc(ctx2, cancel)
	return combinedCtx, func() {
		stop()
		cancel()
	}
}

// valueOnlyContext keeps the parent's values but drops its deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context with ctx's values that outlives ctx. Cleanup paths use it
// so a page can still be closed after the request that opened it timed out.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
