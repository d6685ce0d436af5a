// Package ctxutil provides small context.Context helpers shared by every
// dispatcher component that awaits a suspension point (§5: channel recv,
// file-lock acquisition, subprocess request/response, blocking-pool joins).
package ctxutil

import (
	"context"
	"time"

	"pixi.build/dispatcher/go/sklog"
)

// ConfirmContextHasDeadline logs a warning with the full call stack if ctx
// has no deadline. Dispatcher-internal suspension points should always be
// reachable via a caller-supplied deadline or cancellation.
func ConfirmContextHasDeadline(ctx context.Context) {
	if _, ok := ctx.Deadline(); !ok {
		stack := make([]string, 0, 10)
		for _, st := range sklog.CallStack(10, 2) {
			stack = append(stack, st.String())
		}
		sklog.Warningf("context is missing a deadline at %v", stack)
	}
}

// WithTimeout calls f with a context that has a timeout, ensuring the
// cancel function always runs.
func WithTimeout(ctx context.Context, timeout time.Duration, f func(ctx context.Context)) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	f(timeoutCtx)
}

// Done reports whether ctx has already been cancelled, without blocking.
func Done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
