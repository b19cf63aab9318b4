package apperrors

import (
	"context"
	"errors"
	"time"
)

// RunPhase runs fn under its own deadline. If fn fails after the phase or the parent
// deadline expired, the failure is reported as a Timeout for phase. Other errors pass
// through unchanged. A non-positive limit leaves ctx unbounded.
func RunPhase(ctx context.Context, phase Phase, limit time.Duration, fn func(context.Context) error) error {
	phaseCtx, cancel := ctx, context.CancelFunc(func() {})
	if limit > 0 {
		phaseCtx, cancel = context.WithTimeout(ctx, limit)
	}
	defer cancel()

	err := fn(phaseCtx)
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(phaseCtx.Err(), context.DeadlineExceeded) {
		return Timeout(phase, limit, err)
	}
	return err
}
