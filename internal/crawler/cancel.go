package crawler

import (
	"context"
	"errors"
	"time"
)

// CancelReason tags why a scan context was cancelled. The three causes must
// stay distinguishable at unwind time: a duration timeout or caller
// cancellation marks the job failed, while a process shutdown leaves it in
// Processing so the next startup can resume it from checkpoint.
type CancelReason int

const (
	CancelNone CancelReason = iota
	// CancelTimeout - the scan exceeded its wall-clock duration ceiling.
	CancelTimeout
	// CancelCaller - the scan was cancelled on request.
	CancelCaller
	// CancelShutdown - the process is shutting down; the scan is resumable.
	CancelShutdown
)

func (r CancelReason) String() string {
	switch r {
	case CancelTimeout:
		return "timeout"
	case CancelCaller:
		return "caller"
	case CancelShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// CancelError is the tagged cancellation value threaded through the call
// chain as a context cancellation cause.
type CancelError struct {
	Reason CancelReason
}

func (e *CancelError) Error() string {
	return "scan cancelled: " + e.Reason.String()
}

// ScanContext derives a cancellation signal for one scan that combines the
// duration ceiling, caller-initiated cancellation, and process shutdown.
type ScanContext struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	timer  *time.Timer
}

// NewScanContext builds the combined scan context. maxDuration <= 0 disables
// the wall-clock ceiling.
func NewScanContext(parent context.Context, maxDuration time.Duration) *ScanContext {
	ctx, cancel := context.WithCancelCause(parent)

	sc := &ScanContext{ctx: ctx, cancel: cancel}
	if maxDuration > 0 {
		sc.timer = time.AfterFunc(maxDuration, func() {
			cancel(&CancelError{Reason: CancelTimeout})
		})
	}
	return sc
}

// Context returns the derived context.
func (s *ScanContext) Context() context.Context {
	return s.ctx
}

// CancelWith cancels the scan with an explicit reason. The first cancellation
// wins; later ones are no-ops.
func (s *ScanContext) CancelWith(reason CancelReason) {
	s.cancel(&CancelError{Reason: reason})
}

// Release stops the duration timer and releases the context. Call once the
// scan has unwound.
func (s *ScanContext) Release() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.cancel(&CancelError{Reason: CancelNone})
}

// CancelReasonOf extracts the tagged cancellation reason from an error chain.
// Returns CancelNone for nil and for non-cancellation errors. A bare
// context.Canceled/DeadlineExceeded without a tagged cause is treated as a
// caller cancellation.
func CancelReasonOf(err error) CancelReason {
	if err == nil {
		return CancelNone
	}
	var cancelErr *CancelError
	if errors.As(err, &cancelErr) {
		return cancelErr.Reason
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CancelCaller
	}
	return CancelNone
}

// CauseOf resolves the effective error for a context-cancelled operation,
// preferring the tagged cause over the bare context error.
func CauseOf(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
	}
	return err
}
