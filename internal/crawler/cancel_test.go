package crawler

import (
	"context"
	"testing"
	"time"
)

func TestScanContext_Timeout(t *testing.T) {
	sc := NewScanContext(context.Background(), 20*time.Millisecond)
	defer sc.Release()

	select {
	case <-sc.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("Scan context must cancel after its duration ceiling")
	}

	cause := context.Cause(sc.Context())
	if CancelReasonOf(cause) != CancelTimeout {
		t.Errorf("Expected timeout cause, got %v", cause)
	}
}

func TestScanContext_ReasonsAreDistinguishable(t *testing.T) {
	for _, reason := range []CancelReason{CancelTimeout, CancelCaller, CancelShutdown} {
		sc := NewScanContext(context.Background(), time.Hour)
		sc.CancelWith(reason)

		cause := context.Cause(sc.Context())
		if CancelReasonOf(cause) != reason {
			t.Errorf("Expected reason %s, got %v", reason, cause)
		}
		sc.Release()
	}
}

func TestScanContext_FirstCancellationWins(t *testing.T) {
	sc := NewScanContext(context.Background(), time.Hour)
	defer sc.Release()

	sc.CancelWith(CancelShutdown)
	sc.CancelWith(CancelCaller)

	if got := CancelReasonOf(context.Cause(sc.Context())); got != CancelShutdown {
		t.Errorf("First cancellation must win, got %s", got)
	}
}

func TestCauseOf(t *testing.T) {
	t.Run("Prefers the tagged cause", func(t *testing.T) {
		sc := NewScanContext(context.Background(), time.Hour)
		defer sc.Release()
		sc.CancelWith(CancelShutdown)

		resolved := CauseOf(sc.Context(), sc.Context().Err())
		if CancelReasonOf(resolved) != CancelShutdown {
			t.Errorf("Expected tagged shutdown cause, got %v", resolved)
		}
	})

	t.Run("Passes non-cancellation errors through", func(t *testing.T) {
		err := ErrPageSizeLimitExceeded
		if got := CauseOf(context.Background(), err); got != err {
			t.Errorf("Expected error passed through, got %v", got)
		}
	})

	t.Run("Nil stays nil", func(t *testing.T) {
		if got := CauseOf(context.Background(), nil); got != nil {
			t.Errorf("Expected nil, got %v", got)
		}
	})
}
