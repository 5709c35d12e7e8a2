package retry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metastorehq/metastore-client/internal/future"
	"github.com/metastorehq/metastore-client/internal/obslog"
)

func TestHelperEndCompletesWaiter(t *testing.T) {
	var sends int32
	var capturedID string
	h := New(func(ctx context.Context, target, method string, payload []byte) error {
		atomic.AddInt32(&sends, 1)
		return nil
	}, UniformBackoff(0, time.Millisecond, 2*time.Millisecond), 5, obslog.NewNop())

	requestID, f := Begin(h, context.Background(), "peer", "Put", []byte("payload"))
	capturedID = requestID

	// give the first attempt a moment to fire before completing it.
	time.Sleep(10 * time.Millisecond)
	h.End(capturedID, []byte("ok"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := f.Get(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(v) != "ok" {
		t.Fatalf("got %q, want %q", v, "ok")
	}
	if h.InFlight() != 0 {
		t.Fatalf("expected no in-flight requests after End, got %d", h.InFlight())
	}
}

func TestHelperTimesOutAfterLimit(t *testing.T) {
	h := New(func(ctx context.Context, target, method string, payload []byte) error {
		return nil
	}, UniformBackoff(0, time.Millisecond, 2*time.Millisecond), 2, obslog.NewNop())

	_, f := Begin(h, context.Background(), "peer", "Put", []byte("payload"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.Get(ctx)
	if err != future.ErrTimeout {
		t.Fatalf("got %v, want future.ErrTimeout", err)
	}
}

func TestEndIsIdempotentForUnknownRequest(t *testing.T) {
	h := New(func(ctx context.Context, target, method string, payload []byte) error {
		return nil
	}, UniformBackoff(0, time.Millisecond, 2*time.Millisecond), 5, obslog.NewNop())

	// Completing a request id that was never begun must not panic and
	// must not affect in-flight bookkeeping.
	h.End("does-not-exist", []byte("ignored"))
	if h.InFlight() != 0 {
		t.Fatalf("expected 0 in-flight, got %d", h.InFlight())
	}
}
