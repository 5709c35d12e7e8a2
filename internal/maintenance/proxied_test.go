package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/metastorehq/metastore-client/internal/bus"
	"github.com/metastorehq/metastore-client/internal/retry"
)

func TestProxiedHealthCheckRoundTrips(t *testing.T) {
	fb := bus.NewFake("peer:1")
	backoff := retry.UniformBackoff(50*time.Millisecond, 10*time.Millisecond, 20*time.Millisecond)
	s := NewProxiedStrategy(fb, "peer:1", backoff, 5, nil)

	done := make(chan struct{})
	go func() {
		if _, err := s.HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck returned error: %v", err)
		}
		close(done)
	}()

	deadline := time.After(time.Second)
	for len(fb.Sent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for send")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	fb.PushReply(bus.Reply{ResponseMsg: encode(struct{}{})})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for HealthCheck to complete")
	}
}

func TestProxiedOnAddressUpdatedFiresCallbacks(t *testing.T) {
	fb := bus.NewFake("peer:1")
	backoff := retry.UniformBackoff(50*time.Millisecond, 10*time.Millisecond, 20*time.Millisecond)
	s := NewProxiedStrategy(fb, "peer:1", backoff, 5, nil)

	var got string
	s.BindReconnectedCallback(func(addr string) { got = addr })
	s.OnAddressUpdated("peer:2")

	if got != "peer:2" {
		t.Errorf("expected callback to fire with new address, got %q", got)
	}
	if fb.Address() != "peer:2" {
		t.Errorf("expected bus address updated, got %q", fb.Address())
	}
}
