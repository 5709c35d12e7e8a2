package lease

import (
	"context"
	"testing"
	"time"

	"github.com/metastorehq/metastore-client/internal/bus"
	"github.com/metastorehq/metastore-client/internal/retry"
	"github.com/metastorehq/metastore-client/internal/wire"
)

func newTestProxiedStrategy(t *testing.T) (*ProxiedStrategy, *bus.Fake) {
	t.Helper()
	fb := bus.NewFake("peer:1")
	backoff := retry.UniformBackoff(50*time.Millisecond, 10*time.Millisecond, 20*time.Millisecond)
	return NewProxiedStrategy(fb, "peer:1", backoff, 5, nil), fb
}

func waitForSend(t *testing.T, fb *bus.Fake) {
	t.Helper()
	deadline := time.After(time.Second)
	for len(fb.Sent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for send")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestProxiedGrantRoundTrips(t *testing.T) {
	s, fb := newTestProxiedStrategy(t)

	done := make(chan struct{})
	var resp wire.LeaseGrantResponse
	var err error
	go func() {
		resp, err = s.Grant(context.Background(), 30)
		close(done)
	}()
	waitForSend(t, fb)

	fb.PushReply(bus.Reply{ResponseMsg: encode(wire.LeaseGrantResponse{LeaseId: 99, TTL: 30})})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Grant to complete")
	}
	if err != nil {
		t.Fatalf("Grant returned error: %v", err)
	}
	if resp.LeaseId != 99 || resp.TTL != 30 {
		t.Errorf("unexpected grant response: %+v", resp)
	}
}

func TestProxiedKeepAliveOnceRoundTrips(t *testing.T) {
	s, fb := newTestProxiedStrategy(t)

	done := make(chan struct{})
	var resp wire.LeaseKeepAliveResponse
	var err error
	go func() {
		resp, err = s.KeepAliveOnce(context.Background(), 99)
		close(done)
	}()
	waitForSend(t, fb)

	fb.PushReply(bus.Reply{ResponseMsg: encode(wire.LeaseKeepAliveResponse{LeaseId: 99, TTL: 30})})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for KeepAliveOnce to complete")
	}
	if err != nil {
		t.Fatalf("KeepAliveOnce returned error: %v", err)
	}
	if resp.TTL != 30 {
		t.Errorf("unexpected keep-alive response: %+v", resp)
	}
}

func TestProxiedIsConnectedAlwaysTrue(t *testing.T) {
	s, _ := newTestProxiedStrategy(t)
	if !s.IsConnected() {
		t.Fatal("expected proxied lease strategy to report connected")
	}
}
