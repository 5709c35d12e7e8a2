package kv

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
	sender := func(ctx context.Context, target, method string, payload []byte) error {
		return fb.Send(ctx, target, method, bus.Envelope{RequestMsg: payload})
	}
	helper := retry.New(sender, retry.UniformBackoff(50*time.Millisecond, 10*time.Millisecond, 20*time.Millisecond), 5, nil)
	return NewProxiedStrategy(fb, "peer:1", helper, nil), fb
}

func TestProxiedPutRoundTrips(t *testing.T) {
	s, fb := newTestProxiedStrategy(t)

	done := make(chan struct{})
	var resp wire.PutResponse
	var err error
	go func() {
		resp, err = s.Put(context.Background(), []byte("k"), []byte("v"), wire.PutOption{})
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for send")
		default:
		}
		if len(fb.Sent()) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	want := wire.PutResponse{Header: wire.ResponseHeader{Revision: 7}}
	fb.PushReply(bus.Reply{ResponseMsg: encode(want)})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Put to complete")
	}
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if resp.Header.Revision != 7 {
		t.Errorf("expected revision 7, got %d", resp.Header.Revision)
	}
}

func TestProxiedPutPropagatesErrorStatus(t *testing.T) {
	s, fb := newTestProxiedStrategy(t)

	done := make(chan error, 1)
	go func() {
		_, err := s.Put(context.Background(), []byte("k"), []byte("v"), wire.PutOption{})
		done <- err
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
	fb.PushReply(bus.Reply{Status: 1, ErrorMsg: "boom"})

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Put to complete")
	}
}

func TestProxiedIsConnectedTracksAddress(t *testing.T) {
	s, fb := newTestProxiedStrategy(t)
	if !s.IsConnected() {
		t.Fatal("expected connected with a non-empty address")
	}
	fb.OnAddressUpdated("")
	if s.IsConnected() {
		t.Fatal("expected disconnected once address clears")
	}
}

func TestProxiedWatchDeliversEventsAfterCreate(t *testing.T) {
	s, fb := newTestProxiedStrategy(t)

	var delivered []wire.WatchEvent
	observer := func(events []wire.WatchEvent, synced bool) bool {
		delivered = append(delivered, events...)
		return true
	}

	w, err := s.Watch(context.Background(), []byte("k"), wire.WatchOption{}, observer, nil)
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	defer w.Close()

	fb.PushObserveEvent(bus.ObserveEvent{IsCreate: true, ObserveId: 42})
	fb.PushObserveEvent(bus.ObserveEvent{Payload: encode([]wire.WatchEvent{{Type: wire.EventPut, Kv: wire.KeyValue{Key: []byte("k"), Value: []byte("v")}}})})

	deadline := time.After(time.Second)
	for len(delivered) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for watch event delivery")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if string(delivered[0].Kv.Value) != "v" {
		t.Errorf("unexpected delivered value %q", delivered[0].Kv.Value)
	}
}

func TestProxiedFinalizeClosesWatchers(t *testing.T) {
	s, _ := newTestProxiedStrategy(t)
	w, err := s.Watch(context.Background(), []byte("k"), wire.WatchOption{}, func([]wire.WatchEvent, bool) bool { return true }, nil)
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	_ = w
	s.Finalize()
	s.mu.Lock()
	n := len(s.watchers)
	s.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no watchers after Finalize, got %d", n)
	}
}
