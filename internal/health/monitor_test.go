package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/metastorehq/metastore-client/internal/maintenance"
	"github.com/metastorehq/metastore-client/internal/wire"
)

type fakeMaintenanceClient struct {
	mu        sync.Mutex
	connected bool
	err       error
	callbacks []maintenance.ReconnectedCallback
}

func (f *fakeMaintenanceClient) HealthCheck(context.Context) (wire.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return wire.StatusResponse{}, f.err
	}
	return wire.StatusResponse{}, nil
}

func (f *fakeMaintenanceClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakeMaintenanceClient) CheckChannelAndWaitForReconnect() {}
func (f *fakeMaintenanceClient) BindReconnectedCallback(cb maintenance.ReconnectedCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, cb)
}
func (f *fakeMaintenanceClient) OnAddressUpdated(string) {}

func (f *fakeMaintenanceClient) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func TestHealthGateTripsAfterThresholdFailures(t *testing.T) {
	client := &fakeMaintenanceClient{connected: true}
	m := New(client, "peer:1", Config{CheckInterval: time.Hour, Timeout: time.Second, MaxTolerateFailedTimes: 3}, nil, nil)

	gate := m.HealthGate()
	if gate() {
		t.Fatal("expected healthy gate before any failures")
	}

	boom := errors.New("boom")
	client.setErr(boom)
	m.checkOnce(context.Background())
	m.checkOnce(context.Background())
	if gate() {
		t.Fatal("gate should stay closed before reaching the threshold")
	}
	m.checkOnce(context.Background())
	if !gate() {
		t.Fatal("expected gate to trip at the threshold")
	}

	client.setErr(nil)
	m.checkOnce(context.Background())
	if gate() {
		t.Fatal("expected gate to clear on recovery")
	}
}

func TestObserverFiresOnTripAndRecovery(t *testing.T) {
	client := &fakeMaintenanceClient{connected: true}
	m := New(client, "peer:1", Config{CheckInterval: time.Hour, Timeout: time.Second, MaxTolerateFailedTimes: 1}, nil, nil)

	var events []error
	m.RegisterHealthyObserver(func(err error) {
		events = append(events, err)
	})

	client.setErr(errors.New("down"))
	m.checkOnce(context.Background())
	if len(events) != 1 || events[0] == nil {
		t.Fatalf("expected one failure notification, got %+v", events)
	}

	client.setErr(nil)
	m.checkOnce(context.Background())
	if len(events) != 2 || events[1] != nil {
		t.Fatalf("expected a recovery notification, got %+v", events)
	}
}

func TestAlarmLevelEscalatesToCriticalAfterMaxMajorDuration(t *testing.T) {
	client := &fakeMaintenanceClient{connected: true}
	m := New(client, "peer:1", Config{CheckInterval: time.Hour, Timeout: time.Second, MaxTolerateFailedTimes: 100}, nil, nil)

	client.setErr(errors.New("down"))
	m.checkOnce(context.Background())
	if m.AlarmLevel() != AlarmMajor {
		t.Fatalf("expected MAJOR alarm after first failure, got %s", m.AlarmLevel())
	}

	m.mu.Lock()
	m.firingSince = time.Now().Add(-MaxMajorAlarmDuration - time.Second)
	m.mu.Unlock()

	m.checkOnce(context.Background())
	if m.AlarmLevel() != AlarmCritical {
		t.Fatalf("expected CRITICAL alarm after exceeding max major duration, got %s", m.AlarmLevel())
	}
}

func TestCheckConnectedReturnsImmediatelyWhenAlreadyConnected(t *testing.T) {
	client := &fakeMaintenanceClient{connected: true}
	m := New(client, "peer:1", DefaultConfig(), nil, nil)

	if err := m.CheckConnected(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	client := &fakeMaintenanceClient{connected: true}
	m := New(client, "peer:1", Config{CheckInterval: 5 * time.Millisecond, Timeout: time.Second, MaxTolerateFailedTimes: 1}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Start to return after context cancellation")
	}
}
