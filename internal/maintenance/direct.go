package maintenance

import (
	"context"
	"sync"

	"github.com/metastorehq/metastore-client/internal/errs"
	"github.com/metastorehq/metastore-client/internal/obslog"
	"github.com/metastorehq/metastore-client/internal/rpcchannel"
	"github.com/metastorehq/metastore-client/internal/wire"
)

// DirectStrategy is the direct (C9) maintenance strategy: HealthCheck via
// the backend's Status RPC, plus a reconnect watcher spawned the first
// time a HealthCheck call observes the channel down.
type DirectStrategy struct {
	channel *rpcchannel.Channel
	timeout wire.TimeoutOption
	log     obslog.Logger

	mu            sync.Mutex
	running       bool
	reconnecting  bool
	callbacks     []ReconnectedCallback
}

// NewDirectStrategy builds a direct maintenance strategy over channel.
func NewDirectStrategy(channel *rpcchannel.Channel, timeout wire.TimeoutOption, log obslog.Logger) *DirectStrategy {
	if log == nil {
		log = obslog.NewNop()
	}
	return &DirectStrategy{channel: channel, timeout: timeout, log: log, running: true}
}

// HealthCheck implements Strategy: issues a single Status RPC and
// schedules a reconnect watch on failure, mirroring
// EtcdMaintenanceClientStrategy::HealthCheck.
func (s *DirectStrategy) HealthCheck(ctx context.Context) (wire.StatusResponse, error) {
	endpoints := s.channel.Endpoints()
	if len(endpoints) == 0 {
		return wire.StatusResponse{}, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout.GrpcTimeout)
	defer cancel()
	_, err := s.channel.Client().Status(callCtx, endpoints[0])
	if err != nil {
		s.log.Errorf("maintenance: failed to health check: %v", err)
		s.CheckChannelAndWaitForReconnect()
		return wire.StatusResponse{Status: errs.New(errs.CodeUnavailable, "failed to health check", err)}, nil
	}
	return wire.StatusResponse{}, nil
}

// IsConnected implements Strategy.
func (s *DirectStrategy) IsConnected() bool {
	return s.channel.IsConnected()
}

// CheckChannelAndWaitForReconnect implements Strategy: spawns (at most
// one concurrent) background watcher that blocks on the channel's own
// reconnect probe and fires every bound callback once it succeeds.
func (s *DirectStrategy) CheckChannelAndWaitForReconnect() {
	s.mu.Lock()
	if s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	go func() {
		s.channel.CheckAndWaitForReconnect(s.isRunning)
		s.mu.Lock()
		s.reconnecting = false
		cbs := make([]ReconnectedCallback, len(s.callbacks))
		copy(cbs, s.callbacks)
		s.mu.Unlock()
		addr := ""
		if eps := s.channel.Endpoints(); len(eps) > 0 {
			addr = eps[0]
		}
		for _, cb := range cbs {
			cb(addr)
		}
	}()
}

func (s *DirectStrategy) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// BindReconnectedCallback implements Strategy.
func (s *DirectStrategy) BindReconnectedCallback(cb ReconnectedCallback) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

// OnAddressUpdated implements Strategy. The direct maintenance strategy
// doesn't support address updates, matching
// EtcdMaintenanceClientStrategy::OnAddressUpdated's warning-only stub.
func (s *DirectStrategy) OnAddressUpdated(address string) {
	s.log.Warnf("maintenance: direct strategy doesn't support address update yet")
}

// Stop halts any in-flight reconnect watcher, used by the manager's
// backend teardown when Client.Stop runs.
func (s *DirectStrategy) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
