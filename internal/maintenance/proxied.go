package maintenance

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/metastorehq/metastore-client/internal/bus"
	"github.com/metastorehq/metastore-client/internal/errs"
	"github.com/metastorehq/metastore-client/internal/future"
	"github.com/metastorehq/metastore-client/internal/obslog"
	"github.com/metastorehq/metastore-client/internal/retry"
	"github.com/metastorehq/metastore-client/internal/wire"
)

func encode(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

func decode(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}

// ProxiedStrategy is the proxied maintenance strategy: HealthCheck
// delivered as a UUID-correlated message to a peer maintenance service,
// grounded on MetaStoreMaintenanceClientStrategy.
type ProxiedStrategy struct {
	bus    bus.Bus
	target string
	helper *retry.Helper
	log    obslog.Logger

	mu        sync.Mutex
	callbacks []ReconnectedCallback
}

// NewProxiedStrategy builds a proxied maintenance strategy bound to
// peerBus, addressing every message at target.
func NewProxiedStrategy(peerBus bus.Bus, target string, backoff retry.Backoff, limit int, log obslog.Logger) *ProxiedStrategy {
	if log == nil {
		log = obslog.NewNop()
	}
	send := func(ctx context.Context, target, method string, payload []byte) error {
		return peerBus.Send(ctx, target, method, bus.Envelope{RequestMsg: payload})
	}
	s := &ProxiedStrategy{bus: peerBus, target: target, helper: retry.New(send, backoff, limit, log), log: log}
	go s.pumpReplies()
	return s
}

func (s *ProxiedStrategy) pumpReplies() {
	for reply := range s.bus.Replies() {
		if reply.Status != 0 {
			s.helper.EndError(reply.ResponseId, errs.New(errs.CodeUnknown, reply.ErrorMsg, nil))
			continue
		}
		s.helper.End(reply.ResponseId, reply.ResponseMsg)
	}
}

// HealthCheck implements Strategy.
func (s *ProxiedStrategy) HealthCheck(ctx context.Context) (wire.StatusResponse, error) {
	_, f := retry.Begin(s.helper, ctx, s.target, "HealthCheck", encode(struct{}{}))
	raw, err := f.Get(ctx)
	if err != nil {
		if err == future.ErrTimeout {
			return wire.StatusResponse{}, errs.New(errs.CodeTimeout, "proxied health check timed out", nil)
		}
		return wire.StatusResponse{}, err
	}
	var out wire.StatusResponse
	_ = decode(raw, &out)
	return out, nil
}

// IsConnected implements Strategy: the proxied strategy always reports
// connected, matching MetaStoreMaintenanceClientStrategy::IsConnected.
func (s *ProxiedStrategy) IsConnected() bool {
	return true
}

// CheckChannelAndWaitForReconnect implements Strategy. The proxy
// transport's own reconnect is handled by the bus/manager layer, so this
// is a no-op here, matching MetaStoreMaintenanceClientStrategy's empty
// override.
func (s *ProxiedStrategy) CheckChannelAndWaitForReconnect() {}

// BindReconnectedCallback implements Strategy.
func (s *ProxiedStrategy) BindReconnectedCallback(cb ReconnectedCallback) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

// OnAddressUpdated implements Strategy: re-points the bus and fires
// every bound reconnect callback with the new address.
func (s *ProxiedStrategy) OnAddressUpdated(address string) {
	s.bus.OnAddressUpdated(address)
	s.mu.Lock()
	cbs := make([]ReconnectedCallback, len(s.callbacks))
	copy(cbs, s.callbacks)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(address)
	}
}
