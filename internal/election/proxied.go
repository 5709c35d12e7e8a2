package election

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

// ProxiedStrategy is the proxied (C8) election strategy: Campaign/Leader/
// Resign delivered as UUID-correlated messages to a peer election
// service, and Observe streamed over the peer bus, grounded on
// MetaStoreElectionClientStrategy.
type ProxiedStrategy struct {
	bus    bus.Bus
	target string
	log    obslog.Logger

	campaign *retry.Helper
	leader   *retry.Helper
	resign   *retry.Helper

	mu        sync.Mutex
	observers map[*proxiedObserver]struct{}
}

// NewProxiedStrategy builds a proxied election strategy bound to
// peerBus, addressing every message at target (the election service
// actor address).
func NewProxiedStrategy(peerBus bus.Bus, target string, backoff retry.Backoff, limit int, log obslog.Logger) *ProxiedStrategy {
	if log == nil {
		log = obslog.NewNop()
	}
	send := func(ctx context.Context, target, method string, payload []byte) error {
		return peerBus.Send(ctx, target, method, bus.Envelope{RequestMsg: payload})
	}
	s := &ProxiedStrategy{
		bus:       peerBus,
		target:    target,
		log:       log,
		campaign:  retry.New(send, backoff, limit, log),
		leader:    retry.New(send, backoff, limit, log),
		resign:    retry.New(send, backoff, limit, log),
		observers: make(map[*proxiedObserver]struct{}),
	}
	go s.pumpReplies()
	return s
}

func (s *ProxiedStrategy) pumpReplies() {
	for reply := range s.bus.Replies() {
		helper := s.helperFor(reply)
		if helper == nil {
			continue
		}
		if reply.Status != 0 {
			helper.EndError(reply.ResponseId, errs.New(errs.CodeUnknown, reply.ErrorMsg, nil))
			continue
		}
		helper.End(reply.ResponseId, reply.ResponseMsg)
	}
}

func (s *ProxiedStrategy) helperFor(reply bus.Reply) *retry.Helper {
	for _, h := range []*retry.Helper{s.campaign, s.leader, s.resign} {
		if h.Tracks(reply.ResponseId) {
			return h
		}
	}
	return nil
}

func send(ctx context.Context, h *retry.Helper, target, method string, payload []byte) ([]byte, error) {
	_, f := retry.Begin(h, ctx, target, method, payload)
	v, err := f.Get(ctx)
	if err != nil {
		if err == future.ErrTimeout {
			return nil, errs.New(errs.CodeTimeout, "proxied election request timed out", nil)
		}
		return nil, err
	}
	return v, nil
}

// Campaign implements Strategy.
func (s *ProxiedStrategy) Campaign(ctx context.Context, name string, lease int64, value []byte) (wire.CampaignResponse, error) {
	req := struct {
		Name  string
		Lease int64
		Value []byte
	}{name, lease, value}
	resp, err := send(ctx, s.campaign, s.target, "Campaign", encode(req))
	if err != nil {
		return wire.CampaignResponse{Status: err}, err
	}
	var out wire.CampaignResponse
	if derr := decode(resp, &out); derr != nil {
		return wire.CampaignResponse{Status: errs.ErrParseFailed}, errs.New(errs.CodeParseFailed, "failed to decode Campaign reply", derr)
	}
	return out, nil
}

// Leader implements Strategy.
func (s *ProxiedStrategy) Leader(ctx context.Context, name string) (wire.LeaderResponse, error) {
	req := struct{ Name string }{name}
	resp, err := send(ctx, s.leader, s.target, "Leader", encode(req))
	if err != nil {
		return wire.LeaderResponse{Status: err}, err
	}
	var out wire.LeaderResponse
	if derr := decode(resp, &out); derr != nil {
		return wire.LeaderResponse{Status: errs.ErrParseFailed}, errs.New(errs.CodeParseFailed, "failed to decode Leader reply", derr)
	}
	return out, nil
}

// Resign implements Strategy.
func (s *ProxiedStrategy) Resign(ctx context.Context, leader wire.LeaderKey) (wire.ResignResponse, error) {
	resp, err := send(ctx, s.resign, s.target, "Resign", encode(leader))
	if err != nil {
		return wire.ResignResponse{Status: err}, err
	}
	var out wire.ResignResponse
	if derr := decode(resp, &out); derr != nil {
		return wire.ResignResponse{Status: errs.ErrParseFailed}, errs.New(errs.CodeParseFailed, "failed to decode Resign reply", derr)
	}
	return out, nil
}

// IsConnected implements Strategy: the proxied election strategy always
// reports connected, matching MetaStoreElectionClientStrategy::IsConnected.
func (s *ProxiedStrategy) IsConnected() bool {
	return true
}

// Finalize implements Strategy.
func (s *ProxiedStrategy) Finalize() {
	s.mu.Lock()
	observers := make([]*proxiedObserver, 0, len(s.observers))
	for o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()
	for _, o := range observers {
		o.Close()
	}
}

// OnAddressUpdated re-points the bus and re-establishes every live
// observer against the new address, matching ReconnectSuccess's
// re-observe-everything behavior.
func (s *ProxiedStrategy) OnAddressUpdated(addr string) {
	s.bus.OnAddressUpdated(addr)
	s.mu.Lock()
	observers := make([]*proxiedObserver, 0, len(s.observers))
	for o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()
	for _, o := range observers {
		o.resync()
	}
}
