package lease

import (
	"context"
	"encoding/json"

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

// ProxiedStrategy is the proxied (C6) lease strategy: Grant/Revoke/
// KeepAliveOnce delivered as UUID-correlated messages to a peer lease
// service via the retry helper, one Helper per operation kind mirroring
// grantHelper_/revokeHelper_/keepAliveOnceHelper_.
type ProxiedStrategy struct {
	bus    bus.Bus
	target string
	log    obslog.Logger

	grant     *retry.Helper
	revoke    *retry.Helper
	keepAlive *retry.Helper
}

// NewProxiedStrategy builds a proxied lease strategy bound to peerBus,
// addressing every message at target (the lease service actor address).
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
		grant:     retry.New(send, backoff, limit, log),
		revoke:    retry.New(send, backoff, limit, log),
		keepAlive: retry.New(send, backoff, limit, log),
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

// helperFor routes a reply to the helper that is actually tracking its
// request id, since a single replies channel is shared by all three
// operation kinds.
func (s *ProxiedStrategy) helperFor(reply bus.Reply) *retry.Helper {
	for _, h := range []*retry.Helper{s.grant, s.revoke, s.keepAlive} {
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
			return nil, errs.New(errs.CodeTimeout, "proxied lease request timed out", nil)
		}
		return nil, err
	}
	return v, nil
}

// Grant implements Strategy.
func (s *ProxiedStrategy) Grant(ctx context.Context, ttl int64) (wire.LeaseGrantResponse, error) {
	req := struct{ TTL int64 }{ttl}
	resp, err := send(ctx, s.grant, s.target, "ReceiveGrant", encode(req))
	if err != nil {
		return wire.LeaseGrantResponse{Status: err}, err
	}
	var out wire.LeaseGrantResponse
	if derr := decode(resp, &out); derr != nil {
		return wire.LeaseGrantResponse{Status: errs.ErrParseFailed}, errs.New(errs.CodeParseFailed, "failed to decode Grant reply", derr)
	}
	return out, nil
}

// Revoke implements Strategy.
func (s *ProxiedStrategy) Revoke(ctx context.Context, leaseID int64) (wire.LeaseRevokeResponse, error) {
	req := struct{ LeaseId int64 }{leaseID}
	resp, err := send(ctx, s.revoke, s.target, "ReceiveRevoke", encode(req))
	if err != nil {
		return wire.LeaseRevokeResponse{Status: err}, err
	}
	var out wire.LeaseRevokeResponse
	if derr := decode(resp, &out); derr != nil {
		return wire.LeaseRevokeResponse{Status: errs.ErrParseFailed}, errs.New(errs.CodeParseFailed, "failed to decode Revoke reply", derr)
	}
	return out, nil
}

// KeepAliveOnce implements Strategy.
func (s *ProxiedStrategy) KeepAliveOnce(ctx context.Context, leaseID int64) (wire.LeaseKeepAliveResponse, error) {
	req := struct{ LeaseId int64 }{leaseID}
	resp, err := send(ctx, s.keepAlive, s.target, "ReceiveKeepAliveOnce", encode(req))
	if err != nil {
		return wire.LeaseKeepAliveResponse{Status: err}, err
	}
	var out wire.LeaseKeepAliveResponse
	if derr := decode(resp, &out); derr != nil {
		return wire.LeaseKeepAliveResponse{Status: errs.ErrParseFailed}, errs.New(errs.CodeParseFailed, "failed to decode KeepAliveOnce reply", derr)
	}
	return out, nil
}

// IsConnected implements Strategy. The proxied lease strategy is always
// considered connected, whether or not an address is configured; it has no
// independent connectivity signal, matching MetaStoreLeaseClientStrategy
// ::IsConnected always returning true.
func (s *ProxiedStrategy) IsConnected() bool {
	return true
}

// Finalize implements Strategy. Nothing to tear down: the bus owns the
// underlying transport lifecycle.
func (s *ProxiedStrategy) Finalize() {}

// OnAddressUpdated implements the strategy manager's proxy reconnect
// fan-out.
func (s *ProxiedStrategy) OnAddressUpdated(addr string) {
	s.bus.OnAddressUpdated(addr)
}
