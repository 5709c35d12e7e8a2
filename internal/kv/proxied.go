package kv

import (
	"context"
	"sync"

	"github.com/metastorehq/metastore-client/internal/bus"
	"github.com/metastorehq/metastore-client/internal/errs"
	"github.com/metastorehq/metastore-client/internal/future"
	"github.com/metastorehq/metastore-client/internal/obslog"
	"github.com/metastorehq/metastore-client/internal/retry"
	"github.com/metastorehq/metastore-client/internal/wire"
)

// ProxiedStrategy is the proxied (C4) KV strategy: the same surface as
// DirectStrategy, delivered as UUID-correlated messages to a peer
// service via the retry helper (C1).
type ProxiedStrategy struct {
	bus    bus.Bus
	helper *retry.Helper
	target string
	log    obslog.Logger

	mu       sync.Mutex
	watchers map[*proxiedWatcher]struct{}
}

// NewProxiedStrategy builds a proxied KV strategy bound to peerBus,
// addressing every message at target (the peer's logical address).
func NewProxiedStrategy(peerBus bus.Bus, target string, helper *retry.Helper, log obslog.Logger) *ProxiedStrategy {
	if log == nil {
		log = obslog.NewNop()
	}
	s := &ProxiedStrategy{bus: peerBus, helper: helper, target: target, log: log, watchers: make(map[*proxiedWatcher]struct{})}
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

func (s *ProxiedStrategy) send(ctx context.Context, method string, payload []byte) ([]byte, error) {
	requestID, f := retry.Begin(s.helper, ctx, s.target, method, payload)
	_ = requestID
	v, err := f.Get(ctx)
	if err != nil {
		if err == future.ErrTimeout {
			return nil, errs.New(errs.CodeTimeout, "proxied request timed out", nil)
		}
		return nil, err
	}
	return v, nil
}

// Put implements Strategy.
func (s *ProxiedStrategy) Put(ctx context.Context, key, value []byte, opt wire.PutOption) (wire.PutResponse, error) {
	req := struct {
		Key   []byte
		Value []byte
		Opt   wire.PutOption
	}{key, value, opt}
	resp, err := s.send(ctx, "Put", encode(req))
	if err != nil {
		return wire.PutResponse{Status: err}, err
	}
	var out wire.PutResponse
	if derr := decode(resp, &out); derr != nil {
		return wire.PutResponse{Status: errs.ErrParseFailed}, errs.New(errs.CodeParseFailed, "failed to decode Put reply", derr)
	}
	return out, nil
}

// Get implements Strategy.
func (s *ProxiedStrategy) Get(ctx context.Context, key []byte, opt wire.GetOption) (wire.GetResponse, error) {
	req := struct {
		Key []byte
		Opt wire.GetOption
	}{key, opt}
	resp, err := s.send(ctx, "Get", encode(req))
	if err != nil {
		return wire.GetResponse{Status: err}, err
	}
	var out wire.GetResponse
	if derr := decode(resp, &out); derr != nil {
		return wire.GetResponse{Status: errs.ErrParseFailed}, errs.New(errs.CodeParseFailed, "failed to decode Get reply", derr)
	}
	return out, nil
}

// Delete implements Strategy.
func (s *ProxiedStrategy) Delete(ctx context.Context, key []byte, opt wire.DeleteOption) (wire.DeleteResponse, error) {
	req := struct {
		Key []byte
		Opt wire.DeleteOption
	}{key, opt}
	resp, err := s.send(ctx, "Delete", encode(req))
	if err != nil {
		return wire.DeleteResponse{Status: err}, err
	}
	var out wire.DeleteResponse
	if derr := decode(resp, &out); derr != nil {
		return wire.DeleteResponse{Status: errs.ErrParseFailed}, errs.New(errs.CodeParseFailed, "failed to decode Delete reply", derr)
	}
	return out, nil
}

// CommitTxn implements Strategy.
func (s *ProxiedStrategy) CommitTxn(ctx context.Context, txn Txn) (wire.TxnResponse, error) {
	resp, err := s.send(ctx, "CommitTxn", encode(txn))
	if err != nil {
		return wire.TxnResponse{Status: err}, err
	}
	var out wire.TxnResponse
	if derr := decode(resp, &out); derr != nil {
		return wire.TxnResponse{Status: errs.ErrParseFailed}, errs.New(errs.CodeParseFailed, "failed to decode CommitTxn reply", derr)
	}
	return out, nil
}

// IsConnected implements Strategy.
func (s *ProxiedStrategy) IsConnected() bool {
	return s.bus.Address() != ""
}

// Finalize implements Strategy.
func (s *ProxiedStrategy) Finalize() {
	s.mu.Lock()
	watchers := make([]*proxiedWatcher, 0, len(s.watchers))
	for w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()
	for _, w := range watchers {
		w.Close()
	}
}

// OnAddressUpdated implements the strategy manager's proxy reconnect fan
// out: re-syncs and re-watches every live watcher against the new
// address.
func (s *ProxiedStrategy) OnAddressUpdated(addr string) {
	s.bus.OnAddressUpdated(addr)
	s.mu.Lock()
	watchers := make([]*proxiedWatcher, 0, len(s.watchers))
	for w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()
	for _, w := range watchers {
		w.resync()
	}
}
