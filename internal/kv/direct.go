package kv

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	etcdserverpb "go.etcd.io/etcd/api/v3/etcdserverpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/metastorehq/metastore-client/internal/errs"
	"github.com/metastorehq/metastore-client/internal/obslog"
	"github.com/metastorehq/metastore-client/internal/rpcchannel"
	"github.com/metastorehq/metastore-client/internal/wire"
)

// HealthGate reports whether the health monitor has declared the client
// unhealthy; the fall-break check consulted at the top of every request.
type HealthGate func() bool

// DirectStrategy is the direct (C3) KV strategy: Put/Get/Delete/Txn/Watch
// over the RPC channel, owning the watch stream's record bookkeeping.
type DirectStrategy struct {
	channel       *rpcchannel.Channel
	tablePrefix   string
	timeout       wire.TimeoutOption
	unhealthy     HealthGate
	log           obslog.Logger

	mu       sync.Mutex
	watchers map[*directWatcher]struct{}
}

// NewDirectStrategy builds a direct KV strategy over channel. unhealthy
// is consulted at the top of every operation as the fall-break gate.
func NewDirectStrategy(channel *rpcchannel.Channel, tablePrefix string, timeout wire.TimeoutOption, unhealthy HealthGate, log obslog.Logger) *DirectStrategy {
	if log == nil {
		log = obslog.NewNop()
	}
	return &DirectStrategy{
		channel:     channel,
		tablePrefix: tablePrefix,
		timeout:     timeout,
		unhealthy:   unhealthy,
		log:         log,
		watchers:    make(map[*directWatcher]struct{}),
	}
}

func (s *DirectStrategy) prefixed(key []byte) []byte {
	if s.tablePrefix == "" {
		return key
	}
	return append([]byte(s.tablePrefix), key...)
}

func (s *DirectStrategy) trimPrefix(key []byte) []byte {
	if s.tablePrefix == "" {
		return key
	}
	return []byte(strings.TrimPrefix(string(key), s.tablePrefix))
}

func (s *DirectStrategy) fallbreak() error {
	if s.unhealthy != nil && s.unhealthy() {
		return errs.New(errs.CodeFallbreak, "failed to call api of etcd", nil)
	}
	return nil
}

// retryEnvelope runs fn up to retryTimes, sleeping a uniform random
// backoff scaled by attempt between tries, matching DoPut/DoGet's loop.
func retryEnvelope[T any](ctx context.Context, s *DirectStrategy, retryTimes int, isUnknown func(error) bool, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if err := s.fallbreak(); err != nil {
		return zero, err
	}
	var lastErr error
	for attempt := 1; attempt <= retryTimes; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout.GrpcTimeout*time.Duration(attempt))
		v, err := fn(callCtx, attempt)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if isUnknown != nil && isUnknown(err) {
			return zero, errs.New(errs.CodeUnknown, "unretryable backend error", err)
		}
		if attempt == retryTimes {
			break
		}
		lower := s.timeout.OperationRetryIntervalLowerBound * time.Duration(attempt)
		upper := s.timeout.OperationRetryIntervalUpperBound * time.Duration(attempt)
		wait := lower
		if upper > lower {
			wait = lower + time.Duration(rand.Int64N(int64(upper-lower)))
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}
	return zero, errs.New(errs.CodeUnavailable, "exhausted retries", lastErr)
}

// Put implements Strategy.
func (s *DirectStrategy) Put(ctx context.Context, key, value []byte, opt wire.PutOption) (wire.PutResponse, error) {
	pkey := s.prefixed(key)
	resp, err := retryEnvelope(ctx, s, s.timeout.OperationRetryTimes, nil, func(ctx context.Context, attempt int) (*clientv3.PutResponse, error) {
		opts := []clientv3.OpOption{}
		if opt.Lease != 0 {
			opts = append(opts, clientv3.WithLease(clientv3.LeaseID(opt.Lease)))
		}
		if opt.PrevKv {
			opts = append(opts, clientv3.WithPrevKV())
		}
		return s.channel.Client().Put(ctx, string(pkey), string(value), opts...)
	})
	if err != nil {
		return wire.PutResponse{Status: err}, err
	}
	out := wire.PutResponse{Header: toHeader(resp.Header)}
	if resp.PrevKv != nil {
		kv := toKV(resp.PrevKv)
		kv.Key = s.trimPrefix(kv.Key)
		out.PrevKv = &kv
	}
	return out, nil
}

// Get implements Strategy.
func (s *DirectStrategy) Get(ctx context.Context, key []byte, opt wire.GetOption) (wire.GetResponse, error) {
	pkey := s.prefixed(key)
	resp, err := retryEnvelope(ctx, s, s.timeout.OperationRetryTimes, nil, func(ctx context.Context, attempt int) (*clientv3.GetResponse, error) {
		opts := getOpts(opt)
		return s.channel.Client().Get(ctx, string(pkey), opts...)
	})
	if err != nil {
		return wire.GetResponse{Status: err}, err
	}
	out := wire.GetResponse{Header: toHeader(resp.Header), More: resp.More, Count: resp.Count}
	for _, kv := range resp.Kvs {
		k := toKV(kv)
		k.Key = s.trimPrefix(k.Key)
		out.Kvs = append(out.Kvs, k)
	}
	return out, nil
}

func getOpts(opt wire.GetOption) []clientv3.OpOption {
	var opts []clientv3.OpOption
	if opt.Prefix {
		opts = append(opts, clientv3.WithPrefix())
	}
	if opt.KeysOnly {
		opts = append(opts, clientv3.WithKeysOnly())
	}
	if opt.CountOnly {
		opts = append(opts, clientv3.WithCountOnly())
	}
	if opt.Limit > 0 {
		opts = append(opts, clientv3.WithLimit(opt.Limit))
	}
	if opt.Revision != 0 {
		opts = append(opts, clientv3.WithRev(opt.Revision))
	}
	opts = append(opts, clientv3.WithSort(clientv3.SortTarget(opt.SortTarget), clientv3.SortOrder(opt.SortOrder)))
	return opts
}

// Delete implements Strategy. Delete gets a much larger retry budget
// than Put/Get/Txn (60 vs 5), per the original's distinct
// KV_DELETE_OPERATE_RETRY_TIMES constant.
func (s *DirectStrategy) Delete(ctx context.Context, key []byte, opt wire.DeleteOption) (wire.DeleteResponse, error) {
	pkey := s.prefixed(key)
	resp, err := retryEnvelope(ctx, s, s.timeout.DeleteRetryTimes, nil, func(ctx context.Context, attempt int) (*clientv3.DeleteResponse, error) {
		opts := []clientv3.OpOption{}
		if opt.Prefix {
			opts = append(opts, clientv3.WithPrefix())
		}
		if opt.PrevKv {
			opts = append(opts, clientv3.WithPrevKV())
		}
		return s.channel.Client().Delete(ctx, string(pkey), opts...)
	})
	if err != nil {
		return wire.DeleteResponse{Status: err}, err
	}
	out := wire.DeleteResponse{Header: toHeader(resp.Header), Deleted: resp.Deleted}
	for _, kv := range resp.PrevKvs {
		k := toKV(kv)
		k.Key = s.trimPrefix(k.Key)
		out.PrevKvs = append(out.PrevKvs, k)
	}
	return out, nil
}

// CommitTxn implements Strategy.
func (s *DirectStrategy) CommitTxn(ctx context.Context, txn Txn) (wire.TxnResponse, error) {
	cmps := make([]clientv3.Cmp, 0, len(txn.Cmps))
	for _, c := range txn.Cmps {
		cmps = append(cmps, toCmp(s.prefixed(c.Key), c))
	}
	thenOps := make([]clientv3.Op, 0, len(txn.Then))
	for _, op := range txn.Then {
		thenOps = append(thenOps, s.toOp(op))
	}
	elseOps := make([]clientv3.Op, 0, len(txn.Else))
	for _, op := range txn.Else {
		elseOps = append(elseOps, s.toOp(op))
	}

	resp, err := retryEnvelope(ctx, s, s.timeout.OperationRetryTimes, nil, func(ctx context.Context, attempt int) (*clientv3.TxnResponse, error) {
		return s.channel.Client().Txn(ctx).If(cmps...).Then(thenOps...).Else(elseOps...).Commit()
	})
	if err != nil {
		return wire.TxnResponse{Status: err}, err
	}

	expected := len(txn.Then)
	if !resp.Succeeded {
		expected = len(txn.Else)
	}
	if len(resp.Responses) != expected {
		return wire.TxnResponse{Status: errs.ErrWrongResponseSize}, errs.New(errs.CodeWrongResponseSize, "unexpected number of txn responses", nil)
	}

	out := wire.TxnResponse{Header: toHeader(resp.Header), Succeeded: resp.Succeeded}
	ops := txn.Then
	if !resp.Succeeded {
		ops = txn.Else
	}
	for i, r := range resp.Responses {
		out.Responses = append(out.Responses, s.decodeTxnOpResponse(ops[i].Type, r))
	}
	return out, nil
}

func (s *DirectStrategy) toOp(op TxnOp) clientv3.Op {
	key := string(s.prefixed(op.Key))
	switch op.Type {
	case wire.TxnOpPut:
		opts := []clientv3.OpOption{}
		if op.Opt.Lease != 0 {
			opts = append(opts, clientv3.WithLease(clientv3.LeaseID(op.Opt.Lease)))
		}
		if op.Opt.PrevKv {
			opts = append(opts, clientv3.WithPrevKV())
		}
		return clientv3.OpPut(key, string(op.Value), opts...)
	case wire.TxnOpDelete:
		opts := []clientv3.OpOption{}
		if op.Opt.Prefix {
			opts = append(opts, clientv3.WithPrefix())
		}
		if op.Opt.PrevKv {
			opts = append(opts, clientv3.WithPrevKV())
		}
		return clientv3.OpDelete(key, opts...)
	default: // TxnOpGet
		opts := getOpts(wire.GetOption{
			Prefix:     op.Opt.Prefix,
			Limit:      op.Opt.Limit,
			SortOrder:  op.Opt.SortOrder,
			SortTarget: op.Opt.SortTarget,
		})
		return clientv3.OpGet(key, opts...)
	}
}

func (s *DirectStrategy) decodeTxnOpResponse(t wire.TxnOperationType, r *etcdserverpb.ResponseOp) wire.TxnOperationResponse {
	switch t {
	case wire.TxnOpPut:
		pr := r.GetResponsePut()
		out := wire.PutResponse{}
		if pr != nil {
			out.Header = toHeader(pr.Header)
			if pr.PrevKv != nil {
				k := toKV(pr.PrevKv)
				k.Key = s.trimPrefix(k.Key)
				out.PrevKv = &k
			}
		}
		return wire.TxnOperationResponse{Type: t, Put: &out}
	case wire.TxnOpDelete:
		dr := r.GetResponseDeleteRange()
		out := wire.DeleteResponse{}
		if dr != nil {
			out.Header = toHeader(dr.Header)
			out.Deleted = dr.Deleted
			for _, kv := range dr.PrevKvs {
				k := toKV(kv)
				k.Key = s.trimPrefix(k.Key)
				out.PrevKvs = append(out.PrevKvs, k)
			}
		}
		return wire.TxnOperationResponse{Type: t, Delete: &out}
	default:
		gr := r.GetResponseRange()
		out := wire.GetResponse{}
		if gr != nil {
			out.Header = toHeader(gr.Header)
			out.More = gr.More
			out.Count = gr.Count
			for _, kv := range gr.Kvs {
				k := toKV(kv)
				k.Key = s.trimPrefix(k.Key)
				out.Kvs = append(out.Kvs, k)
			}
		}
		return wire.TxnOperationResponse{Type: t, Get: &out}
	}
}

// IsConnected implements Strategy.
func (s *DirectStrategy) IsConnected() bool {
	return s.channel.IsConnected()
}

// Finalize implements Strategy: closes every outstanding watcher.
func (s *DirectStrategy) Finalize() {
	s.mu.Lock()
	watchers := make([]*directWatcher, 0, len(s.watchers))
	for w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()
	for _, w := range watchers {
		w.Close()
	}
}
