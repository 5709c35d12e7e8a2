package leader

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metastorehq/metastore-client/internal/kv"
	"github.com/metastorehq/metastore-client/internal/wire"
)

type txnFakeKV struct {
	mu        sync.Mutex
	get       func(ctx context.Context, key []byte, opt wire.GetOption) (wire.GetResponse, error)
	commitTxn func(ctx context.Context, txn kv.Txn) (wire.TxnResponse, error)
	watches   int32
}

func (f *txnFakeKV) Put(context.Context, []byte, []byte, wire.PutOption) (wire.PutResponse, error) {
	return wire.PutResponse{}, nil
}
func (f *txnFakeKV) Get(ctx context.Context, key []byte, opt wire.GetOption) (wire.GetResponse, error) {
	f.mu.Lock()
	fn := f.get
	f.mu.Unlock()
	if fn == nil {
		return wire.GetResponse{Header: wire.ResponseHeader{Revision: 1}}, nil
	}
	return fn(ctx, key, opt)
}
func (f *txnFakeKV) Delete(context.Context, []byte, wire.DeleteOption) (wire.DeleteResponse, error) {
	return wire.DeleteResponse{}, nil
}
func (f *txnFakeKV) CommitTxn(ctx context.Context, txn kv.Txn) (wire.TxnResponse, error) {
	f.mu.Lock()
	fn := f.commitTxn
	f.mu.Unlock()
	return fn(ctx, txn)
}
func (f *txnFakeKV) Watch(context.Context, []byte, wire.WatchOption, kv.Observer, kv.Syncer) (kv.Watcher, error) {
	atomic.AddInt32(&f.watches, 1)
	return noopWatcher{}, nil
}
func (f *txnFakeKV) GetAndWatch(context.Context, []byte, wire.WatchOption, kv.Observer, kv.Syncer) (kv.Watcher, error) {
	return noopWatcher{}, nil
}
func (f *txnFakeKV) IsConnected() bool { return true }
func (f *txnFakeKV) Finalize()         {}

type noopWatcher struct{}

func (noopWatcher) Close() {}

type txnFakeLease struct {
	grantCalls  int32
	revokeCalls int32
	keepAlive   func(ctx context.Context, leaseID int64) (wire.LeaseKeepAliveResponse, error)
}

func (f *txnFakeLease) Grant(context.Context, int64) (wire.LeaseGrantResponse, error) {
	atomic.AddInt32(&f.grantCalls, 1)
	return wire.LeaseGrantResponse{LeaseId: 42}, nil
}
func (f *txnFakeLease) Revoke(context.Context, int64) (wire.LeaseRevokeResponse, error) {
	atomic.AddInt32(&f.revokeCalls, 1)
	return wire.LeaseRevokeResponse{}, nil
}
func (f *txnFakeLease) KeepAliveOnce(ctx context.Context, leaseID int64) (wire.LeaseKeepAliveResponse, error) {
	if f.keepAlive != nil {
		return f.keepAlive(ctx, leaseID)
	}
	return wire.LeaseKeepAliveResponse{LeaseId: leaseID, TTL: 10}, nil
}
func (f *txnFakeLease) IsConnected() bool { return true }
func (f *txnFakeLease) Finalize()         {}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestTxnActorBecomesLeaderOnSuccessfulCampaign(t *testing.T) {
	kvc := &txnFakeKV{
		get: func(context.Context, []byte, wire.GetOption) (wire.GetResponse, error) {
			return wire.GetResponse{Header: wire.ResponseHeader{Revision: 1}}, nil
		},
		commitTxn: func(context.Context, kv.Txn) (wire.TxnResponse, error) {
			return wire.TxnResponse{Succeeded: true}, nil
		},
	}
	lc := &txnFakeLease{}

	var becameLeader int32
	a := NewTxnActor(Config{ElectionKey: "/leader/a", Proposal: "node-1", LeaseTTL: 10, KeepAliveInterval: time.Hour}, kvc, lc, nil)
	a.RegisterCallbackWhenBecomeLeader(func() { atomic.AddInt32(&becameLeader, 1) })
	a.Start()
	defer a.Stop()

	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&becameLeader) == 1 })
	if atomic.LoadInt32(&kvc.watches) == 0 {
		t.Fatal("expected a watch to be started after bootstrap")
	}
}

func TestTxnActorRevokesLeaseOnCampaignConflict(t *testing.T) {
	kvc := &txnFakeKV{
		get: func(context.Context, []byte, wire.GetOption) (wire.GetResponse, error) {
			return wire.GetResponse{Header: wire.ResponseHeader{Revision: 1}, Kvs: []wire.KeyValue{{Key: []byte("/leader/a")}}}, nil
		},
		commitTxn: func(context.Context, kv.Txn) (wire.TxnResponse, error) {
			return wire.TxnResponse{Succeeded: false}, nil
		},
	}
	lc := &txnFakeLease{}

	a := NewTxnActor(Config{ElectionKey: "/leader/a", Proposal: "node-1", LeaseTTL: 10, KeepAliveInterval: time.Hour}, kvc, lc, nil)
	a.Elect()
	defer a.Stop()

	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&lc.revokeCalls) >= 1 })
}

func TestTxnActorStopRevokesLeaseWhenLeader(t *testing.T) {
	kvc := &txnFakeKV{
		get: func(context.Context, []byte, wire.GetOption) (wire.GetResponse, error) {
			return wire.GetResponse{Header: wire.ResponseHeader{Revision: 1}}, nil
		},
		commitTxn: func(context.Context, kv.Txn) (wire.TxnResponse, error) {
			return wire.TxnResponse{Succeeded: true}, nil
		},
	}
	lc := &txnFakeLease{}

	var becameLeader int32
	a := NewTxnActor(Config{ElectionKey: "/leader/a", Proposal: "node-1", LeaseTTL: 10, KeepAliveInterval: time.Hour}, kvc, lc, nil)
	a.RegisterCallbackWhenBecomeLeader(func() { atomic.AddInt32(&becameLeader, 1) })
	a.Start()

	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&becameLeader) == 1 })
	a.Stop()

	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&lc.revokeCalls) > 0 })
}
