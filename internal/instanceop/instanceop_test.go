package instanceop

import (
	"context"
	"testing"

	"github.com/metastorehq/metastore-client/internal/errs"
	"github.com/metastorehq/metastore-client/internal/kv"
	"github.com/metastorehq/metastore-client/internal/wire"
)

type fakeKV struct {
	commitTxn func(ctx context.Context, txn kv.Txn) (wire.TxnResponse, error)
	get       func(ctx context.Context, key []byte, opt wire.GetOption) (wire.GetResponse, error)
}

func (f *fakeKV) Put(context.Context, []byte, []byte, wire.PutOption) (wire.PutResponse, error) {
	return wire.PutResponse{}, nil
}

func (f *fakeKV) Get(ctx context.Context, key []byte, opt wire.GetOption) (wire.GetResponse, error) {
	return f.get(ctx, key, opt)
}

func (f *fakeKV) Delete(context.Context, []byte, wire.DeleteOption) (wire.DeleteResponse, error) {
	return wire.DeleteResponse{}, nil
}

func (f *fakeKV) CommitTxn(ctx context.Context, txn kv.Txn) (wire.TxnResponse, error) {
	return f.commitTxn(ctx, txn)
}

func (f *fakeKV) Watch(context.Context, []byte, wire.WatchOption, kv.Observer, kv.Syncer) (kv.Watcher, error) {
	return nil, nil
}

func (f *fakeKV) GetAndWatch(context.Context, []byte, wire.WatchOption, kv.Observer, kv.Syncer) (kv.Watcher, error) {
	return nil, nil
}

func (f *fakeKV) IsConnected() bool { return true }
func (f *fakeKV) Finalize()         {}

func TestCreateSucceedsWhenBothKeysAbsent(t *testing.T) {
	client := &fakeKV{
		commitTxn: func(_ context.Context, txn kv.Txn) (wire.TxnResponse, error) {
			if len(txn.Cmps) != 2 || len(txn.Then) != 2 {
				t.Fatalf("expected two cmps/then ops for instance+route, got %d/%d", len(txn.Cmps), len(txn.Then))
			}
			return wire.TxnResponse{Succeeded: true, Responses: make([]wire.TxnOperationResponse, 2), Header: wire.ResponseHeader{Revision: 9}}, nil
		},
	}
	op := New(client, false)
	res, err := op.Create(context.Background(), &Record{Key: []byte("inst"), Value: []byte("v1")}, &Record{Key: []byte("route"), Value: []byte("r1")}, PersistAll)
	if err != nil || res.Status != nil {
		t.Fatalf("expected success, got res=%+v err=%v", res, err)
	}
	if res.ModRevision != 9 {
		t.Fatalf("expected modRevision 9, got %d", res.ModRevision)
	}
}

func TestCreateTreatsDuplicateValueAsSuccess(t *testing.T) {
	client := &fakeKV{
		commitTxn: func(context.Context, kv.Txn) (wire.TxnResponse, error) {
			return wire.TxnResponse{
				Succeeded: false,
				Responses: []wire.TxnOperationResponse{{
					Type: wire.TxnOpGet,
					Get: &wire.GetResponse{Kvs: []wire.KeyValue{{Value: []byte("v1"), ModRevision: 4, Version: 1}}},
				}},
			}, nil
		},
	}
	op := New(client, false)
	res, err := op.Create(context.Background(), &Record{Key: []byte("inst"), Value: []byte("v1")}, nil, PersistInstance)
	if err != nil || res.Status != nil {
		t.Fatalf("expected the duplicate re-put to be treated as success, got res=%+v err=%v", res, err)
	}
	if res.ModRevision != 4 {
		t.Fatalf("expected modRevision from observed kv, got %d", res.ModRevision)
	}
}

func TestCreateReturnsWrongVersionOnConflict(t *testing.T) {
	client := &fakeKV{
		commitTxn: func(context.Context, kv.Txn) (wire.TxnResponse, error) {
			return wire.TxnResponse{
				Succeeded: false,
				Responses: []wire.TxnOperationResponse{{
					Type: wire.TxnOpGet,
					Get: &wire.GetResponse{Kvs: []wire.KeyValue{{Value: []byte("other"), ModRevision: 4}}},
				}},
			}, nil
		},
	}
	op := New(client, false)
	res, err := op.Create(context.Background(), &Record{Key: []byte("inst"), Value: []byte("v1")}, nil, PersistInstance)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if !errs.ErrWrongVersion.Is(res.Status) {
		t.Fatalf("expected WRONG_VERSION, got %v", res.Status)
	}
	if string(res.Value) != "other" {
		t.Fatalf("expected conflicting value surfaced, got %q", res.Value)
	}
}

func TestCreateRejectsNilRecordSet(t *testing.T) {
	op := New(&fakeKV{}, false)
	_, err := op.Create(context.Background(), nil, nil, PersistNone)
	if !errs.ErrInvalidParameter.Is(err) {
		t.Fatalf("expected INVALID_PARAMETER, got %v", err)
	}
}

func TestModifyRequiresInstanceVersionMatch(t *testing.T) {
	var seenCmp kv.Cmp
	client := &fakeKV{
		commitTxn: func(_ context.Context, txn kv.Txn) (wire.TxnResponse, error) {
			seenCmp = txn.Cmps[0]
			return wire.TxnResponse{Succeeded: true, Responses: make([]wire.TxnOperationResponse, 1), Header: wire.ResponseHeader{Revision: 2}}, nil
		},
	}
	op := New(client, false)
	res, err := op.Modify(context.Background(), &Record{Key: []byte("inst"), Value: []byte("v2")}, nil, 3, PersistInstance)
	if err != nil || res.Status != nil {
		t.Fatalf("expected success, got res=%+v err=%v", res, err)
	}
	if seenCmp.Value != 3 || seenCmp.Target != kv.CmpVersion {
		t.Fatalf("expected the transaction to guard on version 3, got %+v", seenCmp)
	}
}

func TestDeleteReturnsDeleteFailedWhenNothingRemoved(t *testing.T) {
	client := &fakeKV{
		commitTxn: func(context.Context, kv.Txn) (wire.TxnResponse, error) {
			return wire.TxnResponse{
				Succeeded: true,
				Responses: []wire.TxnOperationResponse{{Type: wire.TxnOpDelete, Delete: &wire.DeleteResponse{Deleted: 0}}},
			}, nil
		},
	}
	op := New(client, false)
	res, err := op.Delete(context.Background(), &Record{Key: []byte("inst")}, nil, nil, 1)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if !errs.ErrDeleteFailed.Is(res.Status) {
		t.Fatalf("expected DELETE_FAILED, got %v", res.Status)
	}
}

func TestForceDeleteRunsSameOpsInBothBranches(t *testing.T) {
	client := &fakeKV{
		commitTxn: func(_ context.Context, txn kv.Txn) (wire.TxnResponse, error) {
			if len(txn.Then) != len(txn.Else) {
				t.Fatalf("expected force-delete Then/Else to carry the same ops, got %d/%d", len(txn.Then), len(txn.Else))
			}
			return wire.TxnResponse{Responses: make([]wire.TxnOperationResponse, 2), Header: wire.ResponseHeader{Revision: 7}}, nil
		},
	}
	op := New(client, false)
	res, err := op.ForceDelete(context.Background(), &Record{Key: []byte("inst")}, &Record{Key: []byte("route")}, nil)
	if err != nil || res.Status != nil {
		t.Fatalf("expected success, got res=%+v err=%v", res, err)
	}
}

func TestGetReturnsErrorStatusOnEmpty(t *testing.T) {
	client := &fakeKV{
		get: func(context.Context, []byte, wire.GetOption) (wire.GetResponse, error) {
			return wire.GetResponse{Count: 0}, nil
		},
	}
	op := New(client, false)
	res, err := op.Get(context.Background(), []byte("inst"))
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if res.Status == nil {
		t.Fatal("expected a non-nil status on an empty get response")
	}
}

func TestGetReturnsValueAndModRevision(t *testing.T) {
	client := &fakeKV{
		get: func(context.Context, []byte, wire.GetOption) (wire.GetResponse, error) {
			return wire.GetResponse{Kvs: []wire.KeyValue{{Value: []byte("v1"), ModRevision: 11}}}, nil
		},
	}
	op := New(client, false)
	res, err := op.Get(context.Background(), []byte("inst"))
	if err != nil || res.Status != nil {
		t.Fatalf("expected success, got res=%+v err=%v", res, err)
	}
	if string(res.Value) != "v1" || res.ModRevision != 11 {
		t.Fatalf("unexpected result: %+v", res)
	}
}
