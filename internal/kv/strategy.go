// Package kv implements the direct (C3) and proxied (C4) KV strategies:
// Put/Get/Delete/CommitTxn/Watch/GetAndWatch (a watch is cancelled through
// its Watcher's Close) over either the RPC channel, with a backoff retry
// envelope, or a peer bus, through internal/retry's helper. Grounded on etcd_kv_client_strategy.cpp's DoPut/DoGet/
// DoCommit retry envelope and its Watch/OnWatch/OnCreate/OnCancel engine.
package kv

import (
	"context"

	"github.com/metastorehq/metastore-client/internal/wire"
)

// Observer is invoked with each delivered batch of watch events. synced
// is true only for the initial GetAndWatch snapshot; it is false for
// ordinary streamed events. A resync after a server cancel delivers no
// batch: the Syncer's read only sets the revision the watch resumes at. Returning false has no effect on delivery (kept as a
// bool return to mirror the original's observer contract) but lets
// callers signal they are no longer interested without panicking.
type Observer func(events []wire.WatchEvent, synced bool) bool

// Syncer performs a fresh read to determine the revision to resume a
// watch at after the server reports a compaction the client watermark
// predates.
type Syncer func(ctx context.Context) (wire.GetResponse, error)

// Watcher is the caller-visible handle returned by Watch/GetAndWatch.
type Watcher interface {
	// Close cancels the watch. Idempotent.
	Close()
}

// Strategy is the surface shared by the direct and proxied KV
// strategies.
type Strategy interface {
	Put(ctx context.Context, key, value []byte, opt wire.PutOption) (wire.PutResponse, error)
	Get(ctx context.Context, key []byte, opt wire.GetOption) (wire.GetResponse, error)
	Delete(ctx context.Context, key []byte, opt wire.DeleteOption) (wire.DeleteResponse, error)
	CommitTxn(ctx context.Context, txn Txn) (wire.TxnResponse, error)
	Watch(ctx context.Context, key []byte, opt wire.WatchOption, observer Observer, syncer Syncer) (Watcher, error)
	GetAndWatch(ctx context.Context, key []byte, opt wire.WatchOption, observer Observer, syncer Syncer) (Watcher, error)
	IsConnected() bool
	Finalize()
}

// TxnOp is a single operation within a transaction branch.
type TxnOp struct {
	Type  wire.TxnOperationType
	Key   []byte
	Value []byte
	Opt   GetOrPutOpt
}

// GetOrPutOpt folds Put/Get/Delete per-op options into one struct so Txn
// branches can be built generically; only the fields relevant to Type
// are consulted.
type GetOrPutOpt struct {
	Lease       int64
	PrevKv      bool
	Prefix      bool
	Limit       int64
	SortOrder   wire.SortOrder
	SortTarget  wire.SortTarget
	AsyncBackup bool
}

// Cmp is a single transaction precondition.
type Cmp struct {
	Key    []byte
	Target CmpTarget
	Value  int64  // version/create_revision/mod_revision comparisons
	Bytes  []byte // value comparisons
	Result CmpResult
}

// CmpTarget selects which field of the key a Cmp inspects.
type CmpTarget int

const (
	CmpVersion CmpTarget = iota
	CmpCreateRevision
	CmpModRevision
	CmpValue
)

// CmpResult selects the comparison operator.
type CmpResult int

const (
	CmpEqual CmpResult = iota
	CmpGreater
	CmpLess
	CmpNotEqual
)

// Txn is a transaction request: If(cmps) Then(thenOps) Else(elseOps).
type Txn struct {
	Cmps        []Cmp
	Then        []TxnOp
	Else        []TxnOp
	AsyncBackup bool
}
