// Package instanceop implements the four transaction templates layered
// over a KV strategy to create, modify, delete and force-delete a
// record pair (an instance key and an optional route key) with
// optimistic version checks and contention decoding. Grounded on
// instance_operator.h/instance_operator.cpp.
package instanceop

import (
	"context"

	"github.com/metastorehq/metastore-client/internal/errs"
	"github.com/metastorehq/metastore-client/internal/kv"
	"github.com/metastorehq/metastore-client/internal/wire"
)

// PersistenceType gates which of the instance/route keys a mutation
// actually writes.
type PersistenceType int32

const (
	// PersistNone selects neither key; Create and Modify reject it with
	// INVALID_PARAMETER and no KV write happens.
	PersistNone PersistenceType = iota
	// PersistInstance writes the instance key only.
	PersistInstance
	// PersistRoute writes the route key only.
	PersistRoute
	// PersistAll writes both the instance and route keys.
	PersistAll
)

// Record is a single key/value pair participating in a transaction
// template; Key is required, Value is only meaningful for writes.
type Record struct {
	Key   []byte
	Value []byte
}

// Result is the decoded outcome of a transaction template: either the
// operation succeeded (Status == nil) or it failed with the
// conflicting value and its modRevision attached for WRONG_VERSION
// failures.
type Result struct {
	Status         error
	Value          []byte
	ModRevision    int64
	CurrentVersion int64
}

// Operator wraps a kv.Strategy with the instance/route transaction
// templates. AsyncBackup controls the replication policy forwarded to
// every mutating op (the "low reliability" flag); it is orthogonal to
// PersistenceType, which instead picks which keys a call touches.
type Operator struct {
	kv          kv.Strategy
	asyncBackup bool
}

// New builds an Operator over client. asyncBackup is forwarded as the
// AsyncBackup option on every Put/Delete this operator issues.
func New(client kv.Strategy, asyncBackup bool) *Operator {
	return &Operator{kv: client, asyncBackup: asyncBackup}
}

func recordsFor(persist PersistenceType, instance, route *Record) []*Record {
	var out []*Record
	switch persist {
	case PersistInstance:
		out = append(out, instance)
	case PersistRoute:
		out = append(out, route)
	case PersistAll:
		out = append(out, instance, route)
	case PersistNone:
	}
	var filtered []*Record
	for _, r := range out {
		if r != nil {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Create transactionally writes instance and/or route (per persist)
// guarded by both having a zero version (i.e. not existing yet).
// Mirrors InstanceOperator::Create.
func (o *Operator) Create(ctx context.Context, instance, route *Record, persist PersistenceType) (Result, error) {
	records := recordsFor(persist, instance, route)
	if len(records) == 0 {
		return Result{}, errs.New(errs.CodeInvalidParameter, "instance info must be exist", nil)
	}

	var cmps []kv.Cmp
	var then []kv.TxnOp
	for _, r := range records {
		cmps = append(cmps, kv.Cmp{Key: r.Key, Target: kv.CmpVersion, Value: 0, Result: kv.CmpEqual})
		then = append(then, kv.TxnOp{Type: wire.TxnOpPut, Key: r.Key, Value: r.Value, Opt: kv.GetOrPutOpt{AsyncBackup: o.asyncBackup}})
	}
	els := []kv.TxnOp{{Type: wire.TxnOpGet, Key: records[0].Key, Opt: kv.GetOrPutOpt{Limit: 1, SortTarget: wire.SortByKey}}}

	resp, err := o.kv.CommitTxn(ctx, kv.Txn{Cmps: cmps, Then: then, Else: els})
	if err != nil {
		return Result{}, err
	}
	return decodeWrite(resp, records[0].Value, len(records))
}

// Modify transactionally overwrites instance and/or route (per
// persist) guarded by the instance key's version equaling version.
// Mirrors InstanceOperator::Modify.
func (o *Operator) Modify(ctx context.Context, instance, route *Record, version int64, persist PersistenceType) (Result, error) {
	records := recordsFor(persist, instance, route)
	if len(records) == 0 || instance == nil {
		return Result{}, errs.New(errs.CodeInvalidParameter, "instance info must be exist", nil)
	}

	cmps := []kv.Cmp{{Key: instance.Key, Target: kv.CmpVersion, Value: version, Result: kv.CmpEqual}}
	var then []kv.TxnOp
	for _, r := range records {
		then = append(then, kv.TxnOp{Type: wire.TxnOpPut, Key: r.Key, Value: r.Value, Opt: kv.GetOrPutOpt{AsyncBackup: o.asyncBackup}})
	}
	els := []kv.TxnOp{{Type: wire.TxnOpGet, Key: instance.Key, Opt: kv.GetOrPutOpt{Limit: 1, SortTarget: wire.SortByKey}}}

	resp, err := o.kv.CommitTxn(ctx, kv.Txn{Cmps: cmps, Then: then, Else: els})
	if err != nil {
		return Result{}, err
	}
	return decodeWrite(resp, instance.Value, len(records))
}

// Delete transactionally removes instance, route and an optional
// debug key, guarded by the instance key's version equaling version.
// Mirrors InstanceOperator::Delete.
func (o *Operator) Delete(ctx context.Context, instance, route, debug *Record, version int64) (Result, error) {
	if instance == nil {
		return Result{}, errs.New(errs.CodeInvalidParameter, "instance info must be exist", nil)
	}

	keys := []*Record{instance}
	if route != nil {
		keys = append(keys, route)
	}
	if debug != nil {
		keys = append(keys, debug)
	}

	cmps := []kv.Cmp{{Key: instance.Key, Target: kv.CmpVersion, Value: version, Result: kv.CmpEqual}}
	var then []kv.TxnOp
	for _, r := range keys {
		then = append(then, kv.TxnOp{Type: wire.TxnOpDelete, Key: r.Key, Opt: kv.GetOrPutOpt{AsyncBackup: o.asyncBackup}})
	}
	els := []kv.TxnOp{{Type: wire.TxnOpGet, Key: instance.Key, Opt: kv.GetOrPutOpt{SortTarget: wire.SortByKey}}}

	resp, err := o.kv.CommitTxn(ctx, kv.Txn{Cmps: cmps, Then: then, Else: els})
	if err != nil {
		return Result{}, err
	}
	return decodeDelete(resp, len(keys))
}

// ForceDelete unconditionally removes instance, route and an optional
// debug key regardless of current state. Both branches carry the same
// delete ops (without prevKv), so the value-not-empty check only decides
// the transaction's Succeeded flag. Mirrors InstanceOperator::ForceDelete.
func (o *Operator) ForceDelete(ctx context.Context, instance, route, debug *Record) (Result, error) {
	if instance == nil {
		return Result{}, errs.New(errs.CodeInvalidParameter, "instance info must be exist", nil)
	}

	keys := []*Record{instance}
	if route != nil {
		keys = append(keys, route)
	}
	if debug != nil {
		keys = append(keys, debug)
	}

	cmps := []kv.Cmp{{Key: instance.Key, Target: kv.CmpValue, Bytes: []byte(""), Result: kv.CmpNotEqual}}
	var then, els []kv.TxnOp
	for _, r := range keys {
		op := kv.TxnOp{Type: wire.TxnOpDelete, Key: r.Key, Opt: kv.GetOrPutOpt{AsyncBackup: o.asyncBackup}}
		then = append(then, op)
		els = append(els, op)
	}

	resp, err := o.kv.CommitTxn(ctx, kv.Txn{Cmps: cmps, Then: then, Else: els})
	if err != nil {
		return Result{}, err
	}
	if resp.Status != nil {
		return Result{Status: resp.Status}, nil
	}
	if len(resp.Responses) != len(keys) {
		return Result{Status: errs.New(errs.CodeWrongResponseSize, "the size of responses transaction return is incorrect", nil)}, nil
	}
	return Result{Status: nil, ModRevision: resp.Header.Revision}, nil
}

// Get reads the instance key and returns its value and modRevision.
// Mirrors InstanceOperator::GetInstance.
func (o *Operator) Get(ctx context.Context, key []byte) (Result, error) {
	resp, err := o.kv.Get(ctx, key, wire.GetOption{})
	if err != nil {
		return Result{}, err
	}
	if resp.Status != nil {
		return Result{Status: resp.Status}, nil
	}
	if len(resp.Kvs) == 0 {
		return Result{Status: errs.New(errs.CodeUnknown, "get response kv is empty", nil)}, nil
	}
	return Result{Status: nil, Value: resp.Kvs[0].Value, ModRevision: resp.Kvs[0].ModRevision}, nil
}

func decodeWrite(resp wire.TxnResponse, attemptedValue []byte, expectedCount int) (Result, error) {
	if resp.Status != nil {
		return Result{Status: resp.Status}, nil
	}
	if resp.Succeeded {
		if len(resp.Responses) != expectedCount {
			return Result{Status: errs.New(errs.CodeWrongResponseSize, "the size of responses transaction return is incorrect", nil)}, nil
		}
		return Result{Status: nil, ModRevision: resp.Header.Revision}, nil
	}

	if len(resp.Responses) == 0 || resp.Responses[0].Type != wire.TxnOpGet || resp.Responses[0].Get == nil {
		return Result{Status: errs.New(errs.CodeUnknown, "operation type is wrong", nil)}, nil
	}
	get := resp.Responses[0].Get
	if len(get.Kvs) == 0 {
		return Result{Status: errs.New(errs.CodeUnknown, "get response kv is empty", nil)}, nil
	}
	observed := get.Kvs[0]
	if string(observed.Value) == string(attemptedValue) {
		// a duplicate re-put raced us: the stored value already matches
		// what we attempted, so treat it as success.
		return Result{Status: nil, ModRevision: observed.ModRevision, CurrentVersion: observed.Version}, nil
	}
	return Result{
		Status:      errs.New(errs.CodeWrongVersion, "version is incorrect", nil),
		Value:       observed.Value,
		ModRevision: observed.ModRevision,
	}, nil
}

func decodeDelete(resp wire.TxnResponse, expectedCount int) (Result, error) {
	if resp.Status != nil {
		return Result{Status: resp.Status}, nil
	}
	if resp.Succeeded {
		if len(resp.Responses) != expectedCount {
			return Result{Status: errs.New(errs.CodeWrongResponseSize, "the size of responses transaction return is incorrect", nil)}, nil
		}
		if resp.Responses[0].Type != wire.TxnOpDelete || resp.Responses[0].Delete == nil {
			return Result{Status: errs.New(errs.CodeUnknown, "operation type is wrong", nil)}, nil
		}
		if resp.Responses[0].Delete.Deleted == 0 {
			return Result{Status: errs.New(errs.CodeDeleteFailed, "failed to delete KV", nil)}, nil
		}
		return Result{Status: nil, ModRevision: resp.Header.Revision}, nil
	}

	if len(resp.Responses) == 0 || resp.Responses[0].Type != wire.TxnOpGet || resp.Responses[0].Get == nil {
		return Result{Status: errs.New(errs.CodeUnknown, "operation type is wrong", nil)}, nil
	}
	get := resp.Responses[0].Get
	if len(get.Kvs) == 0 {
		return Result{Status: errs.New(errs.CodeUnknown, "get response kv is empty", nil)}, nil
	}
	return Result{
		Status:      errs.New(errs.CodeWrongVersion, "version is incorrect", nil),
		Value:       get.Kvs[0].Value,
		ModRevision: get.Kvs[0].ModRevision,
	}, nil
}
