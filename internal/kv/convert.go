package kv

import (
	etcdserverpb "go.etcd.io/etcd/api/v3/etcdserverpb"
	pb "go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/metastorehq/metastore-client/internal/wire"
)

func toHeader(h *etcdserverpb.ResponseHeader) wire.ResponseHeader {
	if h == nil {
		return wire.ResponseHeader{}
	}
	return wire.ResponseHeader{
		ClusterId: h.ClusterId,
		MemberId:  h.MemberId,
		Revision:  h.Revision,
		RaftTerm:  h.RaftTerm,
	}
}

func toKV(kv *pb.KeyValue) wire.KeyValue {
	return wire.KeyValue{
		Key:            append([]byte(nil), kv.Key...),
		Value:          append([]byte(nil), kv.Value...),
		CreateRevision: kv.CreateRevision,
		ModRevision:    kv.ModRevision,
		Version:        kv.Version,
		Lease:          kv.Lease,
	}
}

func toEvent(ev *pb.Event) wire.WatchEvent {
	out := wire.WatchEvent{Kv: toKV(ev.Kv)}
	switch ev.Type {
	case pb.DELETE:
		out.Type = wire.EventDelete
	default:
		out.Type = wire.EventPut
	}
	if ev.PrevKv != nil {
		pk := toKV(ev.PrevKv)
		out.PrevKv = &pk
	}
	return out
}

func toCmp(key []byte, c Cmp) clientv3.Cmp {
	k := string(key)
	var cmp clientv3.Cmp
	switch c.Target {
	case CmpVersion:
		cmp = clientv3.Compare(clientv3.Version(k), "=", c.Value)
	case CmpCreateRevision:
		cmp = clientv3.Compare(clientv3.CreateRevision(k), "=", c.Value)
	case CmpModRevision:
		cmp = clientv3.Compare(clientv3.ModRevision(k), "=", c.Value)
	default:
		cmp = clientv3.Compare(clientv3.Value(k), "=", string(c.Bytes))
	}
	switch c.Result {
	case CmpGreater:
		cmp.Result = etcdserverpb.Compare_GREATER
	case CmpLess:
		cmp.Result = etcdserverpb.Compare_LESS
	case CmpNotEqual:
		cmp.Result = etcdserverpb.Compare_NOT_EQUAL
	default:
		cmp.Result = etcdserverpb.Compare_EQUAL
	}
	return cmp
}
