package lease

import (
	etcdserverpb "go.etcd.io/etcd/api/v3/etcdserverpb"

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
