// Package lease implements the direct (C5) and proxied (C6) lease
// strategies: Grant/Revoke/KeepAliveOnce, grounded on
// etcd_lease_client_strategy.cpp and meta_store_lease_client_strategy.cpp.
package lease

import (
	"context"

	"github.com/metastorehq/metastore-client/internal/wire"
)

// Strategy is the surface shared by the direct and proxied lease
// strategies.
type Strategy interface {
	Grant(ctx context.Context, ttl int64) (wire.LeaseGrantResponse, error)
	Revoke(ctx context.Context, leaseID int64) (wire.LeaseRevokeResponse, error)
	KeepAliveOnce(ctx context.Context, leaseID int64) (wire.LeaseKeepAliveResponse, error)
	IsConnected() bool
	Finalize()
}
