// Package maintenance implements the direct (C9) and proxied maintenance
// strategies: HealthCheck/IsConnected plus reconnect-callback plumbing,
// grounded on etcd_maintenance_client_strategy.cpp and
// meta_store_maintenance_client_strategy.cpp.
package maintenance

import (
	"context"

	"github.com/metastorehq/metastore-client/internal/wire"
)

// ReconnectedCallback is invoked once a previously broken channel has
// been re-established, with the (possibly new) peer address.
type ReconnectedCallback func(address string)

// Strategy is the surface shared by the direct and proxied maintenance
// strategies.
type Strategy interface {
	HealthCheck(ctx context.Context) (wire.StatusResponse, error)
	IsConnected() bool
	// CheckChannelAndWaitForReconnect blocks (in its own goroutine, if the
	// implementation schedules it that way) until the channel is healthy
	// again, then fires every bound reconnect callback.
	CheckChannelAndWaitForReconnect()
	BindReconnectedCallback(cb ReconnectedCallback)
	OnAddressUpdated(address string)
}
