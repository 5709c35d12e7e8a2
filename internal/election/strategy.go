// Package election implements the direct (C7) and proxied (C8) election
// strategies: Campaign/Leader/Resign/Observe, grounded on
// etcd_election_client_strategy.cpp and
// meta_store_election_client_strategy.cpp.
package election

import (
	"context"

	"github.com/metastorehq/metastore-client/internal/wire"
)

// LeaderCallback is invoked with each leadership proclamation delivered
// by an Observe subscription.
type LeaderCallback func(wire.LeaderResponse)

// Observer is the caller-visible handle returned by Observe.
type Observer interface {
	Close()
}

// Strategy is the surface shared by the direct and proxied election
// strategies.
type Strategy interface {
	Campaign(ctx context.Context, name string, lease int64, value []byte) (wire.CampaignResponse, error)
	Leader(ctx context.Context, name string) (wire.LeaderResponse, error)
	Resign(ctx context.Context, leader wire.LeaderKey) (wire.ResignResponse, error)
	Observe(ctx context.Context, name string, cb LeaderCallback) (Observer, error)
	IsConnected() bool
	Finalize()
}
