// Package leader implements the two leader-actor flavors (C13): one
// backed by the election client's Campaign/Observe primitive
// (EtcdActor) and one built purely out of KV create-if-absent
// transactions plus a watch (TxnActor), for backends that only
// expose KV. Grounded on etcd_leader_actor.cpp/txn_leader_actor.cpp and
// leader_actor.h's shared proposal/lease/keep-alive fields. Every
// mutable field is owned by a single internal/actor.Mailbox goroutine,
// mirroring the litebus actor serialization the originals relied on.
package leader

import (
	"time"

	"github.com/metastorehq/metastore-client/internal/explorer"
)

// Config carries the election identity and timing every leader actor
// flavor shares, matching LeaderActor's electionKey_/proposal_/
// leaseTTL_/keepAliveInterval_ fields.
type Config struct {
	ElectionKey       string
	Proposal          string // this process's own address, used as the campaign value
	LeaseTTL          int64  // seconds
	KeepAliveInterval time.Duration
	// RenewInterval re-arms Campaign after this process observes itself
	// going from leader to follower, distinct from KeepAliveInterval's
	// lease keep-alive cadence. Only EtcdActor reads it; TxnActor ignores
	// it.
	RenewInterval time.Duration
}

// BecomeLeaderCallback is invoked once this process is observed as the
// current leader.
type BecomeLeaderCallback func()

// ResignCallback is invoked once this process is observed as no longer
// the leader.
type ResignCallback func()

// PublishLeaderCallback is invoked right after a successful campaign,
// before the observe/watch round trip confirms it — typically wired to
// an explorer.Cache's Update/FastPublish so local callers don't wait.
type PublishLeaderCallback func(explorer.LeaderInfo)

// Actor is the interface both flavors satisfy.
type Actor interface {
	// Elect starts (or no-ops if already in progress) a campaign cycle.
	Elect()
	RegisterCallbackWhenBecomeLeader(cb BecomeLeaderCallback)
	RegisterCallbackWhenResign(cb ResignCallback)
	RegisterPublishLeaderCallback(cb PublishLeaderCallback)
	// Start wires the actor to its leader-info source and begins
	// electing.
	Start()
	// Stop releases any held leadership and tears down the actor.
	Stop()
}
