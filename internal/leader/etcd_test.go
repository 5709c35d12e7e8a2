package leader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metastorehq/metastore-client/internal/election"
	"github.com/metastorehq/metastore-client/internal/explorer"
	"github.com/metastorehq/metastore-client/internal/wire"
)

type etcdFakeElection struct {
	campaign func(ctx context.Context, name string, lease int64, value []byte) (wire.CampaignResponse, error)
	resigns  int32
}

func (f *etcdFakeElection) Campaign(ctx context.Context, name string, lease int64, value []byte) (wire.CampaignResponse, error) {
	return f.campaign(ctx, name, lease, value)
}
func (f *etcdFakeElection) Leader(context.Context, string) (wire.LeaderResponse, error) {
	return wire.LeaderResponse{}, nil
}
func (f *etcdFakeElection) Resign(context.Context, wire.LeaderKey) (wire.ResignResponse, error) {
	atomic.AddInt32(&f.resigns, 1)
	return wire.ResignResponse{}, nil
}
func (f *etcdFakeElection) Observe(context.Context, string, election.LeaderCallback) (election.Observer, error) {
	return nil, nil
}
func (f *etcdFakeElection) IsConnected() bool { return true }
func (f *etcdFakeElection) Finalize()         {}

func TestEtcdActorPublishesLeaderInfoOnSuccessfulCampaign(t *testing.T) {
	lc := &txnFakeLease{}
	ec := &etcdFakeElection{
		campaign: func(_ context.Context, name string, lease int64, value []byte) (wire.CampaignResponse, error) {
			return wire.CampaignResponse{Leader: wire.LeaderKey{Name: []byte(name), Rev: 7, Lease: lease}}, nil
		},
	}
	cache := explorer.New("/leader/a", nil)

	a := NewEtcdActor(Config{ElectionKey: "/leader/a", Proposal: "node-1", LeaseTTL: 10, KeepAliveInterval: time.Hour}, lc, ec, cache, nil)
	a.RegisterPublishLeaderCallback(func(info explorer.LeaderInfo) { cache.Update(info) })
	a.Start()
	defer a.Stop()

	waitUntil(t, time.Second, func() bool {
		info, ok := cache.Current()
		return ok && info.Address == "node-1" && info.ElectRevision == 7
	})
}

func TestEtcdActorBecomesLeaderWhenCacheConfirms(t *testing.T) {
	lc := &txnFakeLease{}
	ec := &etcdFakeElection{
		campaign: func(context.Context, string, int64, []byte) (wire.CampaignResponse, error) {
			return wire.CampaignResponse{Leader: wire.LeaderKey{Rev: 3}}, nil
		},
	}
	cache := explorer.New("/leader/a", nil)

	var becameLeader int32
	a := NewEtcdActor(Config{ElectionKey: "/leader/a", Proposal: "node-1", LeaseTTL: 10, KeepAliveInterval: time.Hour}, lc, ec, cache, nil)
	a.RegisterCallbackWhenBecomeLeader(func() { atomic.AddInt32(&becameLeader, 1) })
	a.RegisterPublishLeaderCallback(func(info explorer.LeaderInfo) { cache.Update(info) })
	a.Start()
	defer a.Stop()

	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&becameLeader) == 1 })
}

func TestEtcdActorStopResignsHeldLeadership(t *testing.T) {
	lc := &txnFakeLease{}
	ec := &etcdFakeElection{
		campaign: func(context.Context, string, int64, []byte) (wire.CampaignResponse, error) {
			return wire.CampaignResponse{Leader: wire.LeaderKey{Key: []byte("/leader/a"), Rev: 1}}, nil
		},
	}
	cache := explorer.New("/leader/a", nil)

	a := NewEtcdActor(Config{ElectionKey: "/leader/a", Proposal: "node-1", LeaseTTL: 10, KeepAliveInterval: time.Hour}, lc, ec, cache, nil)
	a.RegisterPublishLeaderCallback(func(info explorer.LeaderInfo) { cache.Update(info) })
	a.Start()
	waitUntil(t, time.Second, func() bool {
		info, ok := cache.Current()
		return ok && info.ElectRevision == 1
	})
	a.Stop()

	waitUntil(t, time.Second, func() bool { return atomic.LoadInt32(&ec.resigns) == 1 })
}
