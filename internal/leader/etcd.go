package leader

import (
	"context"
	"time"

	"github.com/metastorehq/metastore-client/internal/actor"
	"github.com/metastorehq/metastore-client/internal/election"
	"github.com/metastorehq/metastore-client/internal/explorer"
	"github.com/metastorehq/metastore-client/internal/lease"
	"github.com/metastorehq/metastore-client/internal/obslog"
	"github.com/metastorehq/metastore-client/internal/wire"
)

// EtcdActor campaigns through an election.Strategy and learns of
// leadership changes from an explorer.Cache. It opens no Observe
// subscription itself: onLeaderChange runs only when something calls
// Update on the cache, such as the callback registered through
// RegisterPublishLeaderCallback. Grounded on etcd_leader_actor.cpp.
type EtcdActor struct {
	cfg      Config
	lease    lease.Strategy
	election election.Strategy
	cache    *explorer.Cache
	log      obslog.Logger

	mailbox *actor.Mailbox

	campaigning      bool
	currentLeaseID   int64
	cachedLeaderInfo explorer.LeaderInfo
	leaderKey        wire.LeaderKey

	onBecomeLeader  BecomeLeaderCallback
	onResign        ResignCallback
	onPublishLeader PublishLeaderCallback

	callbackID string
}

// NewEtcdActor builds an EtcdActor. cache is the shared leader-info
// cache this actor both feeds (via RegisterPublishLeaderCallback,
// typically wired to cache.Update) and listens to for leadership
// change notifications.
func NewEtcdActor(cfg Config, leaseClient lease.Strategy, electionClient election.Strategy, cache *explorer.Cache, log obslog.Logger) *EtcdActor {
	if log == nil {
		log = obslog.NewNop()
	}
	return &EtcdActor{
		cfg:            cfg,
		lease:          leaseClient,
		election:       electionClient,
		cache:          cache,
		log:            log,
		currentLeaseID: -1,
		mailbox:        actor.NewMailbox(),
		callbackID:     cfg.ElectionKey + "-leaderactor",
	}
}

func (a *EtcdActor) RegisterCallbackWhenBecomeLeader(cb BecomeLeaderCallback) {
	a.mailbox.Post(func() { a.onBecomeLeader = cb })
}

func (a *EtcdActor) RegisterCallbackWhenResign(cb ResignCallback) {
	a.mailbox.Post(func() { a.onResign = cb })
}

func (a *EtcdActor) RegisterPublishLeaderCallback(cb PublishLeaderCallback) {
	a.mailbox.Post(func() { a.onPublishLeader = cb })
}

// Start registers for leader-change notifications and kicks off the
// first election attempt, matching Init()'s AddLeaderChangedCallback
// plus the caller-driven first Elect().
func (a *EtcdActor) Start() {
	a.cache.RegisterLeaderChangedCallback(a.callbackID, func(info explorer.LeaderInfo) {
		a.mailbox.Post(func() { a.onLeaderChange(info) })
	})
	a.Elect()
}

// Stop resigns any held leadership and tears the actor down, matching
// Finalize()'s Resign + RemoveLeaderChangedCallback.
func (a *EtcdActor) Stop() {
	a.cache.UnregisterLeaderChangedCallback(a.callbackID)
	done := make(chan struct{})
	a.mailbox.Post(func() {
		if a.leaderKey.Key != nil {
			_, _ = a.election.Resign(context.Background(), a.leaderKey)
		}
		close(done)
	})
	<-done
	a.mailbox.Stop()
}

// Elect starts a campaign cycle, a no-op if one is already running.
func (a *EtcdActor) Elect() {
	a.mailbox.Post(func() { a.doElect() })
}

func (a *EtcdActor) doElect() {
	if a.campaigning {
		a.log.Warnf("leader(%s): an election already started, wait this process finished", a.cfg.ElectionKey)
		return
	}
	a.campaigning = true
	a.currentLeaseID = -1
	a.log.Infof("leader(%s): begin elect", a.cfg.ElectionKey)
	go a.grantLease()
}

func (a *EtcdActor) grantLease() {
	resp, err := a.lease.Grant(context.Background(), a.cfg.LeaseTTL)
	a.mailbox.Post(func() { a.onGrantResponse(resp, err) })
}

func (a *EtcdActor) onGrantResponse(resp wire.LeaseGrantResponse, err error) {
	if err != nil || resp.Status != nil {
		a.log.Errorf("leader(%s): failed to grant a lease", a.cfg.ElectionKey)
		a.currentLeaseID = -1
		a.finishCampaign(wire.CampaignResponse{}, errGrantFailed)
		return
	}
	a.log.Infof("leader(%s): succeed to grant a lease(%d)", a.cfg.ElectionKey, resp.LeaseId)
	a.currentLeaseID = resp.LeaseId
	go a.keepAliveLoop(resp.LeaseId)
	go a.campaign(resp.LeaseId)
}

func (a *EtcdActor) keepAliveLoop(leaseID int64) {
	a.mailbox.Post(func() { a.doKeepAlive(leaseID) })
}

func (a *EtcdActor) doKeepAlive(leaseID int64) {
	if leaseID != a.currentLeaseID {
		a.log.Warnf("leader(%s): keep alive lease(%d) is not current(%d), aborted", a.cfg.ElectionKey, leaseID, a.currentLeaseID)
		return
	}
	go func() {
		resp, err := a.lease.KeepAliveOnce(context.Background(), leaseID)
		a.mailbox.Post(func() { a.onKeepAlive(resp, err, leaseID) })
	}()
}

func (a *EtcdActor) onKeepAlive(resp wire.LeaseKeepAliveResponse, err error, leaseID int64) {
	if leaseID != a.currentLeaseID {
		a.log.Warnf("leader(%s): lease id(%d) is not current(%d), stop keep alive", a.cfg.ElectionKey, leaseID, a.currentLeaseID)
		return
	}
	if err != nil || resp.Status != nil || resp.TTL == 0 {
		a.log.Errorf("leader(%s): failed to keep alive a lease or lease timed out", a.cfg.ElectionKey)
		a.currentLeaseID = -1
		if !a.campaigning {
			time.AfterFunc(a.cfg.KeepAliveInterval, a.Elect)
		}
		// if still campaigning, the in-flight campaign's finishCampaign
		// will observe currentLeaseID == -1 and schedule the re-elect.
		return
	}
	time.AfterFunc(a.cfg.KeepAliveInterval, func() { a.keepAliveLoop(leaseID) })
}

func (a *EtcdActor) campaign(leaseID int64) {
	resp, err := a.election.Campaign(context.Background(), a.cfg.ElectionKey, leaseID, []byte(a.cfg.Proposal))
	a.mailbox.Post(func() { a.finishCampaign(resp, err) })
}

func (a *EtcdActor) finishCampaign(resp wire.CampaignResponse, err error) {
	a.campaigning = false

	if err != nil {
		time.AfterFunc(a.cfg.KeepAliveInterval, a.Elect)
		return
	}
	if a.currentLeaseID == -1 {
		a.log.Errorf("leader(%s): lease expired during campaign, re-electing", a.cfg.ElectionKey)
		time.AfterFunc(a.cfg.KeepAliveInterval, a.Elect)
		return
	}
	if resp.Status != nil {
		a.log.Errorf("leader(%s): campaign failed, re-campaigning", a.cfg.ElectionKey)
		time.AfterFunc(a.cfg.KeepAliveInterval, a.Elect)
		return
	}

	a.leaderKey = resp.Leader
	a.log.Infof("leader(%s): campaign succeeded, waiting for the observation to confirm", a.cfg.ElectionKey)
	info := explorer.LeaderInfo{Name: string(resp.Leader.Name), Address: a.cfg.Proposal, ElectRevision: resp.Leader.Rev}
	if a.onPublishLeader != nil {
		a.onPublishLeader(info)
	}
}

func (a *EtcdActor) onLeaderChange(info explorer.LeaderInfo) {
	if info.Address == a.cfg.Proposal {
		if a.cachedLeaderInfo.Address == a.cfg.Proposal {
			return
		}
		a.log.Infof("leader(%s): I am the leader according to the latest observation", a.cfg.ElectionKey)
		if a.onBecomeLeader != nil {
			a.onBecomeLeader()
		}
	} else {
		if a.cachedLeaderInfo.Address == a.cfg.Proposal {
			a.log.Infof("leader(%s): I am no longer the leader according to the latest observation", a.cfg.ElectionKey)
			if a.onResign != nil {
				a.onResign()
			}
			if a.cfg.RenewInterval > 0 {
				time.AfterFunc(a.cfg.RenewInterval, a.Elect)
			}
			return
		}
		if !a.campaigning {
			a.log.Infof("leader(%s): not electing and not the chosen leader, re-electing now", a.cfg.ElectionKey)
			time.AfterFunc(a.cfg.KeepAliveInterval, a.Elect)
		}
	}
	a.cachedLeaderInfo = info
}
