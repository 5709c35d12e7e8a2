package leader

import (
	"context"
	"time"

	"github.com/metastorehq/metastore-client/internal/actor"
	"github.com/metastorehq/metastore-client/internal/kv"
	"github.com/metastorehq/metastore-client/internal/lease"
	"github.com/metastorehq/metastore-client/internal/obslog"
	"github.com/metastorehq/metastore-client/internal/wire"
)

// TxnActor implements leader election purely out of KV primitives: a
// create-if-absent transaction to campaign, and a watch on the election
// key to notice the leader disappearing. For backends that expose only
// KV and lease (no native election-server primitive). Grounded on
// txn_leader_actor.cpp.
type TxnActor struct {
	cfg   Config
	kv    kv.Strategy
	lease lease.Strategy
	log   obslog.Logger

	mailbox *actor.Mailbox

	leader      bool
	campaigning bool
	leaseID     int64
	watcher     kv.Watcher

	onBecomeLeader BecomeLeaderCallback
	onResign       ResignCallback
}

// NewTxnActor builds a TxnActor over kvClient/leaseClient.
func NewTxnActor(cfg Config, kvClient kv.Strategy, leaseClient lease.Strategy, log obslog.Logger) *TxnActor {
	if log == nil {
		log = obslog.NewNop()
	}
	return &TxnActor{cfg: cfg, kv: kvClient, lease: leaseClient, log: log, leaseID: -1, mailbox: actor.NewMailbox()}
}

func (a *TxnActor) RegisterCallbackWhenBecomeLeader(cb BecomeLeaderCallback) {
	a.mailbox.Post(func() { a.onBecomeLeader = cb })
}

func (a *TxnActor) RegisterCallbackWhenResign(cb ResignCallback) {
	a.mailbox.Post(func() { a.onResign = cb })
}

// RegisterPublishLeaderCallback exists to satisfy Actor and ignores cb;
// the txn flavor takes leadership from its own campaign transaction's
// result, so there's no separate publish-ahead-of-observation hook to
// wire.
func (a *TxnActor) RegisterPublishLeaderCallback(PublishLeaderCallback) {}

// Start issues the initial Get to decide whether to elect immediately
// or wait as a backup, then begins watching the election key, matching
// Init()'s Get().Then(...) chain.
func (a *TxnActor) Start() {
	go a.bootstrap()
}

func (a *TxnActor) bootstrap() {
	resp, err := a.kv.Get(context.Background(), []byte(a.cfg.ElectionKey), wire.GetOption{KeysOnly: true})
	if err != nil || resp.Status != nil {
		a.log.Errorf("leader(%s): error to get leader, delay elect", a.cfg.ElectionKey)
		time.AfterFunc(a.cfg.KeepAliveInterval, a.Elect)
	} else if len(resp.Kvs) == 0 {
		a.log.Infof("leader(%s): no leader, start elect", a.cfg.ElectionKey)
		a.Elect()
	}
	a.mailbox.Post(func() { a.startWatch(resp.Header.Revision + 1) })
}

func (a *TxnActor) startWatch(fromRevision int64) {
	observer := func(events []wire.WatchEvent, _ bool) bool {
		for i := len(events) - 1; i >= 0; i-- {
			if events[i].Type == wire.EventDelete {
				a.log.Infof("leader(%s): leader is deleted, start elect", a.cfg.ElectionKey)
				go a.Elect()
				break
			}
		}
		return true
	}
	syncer := func(ctx context.Context) (wire.GetResponse, error) {
		return a.kv.Get(ctx, []byte(a.cfg.ElectionKey), wire.GetOption{Prefix: true})
	}
	watcher, err := a.kv.Watch(context.Background(), []byte(a.cfg.ElectionKey), wire.WatchOption{Revision: fromRevision, KeepRetry: true}, observer, syncer)
	if err != nil {
		a.log.Errorf("leader(%s): failed to start watch: %v", a.cfg.ElectionKey, err)
		return
	}
	a.watcher = watcher
}

// Stop releases any held leadership and its watch, matching Finalize().
func (a *TxnActor) Stop() {
	done := make(chan struct{})
	a.mailbox.Post(func() {
		a.leader = false
		a.campaigning = false
		if a.watcher != nil {
			a.watcher.Close()
		}
		if a.leaseID != -1 {
			leaseID := a.leaseID
			go func() { _, _ = a.lease.Revoke(context.Background(), leaseID) }()
		}
		close(done)
	})
	<-done
	a.mailbox.Stop()
}

// Elect runs a campaign cycle: grant a lease, renew it on an interval,
// and try to create the election key guarded by a create-if-absent
// comparison.
func (a *TxnActor) Elect() {
	a.mailbox.Post(func() { a.doElect() })
}

func (a *TxnActor) doElect() {
	if a.campaigning {
		a.log.Warnf("leader(%s): has been electing", a.cfg.ElectionKey)
		return
	}
	a.leader = false
	a.campaigning = true
	a.log.Infof("leader(%s): start elect", a.cfg.ElectionKey)
	go a.grantLease()
}

func (a *TxnActor) grantLease() {
	resp, err := a.lease.Grant(context.Background(), a.cfg.LeaseTTL)
	a.mailbox.Post(func() { a.onGrantLease(resp, err) })
}

func (a *TxnActor) onGrantLease(resp wire.LeaseGrantResponse, err error) {
	if err != nil || resp.Status != nil {
		a.log.Errorf("leader(%s): failed to grant a lease", a.cfg.ElectionKey)
		a.campaigning = false
		return
	}
	a.leaseID = resp.LeaseId
	a.log.Infof("leader(%s): succeed to grant a lease(%d)", a.cfg.ElectionKey, resp.LeaseId)
	time.AfterFunc(a.cfg.KeepAliveInterval, func() { a.keepAlive(resp.LeaseId) })
	go a.campaign(resp.LeaseId)
}

func (a *TxnActor) campaign(leaseID int64) {
	txn := kv.Txn{
		Cmps: []kv.Cmp{{Key: []byte(a.cfg.ElectionKey), Target: kv.CmpCreateRevision, Value: 0, Result: kv.CmpEqual}},
		Then: []kv.TxnOp{{Type: wire.TxnOpPut, Key: []byte(a.cfg.ElectionKey), Value: []byte(a.cfg.Proposal), Opt: kv.GetOrPutOpt{Lease: leaseID}}},
	}
	resp, err := a.kv.CommitTxn(context.Background(), txn)
	a.mailbox.Post(func() { a.onCampaign(resp, err) })
}

func (a *TxnActor) onCampaign(resp wire.TxnResponse, err error) {
	a.campaigning = false
	if err == nil && resp.Status == nil && resp.Succeeded {
		a.log.Infof("leader(%s): success to campaign", a.cfg.ElectionKey)
		a.leader = true
		if a.onBecomeLeader != nil {
			a.onBecomeLeader()
		}
		return
	}

	a.log.Errorf("leader(%s): failed to campaign", a.cfg.ElectionKey)
	wasLeader := a.leader
	a.leader = false
	if a.leaseID != -1 {
		leaseID := a.leaseID
		go func() { _, _ = a.lease.Revoke(context.Background(), leaseID) }()
	}
	if wasLeader && a.onResign != nil {
		a.onResign()
	}

	go a.ensureLeaderElected()
}

// ensureLeaderElected re-checks for an existing leader after a failed
// campaign and re-elects only if none is found, matching OnCampaign's
// trailing Get().Then(...) guard.
func (a *TxnActor) ensureLeaderElected() {
	resp, err := a.kv.Get(context.Background(), []byte(a.cfg.ElectionKey), wire.GetOption{KeysOnly: true})
	if err != nil || resp.Status != nil {
		time.AfterFunc(a.cfg.KeepAliveInterval, a.Elect)
		return
	}
	if len(resp.Kvs) == 0 {
		a.log.Warnf("leader(%s): no leader elected after election, start elect", a.cfg.ElectionKey)
		a.Elect()
	}
}

func (a *TxnActor) keepAlive(leaseID int64) {
	a.mailbox.Post(func() { a.doKeepAlive(leaseID) })
}

func (a *TxnActor) doKeepAlive(leaseID int64) {
	if a.leaseID != -1 && a.leaseID != leaseID {
		a.log.Errorf("leader(%s): lease(%d) not match current lease(%d)", a.cfg.ElectionKey, leaseID, a.leaseID)
		return
	}
	if !a.campaigning && !a.leader {
		a.log.Warnf("leader(%s): not leader, do not keep alive lease", a.cfg.ElectionKey)
		return
	}

	go func() {
		resp, err := a.lease.KeepAliveOnce(context.Background(), leaseID)
		if err != nil || resp.Status != nil {
			a.log.Errorf("leader(%s): keep alive lease error, delay electing", a.cfg.ElectionKey)
			time.AfterFunc(a.cfg.KeepAliveInterval, a.Elect)
		}
	}()
	time.AfterFunc(a.cfg.KeepAliveInterval, func() { a.keepAlive(leaseID) })
}
