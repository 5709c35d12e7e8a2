// Package metastore is the client-side façade over an etcd-compatible
// key-value/lease/election/maintenance backend: it wires the direct
// (etcd) and proxied (meta-store peer) strategy sets into a single
// mode-dispatching Manager, drives the health monitor and fall-breaker,
// and optionally runs a leader-election actor and the instance
// operator's transaction templates on top. Grounded on
// meta_store_client_mgr.cpp's InitEtcdClients/InitMetaStoreClients
// construction sequence.
package metastore

import (
	"context"
	"sync"
	"time"

	"github.com/metastorehq/metastore-client/internal/bus"
	"github.com/metastorehq/metastore-client/internal/election"
	"github.com/metastorehq/metastore-client/internal/explorer"
	"github.com/metastorehq/metastore-client/internal/health"
	"github.com/metastorehq/metastore-client/internal/instanceop"
	"github.com/metastorehq/metastore-client/internal/kv"
	"github.com/metastorehq/metastore-client/internal/leader"
	"github.com/metastorehq/metastore-client/internal/lease"
	"github.com/metastorehq/metastore-client/internal/maintenance"
	"github.com/metastorehq/metastore-client/internal/manager"
	"github.com/metastorehq/metastore-client/internal/obslog"
	"github.com/metastorehq/metastore-client/internal/retry"
	"github.com/metastorehq/metastore-client/internal/rpcchannel"
	"github.com/metastorehq/metastore-client/internal/wire"
)

// Client is the top-level handle applications hold: one per process,
// bundling the mode-dispatching Manager, the health monitor, the leader
// actor (if configured) and the instance operator.
type Client struct {
	cfg Config
	log obslog.Logger

	channel *rpcchannel.Channel // non-nil whenever the etcd-direct set is built
	mgr     *manager.Manager

	monitor *health.Monitor // non-nil whenever a direct backend was built

	explorerCache *explorer.Cache
	leaderActor   leader.Actor
	instances     *instanceop.Operator

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
}

// New builds a Client from cfg. It dials the direct backend whenever one
// is required (direct-only mode, or proxy mode outside full passthrough),
// and wires the proxied backend set whenever cfg.EnableMetaStore is set.
// It does not start the health monitor or any leader actor; call Start
// for that.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	log := cfg.Log

	c := &Client{cfg: cfg, log: log}

	needsEtcd := !cfg.EnableMetaStore || !cfg.IsMetaStorePassthrough
	var etcdBackends *manager.Backends
	if needsEtcd {
		channel, err := rpcchannel.New(rpcchannel.Config{
			Endpoints:   cfg.EtcdEndpoints,
			Username:    cfg.Username,
			Password:    cfg.Password,
			TLSConfig:   cfg.TLSConfig,
			DialTimeout: cfg.DialTimeout,
			Log:         log,
		})
		if err != nil {
			return nil, err
		}
		c.channel = channel

		maintenanceDirect := maintenance.NewDirectStrategy(channel, cfg.Timeout, log)
		c.monitor = health.New(maintenanceDirect, channel.NextAddress(), cfg.healthConfig(), log, NewPrometheusMetricsSink())
		gate := c.monitor.HealthGate()

		etcdBackends = &manager.Backends{
			KV:          kv.NewDirectStrategy(channel, cfg.EtcdTablePrefix, cfg.Timeout, gate, log),
			Lease:       lease.NewDirectStrategy(channel, cfg.Timeout, gate, log),
			Election:    election.NewDirectStrategy(channel, cfg.EtcdTablePrefix, cfg.Timeout, gate, log),
			Maintenance: maintenanceDirect,
		}
		c.monitor.RegisterHealthyObserver(func(err error) {
			recordConnectionState("etcd", err == nil)
		})
	}

	var msBackends *manager.Backends
	if cfg.EnableMetaStore {
		backoff := retry.UniformBackoff(
			cfg.Timeout.GrpcTimeout,
			cfg.Timeout.OperationRetryIntervalLowerBound,
			cfg.Timeout.OperationRetryIntervalUpperBound,
		)
		limit := cfg.Timeout.OperationRetryTimes

		send := func(ctx context.Context, target, method string, payload []byte) error {
			return cfg.PeerBus.Send(ctx, target, method, bus.Envelope{RequestMsg: payload})
		}
		kvHelper := retry.New(send, backoff, limit, log)

		msBackends = &manager.Backends{
			KV:          kv.NewProxiedStrategy(cfg.PeerBus, cfg.MetaStoreAddress, kvHelper, log),
			Lease:       lease.NewProxiedStrategy(cfg.PeerBus, cfg.MetaStoreAddress, backoff, limit, log),
			Maintenance: maintenance.NewProxiedStrategy(cfg.PeerBus, cfg.MetaStoreAddress, backoff, limit, log),
		}
		if cfg.IsMetaStorePassthrough {
			msBackends.Election = election.NewProxiedStrategy(cfg.PeerBus, cfg.MetaStoreAddress, backoff, limit, log)
		} else {
			// Election never follows the KV exclusion rule: outside
			// passthrough mode the proxy doesn't serve it at all, so the
			// meta-store backend set borrows the direct etcd election
			// strategy wholesale.
			msBackends.Election = etcdBackends.Election
		}
	}

	c.mgr = manager.New(manager.Config{
		EnableMetaStore:        cfg.EnableMetaStore,
		IsMetaStorePassthrough: cfg.IsMetaStorePassthrough,
		ExcludedKeys:           cfg.ExcludedKeys,
	}, etcdBackends, msBackends, cfg.AddressUpdater)

	c.instances = instanceop.New(c.mgr.GetKvClient(nil), cfg.AsyncBackup)

	if cfg.ElectionKey != "" {
		c.explorerCache = explorer.New(cfg.ElectionKey, nil)
		if cfg.UseTxnLeader {
			c.leaderActor = leader.NewTxnActor(cfg.leaderConfig(), c.mgr.GetKvClient([]byte(cfg.ElectionKey)), c.mgr.GetLeaseClient(), log)
		} else {
			c.leaderActor = leader.NewEtcdActor(cfg.leaderConfig(), c.mgr.GetLeaseClient(), c.mgr.GetElectionClient(), c.explorerCache, log)
		}
		c.leaderActor.RegisterPublishLeaderCallback(func(info explorer.LeaderInfo) {
			c.explorerCache.Update(info)
		})
	}

	return c, nil
}

// Start runs the health monitor and, if configured, the leader actor.
// Blocks until ctx is cancelled or Stop is called; run it in its own
// goroutine.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	if c.leaderActor != nil {
		c.leaderActor.Start()
	}
	if c.cfg.EnableAutoSync && c.channel != nil {
		go c.runAutoSync(ctx)
	}
	if c.monitor != nil {
		c.monitor.Start(ctx)
	} else {
		select {
		case <-ctx.Done():
		case <-c.stopCh:
		}
	}
}

// runAutoSync periodically refreshes the direct channel's endpoint
// membership from the cluster itself, mirroring the original client's
// periodic Sync call against the etcd member list.
func (c *Client) runAutoSync(ctx context.Context) {
	interval := c.cfg.AutoSyncInterval
	if interval == 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			syncCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
			if err := c.channel.Client().Sync(syncCtx); err != nil {
				c.log.Warnf("autosync: failed to refresh endpoint membership: %v", err)
			}
			cancel()
		}
	}
}

// Stop tears down the leader actor, health monitor and every backend
// connection.
func (c *Client) Stop() {
	if c.leaderActor != nil {
		c.leaderActor.Stop()
	}
	if c.monitor != nil {
		c.monitor.Stop()
	}
	c.mu.Lock()
	if c.stopCh != nil {
		select {
		case <-c.stopCh:
		default:
			close(c.stopCh)
		}
	}
	c.started = false
	c.mu.Unlock()

	c.mgr.Finalize()
	if c.channel != nil {
		_ = c.channel.Close()
	}
}

// IsConnected reports whether every backend currently in use is
// connected.
func (c *Client) IsConnected() bool { return c.mgr.IsConnected() }

// UpdateMetaStoreAddress pushes a freshly discovered proxy peer address,
// forwarded to whatever manager.AddressUpdater the caller supplied.
func (c *Client) UpdateMetaStoreAddress(address string) { c.mgr.UpdateMetaStoreAddress(address) }

// KV, Lease, Election and Maintenance expose the mode-selected strategy
// for domains a caller wants to drive directly rather than through the
// convenience methods below.
func (c *Client) KV(key []byte) kv.Strategy         { return c.mgr.GetKvClient(key) }
func (c *Client) Lease() lease.Strategy             { return c.mgr.GetLeaseClient() }
func (c *Client) Election() election.Strategy       { return c.mgr.GetElectionClient() }
func (c *Client) Maintenance() maintenance.Strategy { return c.mgr.GetMaintenanceClient() }
func (c *Client) Instances() *instanceop.Operator   { return c.instances }
func (c *Client) LeaderInfo() (explorer.LeaderInfo, bool) {
	if c.explorerCache == nil {
		return explorer.LeaderInfo{}, false
	}
	return c.explorerCache.Current()
}

// Put, Get, Delete and CommitTxn are thin convenience wrappers that look
// up the right KV strategy for key (or the transaction's first
// comparison key) and call straight through.
func (c *Client) Put(ctx context.Context, key, value []byte, opt wire.PutOption) (wire.PutResponse, error) {
	return c.KV(key).Put(ctx, key, value, opt)
}

func (c *Client) Get(ctx context.Context, key []byte, opt wire.GetOption) (wire.GetResponse, error) {
	return c.KV(key).Get(ctx, key, opt)
}

func (c *Client) Delete(ctx context.Context, key []byte, opt wire.DeleteOption) (wire.DeleteResponse, error) {
	return c.KV(key).Delete(ctx, key, opt)
}

func (c *Client) CommitTxn(ctx context.Context, txn kv.Txn) (wire.TxnResponse, error) {
	var key []byte
	if len(txn.Cmps) > 0 {
		key = txn.Cmps[0].Key
	}
	return c.KV(key).CommitTxn(ctx, txn)
}

func (c *Client) Watch(ctx context.Context, key []byte, opt wire.WatchOption, observer kv.Observer, syncer kv.Syncer) (kv.Watcher, error) {
	return c.KV(key).Watch(ctx, key, opt, observer, syncer)
}

func (c *Client) GetAndWatch(ctx context.Context, key []byte, opt wire.WatchOption, observer kv.Observer, syncer kv.Syncer) (kv.Watcher, error) {
	return c.KV(key).GetAndWatch(ctx, key, opt, observer, syncer)
}

func (c *Client) Grant(ctx context.Context, ttl int64) (wire.LeaseGrantResponse, error) {
	return c.Lease().Grant(ctx, ttl)
}

func (c *Client) Revoke(ctx context.Context, leaseID int64) (wire.LeaseRevokeResponse, error) {
	return c.Lease().Revoke(ctx, leaseID)
}

func (c *Client) KeepAliveOnce(ctx context.Context, leaseID int64) (wire.LeaseKeepAliveResponse, error) {
	return c.Lease().KeepAliveOnce(ctx, leaseID)
}

func (c *Client) HealthCheck(ctx context.Context) (wire.StatusResponse, error) {
	return c.Maintenance().HealthCheck(ctx)
}
