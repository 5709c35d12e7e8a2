package metastore

import (
	"crypto/tls"
	"time"

	"github.com/metastorehq/metastore-client/internal/bus"
	"github.com/metastorehq/metastore-client/internal/health"
	"github.com/metastorehq/metastore-client/internal/leader"
	"github.com/metastorehq/metastore-client/internal/manager"
	"github.com/metastorehq/metastore-client/internal/obslog"
	"github.com/metastorehq/metastore-client/internal/wire"
)

// Config is the full set of recognized client configuration options,
// following wire.Config/TimeoutOption/MonitorParam/BackupOption's
// compiled-in-constant idiom. DialTimeout, ElectLeaseTTL, ElectKeepAlive,
// ElectRenewInterval and Log each default when left zero; Timeout,
// Monitor and Backup are replaced by their defaults only when the whole
// struct is zero, so a partly set one keeps its zero fields.
type Config struct {
	// EtcdEndpoints and its credentials dial the direct backend.
	EtcdEndpoints []string
	Username      string
	Password      string
	TLSConfig     *tls.Config
	DialTimeout   time.Duration

	// EtcdTablePrefix is prepended to every key sent to the direct
	// backend, and stripped from every key or watch event read back.
	EtcdTablePrefix string

	// EnableMetaStore selects proxy vs direct dispatch for KV/lease/
	// election/maintenance; IsMetaStorePassthrough additionally routes
	// election through the proxy once enabled. ExcludedKeys lists key
	// prefixes that bypass the proxy even when it's enabled.
	EnableMetaStore        bool
	IsMetaStorePassthrough bool
	ExcludedKeys           []string

	// MetaStoreAddress is the proxy peer's logical actor address, used
	// to target every proxied Send/Observe call.
	MetaStoreAddress string
	// PeerBus is the caller-supplied transport every proxied strategy
	// sends envelopes over. The message-passing runtime that actually
	// routes to the peer meta-store process is an external collaborator
	// this module does not implement; callers running in proxy mode
	// must supply one. Direct-only configurations may leave this nil.
	PeerBus bus.Bus

	// AddressUpdater receives UpdateMetaStoreAddress pushes forwarded by
	// the manager whenever a caller learns of a fresh proxy peer
	// address through its own service-discovery mechanism. This module
	// has no discovery mechanism of its own to offer here; callers that
	// need one must supply it. May be left nil.
	AddressUpdater manager.AddressUpdater

	Timeout wire.TimeoutOption
	Monitor wire.MonitorParam
	Backup  wire.BackupOption

	// EnableAutoSync periodically refreshes the direct channel's
	// endpoint membership from the cluster itself, at AutoSyncInterval.
	EnableAutoSync   bool
	AutoSyncInterval time.Duration

	// ElectionKey, Proposal (this process's own reachable address),
	// ElectLeaseTTL and ElectKeepAlive configure the leader actor this
	// client drives. UseTxnLeader selects the KV-only leader flavor
	// (TxnActor) over the native election-primitive flavor (EtcdActor);
	// it has no effect unless ElectionKey is non-empty.
	ElectionKey    string
	Proposal       string
	ElectLeaseTTL  int64
	ElectKeepAlive time.Duration
	// ElectRenewInterval re-arms the leader actor's Campaign after this
	// process observes itself going from leader to follower. The TxnActor
	// flavor does not use it.
	ElectRenewInterval time.Duration
	UseTxnLeader       bool

	// AsyncBackup is forwarded as the AsyncBackup option on every
	// mutating op of the instance operator's transactions. It is set on
	// its own and is not derived from Backup.
	AsyncBackup bool

	Log obslog.Logger
}

// DefaultConfig mirrors the original's compiled-in constants, the same
// way wire.DefaultTimeoutOption/DefaultMonitorParam/DefaultBackupOption
// do for the pieces they own.
func DefaultConfig() Config {
	return Config{
		DialTimeout:        5 * time.Second,
		Timeout:            wire.DefaultTimeoutOption(),
		Monitor:            wire.DefaultMonitorParam(),
		Backup:             wire.DefaultBackupOption(),
		ElectLeaseTTL:      10,
		ElectKeepAlive:     3 * time.Second,
		ElectRenewInterval: 3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.Timeout == (wire.TimeoutOption{}) {
		c.Timeout = d.Timeout
	}
	if c.Monitor == (wire.MonitorParam{}) {
		c.Monitor = d.Monitor
	}
	if c.Backup == (wire.BackupOption{}) {
		c.Backup = d.Backup
	}
	if c.ElectLeaseTTL == 0 {
		c.ElectLeaseTTL = d.ElectLeaseTTL
	}
	if c.ElectKeepAlive == 0 {
		c.ElectKeepAlive = d.ElectKeepAlive
	}
	if c.ElectRenewInterval == 0 {
		c.ElectRenewInterval = d.ElectRenewInterval
	}
	if c.Log == nil {
		c.Log = obslog.NewNop()
	}
	return c
}

func (c Config) healthConfig() health.Config {
	return health.Config{
		CheckInterval:          c.Monitor.CheckInterval,
		Timeout:                c.Monitor.Timeout,
		MaxTolerateFailedTimes: uint32(c.Monitor.MaxTolerateFailedTimes),
	}
}

func (c Config) leaderConfig() leader.Config {
	return leader.Config{
		ElectionKey:       c.ElectionKey,
		Proposal:          c.Proposal,
		LeaseTTL:          c.ElectLeaseTTL,
		KeepAliveInterval: c.ElectKeepAlive,
		RenewInterval:     c.ElectRenewInterval,
	}
}
