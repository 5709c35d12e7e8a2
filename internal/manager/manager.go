// Package manager implements the strategy manager (C10): the
// mode-based dispatcher that decides, per call, whether a KV/lease/
// election/maintenance operation is served by the direct etcd backend
// or a proxied meta-store backend. Grounded on meta_store_client_mgr.cpp's
// three dispatch modes:
//
//   - etcd-direct-only, when meta-store support is disabled;
//   - meta-store-proxied-full, when meta-store is enabled and running in
//     passthrough mode;
//   - meta-store-proxied-with-KV-exclusions, when meta-store is enabled
//     but not in passthrough mode and a set of key prefixes must still
//     be served directly against etcd.
//
// Election is the one client that never follows the KV exclusion rule:
// outside passthrough mode the meta-store backend only proxies KV,
// lease and maintenance, so election always runs against the direct
// etcd backend whenever passthrough is off, matching InitMetaStoreClients's
// "use etcd election client" branch.
package manager

import (
	"strings"
	"sync"

	"github.com/metastorehq/metastore-client/internal/election"
	"github.com/metastorehq/metastore-client/internal/kv"
	"github.com/metastorehq/metastore-client/internal/lease"
	"github.com/metastorehq/metastore-client/internal/maintenance"
)

// Config captures the mode-selection knobs from MetaStoreConfig that
// drive dispatch.
type Config struct {
	EnableMetaStore        bool
	IsMetaStorePassthrough bool
	ExcludedKeys           []string
}

// Backends bundles one complete set of per-domain strategies: either the
// direct etcd set or the meta-store-proxied set.
type Backends struct {
	KV          kv.Strategy
	Lease       lease.Strategy
	Election    election.Strategy
	Maintenance maintenance.Strategy
}

// addressAware is satisfied by every proxied strategy's OnAddressUpdated
// method; asserted against rather than added to the kv/lease/election
// Strategy interfaces, which direct strategies also implement but with
// no-op semantics not worth forcing on every implementer.
type addressAware interface {
	OnAddressUpdated(address string)
}

// stoppable is satisfied by maintenance.DirectStrategy's reconnect-watcher
// shutdown hook.
type stoppable interface {
	Stop()
}

// Manager dispatches KV/lease/election/maintenance calls across the
// active backend set(s) according to Config, and fans out address and
// reconnect updates to whichever strategies are live.
type Manager struct {
	cfg Config

	etcd *Backends // non-nil whenever the etcd-direct set is constructed
	ms   *Backends // non-nil whenever the meta-store-proxied set is constructed

	mu       sync.RWMutex
	explorer AddressUpdater
}

// AddressUpdater is the subset of the explorer's contract the manager
// needs to keep the cached meta-store address in step with
// UpdateMetaStoreAddress calls.
type AddressUpdater interface {
	UpdateAddress(address string)
}

// New builds a Manager over the given backend sets. etcd must be
// non-nil whenever cfg.EnableMetaStore is false, or whenever meta-store
// is enabled but not in passthrough mode with excluded keys configured.
// ms must be non-nil whenever cfg.EnableMetaStore is true. Binding the
// reconnect-callback fan-out (maintenance's BindReconnectedCallback
// re-pointing every sibling strategy at the freshly reconnected address)
// is New's responsibility, mirroring InitEtcdClients/InitMetaStoreClients.
func New(cfg Config, etcd, ms *Backends, explorer AddressUpdater) *Manager {
	m := &Manager{cfg: cfg, etcd: etcd, ms: ms, explorer: explorer}
	if etcd != nil {
		bindReconnectFanout(etcd)
	}
	if ms != nil {
		bindReconnectFanout(ms)
	}
	return m
}

func bindReconnectFanout(b *Backends) {
	if b.Maintenance == nil {
		return
	}
	b.Maintenance.BindReconnectedCallback(func(address string) {
		fanOutAddress(b, address)
	})
}

func fanOutAddress(b *Backends, address string) {
	if aa, ok := b.KV.(addressAware); ok {
		aa.OnAddressUpdated(address)
	}
	if aa, ok := b.Lease.(addressAware); ok {
		aa.OnAddressUpdated(address)
	}
	if aa, ok := b.Election.(addressAware); ok {
		aa.OnAddressUpdated(address)
	}
	if b.Maintenance != nil {
		b.Maintenance.OnAddressUpdated(address)
	}
}

// usesEtcdForExclusions reports whether the manager's etcd backend is
// also serving KV-exclusion traffic alongside a proxied meta-store set.
func (m *Manager) usesEtcdForExclusions() bool {
	return m.cfg.EnableMetaStore && !m.cfg.IsMetaStorePassthrough && len(m.cfg.ExcludedKeys) > 0
}

// GetKvClient selects the KV strategy that should serve key, per
// GetKvClient's exclusion-prefix routing.
func (m *Manager) GetKvClient(key []byte) kv.Strategy {
	if !m.cfg.EnableMetaStore {
		return m.etcd.KV
	}
	if !m.cfg.IsMetaStorePassthrough && m.IsMetaStoreExcludedKey(key) {
		return m.etcd.KV
	}
	return m.ms.KV
}

// GetLeaseClient selects the lease strategy for the active mode.
func (m *Manager) GetLeaseClient() lease.Strategy {
	if !m.cfg.EnableMetaStore {
		return m.etcd.Lease
	}
	return m.ms.Lease
}

// GetMaintenanceClient selects the maintenance strategy for the active
// mode.
func (m *Manager) GetMaintenanceClient() maintenance.Strategy {
	if !m.cfg.EnableMetaStore {
		return m.etcd.Maintenance
	}
	return m.ms.Maintenance
}

// GetElectionClient selects the election strategy for the active mode.
// Unlike the other three, the meta-store backend set's Election field
// may itself be an etcd-direct election strategy (wired in by whatever
// constructs ms, per InitMetaStoreClients's non-passthrough branch) —
// the manager only needs to pick which Backends.Election to return.
func (m *Manager) GetElectionClient() election.Strategy {
	if !m.cfg.EnableMetaStore {
		return m.etcd.Election
	}
	return m.ms.Election
}

// IsConnected reports whether every strategy in the active backend
// set(s) is connected.
func (m *Manager) IsConnected() bool {
	if !m.cfg.EnableMetaStore {
		return isBackendsConnected(m.etcd)
	}
	if !isBackendsConnected(m.ms) {
		return false
	}
	if m.usesEtcdForExclusions() {
		return isBackendsConnected(m.etcd)
	}
	return true
}

func isBackendsConnected(b *Backends) bool {
	if b == nil {
		return false
	}
	return b.Maintenance.IsConnected() && b.KV.IsConnected() && b.Election.IsConnected() && b.Lease.IsConnected()
}

// IsMetaStoreExcludedKey reports whether key must bypass the meta-store
// backend and be served directly against etcd, per
// MetaStoreClientMgr::IsMetaStoreExcludedKey's prefix match.
func (m *Manager) IsMetaStoreExcludedKey(key []byte) bool {
	if len(key) == 0 {
		return false
	}
	s := string(key)
	for _, prefix := range m.cfg.ExcludedKeys {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// UpdateMetaStoreAddress is the external entry point a caller uses to
// push a freshly discovered meta-store address, distinct from the
// internal reconnect-callback-triggered path. A no-op outside
// non-passthrough meta-store mode, matching the original's guard.
func (m *Manager) UpdateMetaStoreAddress(address string) {
	if !m.cfg.EnableMetaStore || m.cfg.IsMetaStorePassthrough {
		return
	}
	m.mu.RLock()
	explorer := m.explorer
	m.mu.RUnlock()
	if explorer != nil {
		explorer.UpdateAddress(address)
	}
	if m.ms != nil {
		fanOutAddress(m.ms, address)
	}
}

// Finalize releases every strategy in every constructed backend set.
func (m *Manager) Finalize() {
	finalizeBackends(m.etcd)
	finalizeBackends(m.ms)
}

func finalizeBackends(b *Backends) {
	if b == nil {
		return
	}
	if b.KV != nil {
		b.KV.Finalize()
	}
	if b.Lease != nil {
		b.Lease.Finalize()
	}
	if b.Election != nil {
		b.Election.Finalize()
	}
	if s, ok := b.Maintenance.(stoppable); ok {
		s.Stop()
	}
}
