package manager

import (
	"context"
	"testing"

	"github.com/metastorehq/metastore-client/internal/election"
	"github.com/metastorehq/metastore-client/internal/kv"
	"github.com/metastorehq/metastore-client/internal/lease"
	"github.com/metastorehq/metastore-client/internal/maintenance"
	"github.com/metastorehq/metastore-client/internal/wire"
)

type fakeKV struct {
	name      string
	connected bool
}

func (f *fakeKV) Put(context.Context, []byte, []byte, wire.PutOption) (wire.PutResponse, error) {
	return wire.PutResponse{}, nil
}
func (f *fakeKV) Get(context.Context, []byte, wire.GetOption) (wire.GetResponse, error) {
	return wire.GetResponse{}, nil
}
func (f *fakeKV) Delete(context.Context, []byte, wire.DeleteOption) (wire.DeleteResponse, error) {
	return wire.DeleteResponse{}, nil
}
func (f *fakeKV) CommitTxn(context.Context, kv.Txn) (wire.TxnResponse, error) {
	return wire.TxnResponse{}, nil
}
func (f *fakeKV) Watch(context.Context, []byte, wire.WatchOption, kv.Observer, kv.Syncer) (kv.Watcher, error) {
	return nil, nil
}
func (f *fakeKV) GetAndWatch(context.Context, []byte, wire.WatchOption, kv.Observer, kv.Syncer) (kv.Watcher, error) {
	return nil, nil
}
func (f *fakeKV) IsConnected() bool { return f.connected }
func (f *fakeKV) Finalize()         {}

var _ lease.Strategy = (*fakeLease)(nil)

type fakeLease struct{ connected bool }

func (f *fakeLease) Grant(context.Context, int64) (wire.LeaseGrantResponse, error) {
	return wire.LeaseGrantResponse{}, nil
}
func (f *fakeLease) Revoke(context.Context, int64) (wire.LeaseRevokeResponse, error) {
	return wire.LeaseRevokeResponse{}, nil
}
func (f *fakeLease) KeepAliveOnce(context.Context, int64) (wire.LeaseKeepAliveResponse, error) {
	return wire.LeaseKeepAliveResponse{}, nil
}
func (f *fakeLease) IsConnected() bool { return f.connected }
func (f *fakeLease) Finalize()         {}

type fakeElection struct{ connected bool }

func (f *fakeElection) Campaign(context.Context, string, int64, []byte) (wire.CampaignResponse, error) {
	return wire.CampaignResponse{}, nil
}
func (f *fakeElection) Leader(context.Context, string) (wire.LeaderResponse, error) {
	return wire.LeaderResponse{}, nil
}
func (f *fakeElection) Resign(context.Context, wire.LeaderKey) (wire.ResignResponse, error) {
	return wire.ResignResponse{}, nil
}
func (f *fakeElection) Observe(context.Context, string, election.LeaderCallback) (election.Observer, error) {
	return nil, nil
}
func (f *fakeElection) IsConnected() bool { return f.connected }
func (f *fakeElection) Finalize()         {}

type fakeMaintenance struct {
	connected bool
	callbacks []maintenance.ReconnectedCallback
	addresses []string
}

func (f *fakeMaintenance) HealthCheck(context.Context) (wire.StatusResponse, error) {
	return wire.StatusResponse{}, nil
}
func (f *fakeMaintenance) IsConnected() bool                { return f.connected }
func (f *fakeMaintenance) CheckChannelAndWaitForReconnect() {}
func (f *fakeMaintenance) BindReconnectedCallback(cb maintenance.ReconnectedCallback) {
	f.callbacks = append(f.callbacks, cb)
}
func (f *fakeMaintenance) OnAddressUpdated(address string) {
	f.addresses = append(f.addresses, address)
}

func backendSet(connected bool) (*Backends, *fakeMaintenance) {
	fm := &fakeMaintenance{connected: connected}
	return &Backends{
		KV:          &fakeKV{connected: connected},
		Lease:       &fakeLease{connected: connected},
		Election:    &fakeElection{connected: connected},
		Maintenance: fm,
	}, fm
}

func TestGetKvClientRoutesToEtcdWhenMetaStoreDisabled(t *testing.T) {
	etcd, _ := backendSet(true)
	m := New(Config{EnableMetaStore: false}, etcd, nil, nil)
	if m.GetKvClient([]byte("any")) != etcd.KV {
		t.Fatal("expected etcd KV client")
	}
}

func TestGetKvClientRoutesExcludedKeysToEtcd(t *testing.T) {
	etcd, _ := backendSet(true)
	ms, _ := backendSet(true)
	cfg := Config{EnableMetaStore: true, IsMetaStorePassthrough: false, ExcludedKeys: []string{"/locks/"}}
	m := New(cfg, etcd, ms, nil)

	if m.GetKvClient([]byte("/locks/a")) != etcd.KV {
		t.Error("expected excluded key to route to etcd")
	}
	if m.GetKvClient([]byte("/data/a")) != ms.KV {
		t.Error("expected non-excluded key to route to meta-store")
	}
}

func TestGetElectionClientUsesMetaStoreBackendEvenOutsidePassthrough(t *testing.T) {
	etcd, _ := backendSet(true)
	ms, _ := backendSet(true)
	cfg := Config{EnableMetaStore: true, IsMetaStorePassthrough: false}
	m := New(cfg, etcd, ms, nil)

	// Whatever Backends.Election the caller wired into ms (an etcd-direct
	// election strategy outside passthrough mode, per InitMetaStoreClients)
	// is what GetElectionClient returns — the manager itself only picks
	// which backend set's Election field to hand back.
	if m.GetElectionClient() != ms.Election {
		t.Fatal("expected ms backend set's election client")
	}
}

func TestIsConnectedRequiresExclusionEtcdSetWhenConfigured(t *testing.T) {
	etcd, _ := backendSet(false)
	ms, _ := backendSet(true)
	cfg := Config{EnableMetaStore: true, IsMetaStorePassthrough: false, ExcludedKeys: []string{"/locks/"}}
	m := New(cfg, etcd, ms, nil)

	if m.IsConnected() {
		t.Fatal("expected disconnected etcd exclusion set to fail IsConnected")
	}
}

func TestIsConnectedIgnoresEtcdSetWhenNoExclusions(t *testing.T) {
	etcd, _ := backendSet(false)
	ms, _ := backendSet(true)
	cfg := Config{EnableMetaStore: true, IsMetaStorePassthrough: true}
	m := New(cfg, etcd, ms, nil)

	if !m.IsConnected() {
		t.Fatal("expected passthrough mode to ignore the unused etcd set")
	}
}

func TestUpdateMetaStoreAddressNoopsInPassthroughMode(t *testing.T) {
	ms, fm := backendSet(true)
	cfg := Config{EnableMetaStore: true, IsMetaStorePassthrough: true}
	m := New(cfg, nil, ms, nil)

	m.UpdateMetaStoreAddress("peer:2")
	if len(fm.addresses) != 0 {
		t.Fatal("expected passthrough mode to ignore UpdateMetaStoreAddress")
	}
}

func TestUpdateMetaStoreAddressFansOutWhenNotPassthrough(t *testing.T) {
	ms, fm := backendSet(true)
	cfg := Config{EnableMetaStore: true, IsMetaStorePassthrough: false}
	m := New(cfg, nil, ms, nil)

	m.UpdateMetaStoreAddress("peer:2")
	if len(fm.addresses) != 1 || fm.addresses[0] != "peer:2" {
		t.Fatalf("expected address fan-out, got %+v", fm.addresses)
	}
}

func TestBindReconnectFanoutFiresOnMaintenanceCallback(t *testing.T) {
	etcd, fm := backendSet(true)
	New(Config{EnableMetaStore: false}, etcd, nil, nil)

	if len(fm.callbacks) != 1 {
		t.Fatalf("expected exactly one bound reconnect callback, got %d", len(fm.callbacks))
	}
	fm.callbacks[0]("etcd:9999")
	if len(fm.addresses) != 1 || fm.addresses[0] != "etcd:9999" {
		t.Fatalf("expected reconnect callback to fan out address update, got %+v", fm.addresses)
	}
}
