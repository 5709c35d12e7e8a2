// Package wire holds the data-model types exchanged between the client
// facade and the backend: key/value records, lease and election replies,
// transaction shapes and watch events. None of these types carry any
// behavior; they mirror the etcd v3 wire shapes plus the handful of
// client-side additions (monitor parameters, timeout/backup options)
// the rest of the module is configured with.
package wire

import "time"

// ResponseHeader carries the backend's revision bookkeeping for every reply.
type ResponseHeader struct {
	ClusterId uint64
	MemberId  uint64
	Revision  int64
	RaftTerm  uint64
}

// KeyValue is a single stored record.
type KeyValue struct {
	Key            []byte
	Value          []byte
	CreateRevision int64
	ModRevision    int64
	Version        int64
	Lease          int64
}

// SortOrder mirrors etcd's RangeRequest sort order enum.
type SortOrder int32

const (
	SortNone SortOrder = iota
	SortAscend
	SortDescend
)

// SortTarget mirrors etcd's RangeRequest sort target enum.
type SortTarget int32

const (
	SortByKey SortTarget = iota
	SortByVersion
	SortByCreateRevision
	SortByModRevision
	SortByValue
)

// PutOption configures a Put call.
type PutOption struct {
	Lease       int64
	PrevKv      bool
	AsyncBackup bool
}

// PutResponse is the result of a Put call.
type PutResponse struct {
	Header ResponseHeader
	PrevKv *KeyValue
	Status error
}

// DeleteOption configures a Delete call.
type DeleteOption struct {
	Prefix      bool
	PrevKv      bool
	AsyncBackup bool
}

// DeleteResponse is the result of a Delete call.
type DeleteResponse struct {
	Header  ResponseHeader
	Deleted int64
	PrevKvs []KeyValue
	Status  error
}

// GetOption configures a Get call.
type GetOption struct {
	Prefix     bool
	KeysOnly   bool
	CountOnly  bool
	Limit      int64
	SortOrder  SortOrder
	SortTarget SortTarget
	Revision   int64
}

// GetResponse is the result of a Get call.
type GetResponse struct {
	Header ResponseHeader
	Kvs    []KeyValue
	More   bool
	Count  int64
	Status error
}

// StatusResponse is the result of a maintenance health-check call.
type StatusResponse struct {
	Status error
}

// TxnOperationType enumerates the kinds of operations a transaction branch
// can carry.
type TxnOperationType int32

const (
	TxnOpPut TxnOperationType = iota
	TxnOpGet
	TxnOpDelete
)

// TxnOperationResponse is a single decoded response within a TxnResponse.
type TxnOperationResponse struct {
	Type   TxnOperationType
	Put    *PutResponse
	Get    *GetResponse
	Delete *DeleteResponse
}

// TxnResponse is the decoded result of a CommitTxn call.
type TxnResponse struct {
	Header    ResponseHeader
	Succeeded bool
	Responses []TxnOperationResponse
	Status    error
}

// LeaseGrantResponse is the result of a Grant call.
type LeaseGrantResponse struct {
	Header  ResponseHeader
	LeaseId int64
	TTL     int64
	Status  error
}

// LeaseRevokeResponse is the result of a Revoke call.
type LeaseRevokeResponse struct {
	Header ResponseHeader
	Status error
}

// LeaseKeepAliveResponse is the result of one KeepAliveOnce round.
type LeaseKeepAliveResponse struct {
	Header  ResponseHeader
	LeaseId int64
	TTL     int64
	Status  error
}

// LeaderKey identifies a held election key.
type LeaderKey struct {
	Name  []byte
	Key   []byte
	Rev   int64
	Lease int64
}

// CampaignResponse is the result of a Campaign call.
type CampaignResponse struct {
	Header ResponseHeader
	Leader LeaderKey
	Status error
}

// LeaderResponse is the result of a Leader call, or a single Observe event.
type LeaderResponse struct {
	Header ResponseHeader
	Kv     KeyValue
	Status error
}

// ResignResponse is the result of a Resign call.
type ResignResponse struct {
	Header ResponseHeader
	Status error
}

// WatchOption configures a Watch or GetAndWatch call.
type WatchOption struct {
	Prefix     bool
	PrevKv     bool
	Revision   int64
	KeepRetry  bool
}

// EventType enumerates the kinds of mutation a WatchEvent can carry.
type EventType int32

const (
	EventPut EventType = iota
	EventDelete
)

// WatchEvent is a single translated mvccpb event.
type WatchEvent struct {
	Type   EventType
	Kv     KeyValue
	PrevKv *KeyValue
}

// MonitorParam configures the health monitor (C11).
type MonitorParam struct {
	MaxTolerateFailedTimes int
	CheckInterval          time.Duration
	Timeout                time.Duration
}

// DefaultMonitorParam mirrors the original's compiled-in defaults.
func DefaultMonitorParam() MonitorParam {
	return MonitorParam{
		MaxTolerateFailedTimes: 5,
		CheckInterval:          10 * time.Second,
		Timeout:                8 * time.Second,
	}
}

// Config lists the address and dispatch-mode options; the root package's
// Config is the full set the client is built from.
type Config struct {
	EtcdAddress            string
	MetaStoreAddress        string
	EnableMetaStore         bool
	IsMetaStorePassthrough  bool
	EtcdTablePrefix         string
	EnableAutoSync          bool
	AutoSyncInterval        time.Duration
	ExcludedKeys            []string
}

// TimeoutOption configures the retry envelope shared by every strategy.
type TimeoutOption struct {
	OperationRetryIntervalLowerBound time.Duration
	OperationRetryIntervalUpperBound time.Duration
	OperationRetryTimes              int
	DeleteRetryTimes                 int
	GrpcTimeout                      time.Duration
}

// DefaultTimeoutOption mirrors meta_store_struct.h's compiled-in constants.
func DefaultTimeoutOption() TimeoutOption {
	return TimeoutOption{
		OperationRetryIntervalLowerBound: 1000 * time.Millisecond,
		OperationRetryIntervalUpperBound: 5000 * time.Millisecond,
		OperationRetryTimes:              5,
		DeleteRetryTimes:                 60,
		GrpcTimeout:                      5 * time.Second,
	}
}

// BackupOption configures asynchronous-backup / flush policy knobs.
type BackupOption struct {
	EnableSyncSysFunc   bool
	MaxFlushConcurrency int
	MaxFlushBatchSize   int
}

// DefaultBackupOption mirrors meta_store_struct.h's compiled-in constants.
func DefaultBackupOption() BackupOption {
	return BackupOption{
		MaxFlushConcurrency: 1000,
		MaxFlushBatchSize:   100,
	}
}

// PersistenceType gates which of the instance/route keys an instance
// operator transaction writes.
type PersistenceType int32

const (
	PersistNot PersistenceType = iota
	PersistInstance
	PersistRoute
	PersistAll
)

// LocalMode is the sentinel value recognized for a passthrough-disabled,
// purely local deployment.
const LocalMode = "local"
