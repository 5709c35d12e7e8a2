// Package rpcchannel implements the RPC channel (C2): one managed
// connection to the backend, connection-state polling with bounded
// auto-reconnect, and deadline-bound unary calls. Generalized from
// internal/etcd's single-purpose client.NewClient/Sync/Close, which only
// ever dialed once for a fixed key; this channel is reused by every
// direct strategy (KV, lease, election, maintenance).
package rpcchannel

import (
	"context"
	"crypto/tls"
	"time"

	"google.golang.org/grpc/connectivity"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/metastorehq/metastore-client/internal/loadbalance"
	"github.com/metastorehq/metastore-client/internal/obslog"
)

// Config configures a Channel's connection to the backend.
type Config struct {
	Endpoints   []string
	Username    string
	Password    string
	TLSConfig   *tls.Config
	DialTimeout time.Duration
	// ReconnectInterval is the fixed sleep between connection-state
	// polls in CheckAndWaitForReconnect.
	ReconnectInterval time.Duration
	// ReadyObservationsRequired is the number of consecutive "ready"
	// polls required before the channel is declared reconnected.
	ReadyObservationsRequired int
	Log                       obslog.Logger
}

const (
	// DefaultReconnectInterval is the fixed poll interval used when none
	// is configured, matching the balancing fallback timeout constant.
	DefaultReconnectInterval = 2 * time.Second
	// DefaultReadyObservationsRequired reproduces "declared healthy only
	// after three consecutive ready observations".
	DefaultReadyObservationsRequired = 3
)

// Channel manages one connection to the backend and exposes connection
// state and deadline-bound unary calls to every direct strategy.
type Channel struct {
	client    *clientv3.Client
	balancer  *loadbalance.RoundRobin
	cfg       Config
	log       obslog.Logger
}

// New dials the backend and performs a bounded waitForConnected probe.
func New(cfg Config) (*Channel, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.ReadyObservationsRequired == 0 {
		cfg.ReadyObservationsRequired = DefaultReadyObservationsRequired
	}
	if cfg.Log == nil {
		cfg.Log = obslog.NewNop()
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
		TLS:         cfg.TLSConfig,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	conn := client.ActiveConnection()
	conn.WaitForStateChange(ctx, conn.GetState())

	return &Channel{
		client:   client,
		balancer: loadbalance.NewRoundRobin(cfg.Endpoints),
		cfg:      cfg,
		log:      cfg.Log,
	}, nil
}

// Client exposes the underlying clientv3.Client for strategies that need
// the KV/Lease/Watch/Election/Maintenance sub-clients directly.
func (c *Channel) Client() *clientv3.Client { return c.client }

// NextAddress returns the next address in round-robin order, for
// callers that address the backend by endpoint rather than through the
// pooled clientv3 client (e.g. the address the health monitor logs).
func (c *Channel) NextAddress() string { return c.balancer.Next() }

// IsConnected reports whether the active connection is currently ready.
func (c *Channel) IsConnected() bool {
	return c.client.ActiveConnection().GetState() == connectivity.Ready
}

// CheckAndWaitForReconnect polls the transport state, sleeping
// ReconnectInterval between polls, until three consecutive "ready"
// observations are made or runningFlag reports false.
func (c *Channel) CheckAndWaitForReconnect(runningFlag func() bool) bool {
	readyStreak := 0
	for runningFlag() {
		conn := c.client.ActiveConnection()
		if conn.GetState() == connectivity.Ready {
			readyStreak++
			if readyStreak >= c.cfg.ReadyObservationsRequired {
				return true
			}
		} else {
			readyStreak = 0
			c.log.Warnf("rpcchannel: transport state %s, waiting to reconnect", conn.GetState())
		}
		timer := time.NewTimer(c.cfg.ReconnectInterval)
		<-timer.C
	}
	return false
}

// CallUnary respects the caller's deadline and maps a disconnected
// channel into ErrUnavailable immediately rather than attempting the
// call, per the "never silently succeeds while disconnected" contract.
func (c *Channel) CallUnary(ctx context.Context, fn func(context.Context) error) error {
	if !c.IsConnected() {
		return ErrUnavailable
	}
	return fn(ctx)
}

// Close releases the underlying connection.
func (c *Channel) Close() error {
	return c.client.Close()
}

// Endpoints returns the configured backend endpoints.
func (c *Channel) Endpoints() []string {
	return c.client.Endpoints()
}
