package lease

import (
	"context"
	"math/rand/v2"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/metastorehq/metastore-client/internal/errs"
	"github.com/metastorehq/metastore-client/internal/obslog"
	"github.com/metastorehq/metastore-client/internal/rpcchannel"
	"github.com/metastorehq/metastore-client/internal/wire"
)

// HealthGate reports whether the health monitor has declared the client
// unhealthy; consulted at the top of every direct operation.
type HealthGate func() bool

// DirectStrategy is the direct (C5) lease strategy: Grant/Revoke over the
// RPC channel, and KeepAliveOnce via the channel's own bidirectional
// keep-alive stream (clientv3.Lease.KeepAliveOnce already owns the
// stream-open/reconnect bookkeeping that the original hand-rolled with a
// dedicated reader thread and a per-lease-id queue).
type DirectStrategy struct {
	channel   *rpcchannel.Channel
	timeout   wire.TimeoutOption
	unhealthy HealthGate
	log       obslog.Logger
}

// NewDirectStrategy builds a direct lease strategy over channel.
func NewDirectStrategy(channel *rpcchannel.Channel, timeout wire.TimeoutOption, unhealthy HealthGate, log obslog.Logger) *DirectStrategy {
	if log == nil {
		log = obslog.NewNop()
	}
	return &DirectStrategy{channel: channel, timeout: timeout, unhealthy: unhealthy, log: log}
}

func (s *DirectStrategy) fallbreak(api string) error {
	if s.unhealthy != nil && s.unhealthy() {
		return errs.New(errs.CodeFallbreak, "[fallbreak] failed to call "+api+" api of etcd", nil)
	}
	return nil
}

func retryEnvelope[T any](ctx context.Context, s *DirectStrategy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= s.timeout.OperationRetryTimes; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout.GrpcTimeout*time.Duration(attempt))
		v, err := fn(callCtx, attempt)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == s.timeout.OperationRetryTimes {
			break
		}
		lower := s.timeout.OperationRetryIntervalLowerBound * time.Duration(attempt)
		upper := s.timeout.OperationRetryIntervalUpperBound * time.Duration(attempt)
		wait := lower
		if upper > lower {
			wait = lower + time.Duration(rand.Int64N(int64(upper-lower)))
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}
	return zero, errs.New(errs.CodeUnavailable, "exhausted retries", lastErr)
}

// Grant implements Strategy.
func (s *DirectStrategy) Grant(ctx context.Context, ttl int64) (wire.LeaseGrantResponse, error) {
	if err := s.fallbreak("Grant"); err != nil {
		return wire.LeaseGrantResponse{Status: err}, err
	}
	resp, err := retryEnvelope(ctx, s, func(ctx context.Context, attempt int) (*clientv3.LeaseGrantResponse, error) {
		return s.channel.Client().Grant(ctx, ttl)
	})
	if err != nil {
		return wire.LeaseGrantResponse{Status: err}, err
	}
	return wire.LeaseGrantResponse{Header: toHeader(resp.ResponseHeader), LeaseId: int64(resp.ID), TTL: resp.TTL}, nil
}

// Revoke implements Strategy.
func (s *DirectStrategy) Revoke(ctx context.Context, leaseID int64) (wire.LeaseRevokeResponse, error) {
	if err := s.fallbreak("Revoke"); err != nil {
		return wire.LeaseRevokeResponse{Status: err}, err
	}
	resp, err := retryEnvelope(ctx, s, func(ctx context.Context, attempt int) (*clientv3.LeaseRevokeResponse, error) {
		return s.channel.Client().Revoke(ctx, clientv3.LeaseID(leaseID))
	})
	if err != nil {
		return wire.LeaseRevokeResponse{Status: err}, err
	}
	return wire.LeaseRevokeResponse{Header: toHeader(resp.Header)}, nil
}

// KeepAliveOnce implements Strategy: a single keep-alive round trip,
// retried with the same backoff envelope as Grant/Revoke.
func (s *DirectStrategy) KeepAliveOnce(ctx context.Context, leaseID int64) (wire.LeaseKeepAliveResponse, error) {
	if err := s.fallbreak("KeepAliveOnce"); err != nil {
		return wire.LeaseKeepAliveResponse{Status: err}, err
	}
	resp, err := retryEnvelope(ctx, s, func(ctx context.Context, attempt int) (*clientv3.LeaseKeepAliveResponse, error) {
		return s.channel.Client().KeepAliveOnce(ctx, clientv3.LeaseID(leaseID))
	})
	if err != nil {
		return wire.LeaseKeepAliveResponse{Status: err}, err
	}
	return wire.LeaseKeepAliveResponse{Header: toHeader(resp.ResponseHeader), LeaseId: int64(resp.ID), TTL: resp.TTL}, nil
}

// IsConnected implements Strategy.
func (s *DirectStrategy) IsConnected() bool {
	return s.channel.IsConnected()
}

// Finalize implements Strategy. The direct lease strategy owns no
// long-lived stream of its own (clientv3 manages KeepAliveOnce's
// transport internally), so there is nothing to tear down here.
func (s *DirectStrategy) Finalize() {}
