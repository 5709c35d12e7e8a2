package election

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/metastorehq/metastore-client/internal/errs"
	"github.com/metastorehq/metastore-client/internal/obslog"
	"github.com/metastorehq/metastore-client/internal/rpcchannel"
	"github.com/metastorehq/metastore-client/internal/wire"
)

// HealthGate reports whether the health monitor has declared the client
// unhealthy; consulted at the top of every direct operation.
type HealthGate func() bool

// DirectStrategy is the direct (C7) election strategy: Campaign/Leader/
// Resign/Observe built on go.etcd.io/etcd/client/v3/concurrency's
// Session+Election rather than the raw v3electionpb stub the original
// talks to directly — the idiomatic Go client library for exactly this
// primitive.
type DirectStrategy struct {
	channel     *rpcchannel.Channel
	tablePrefix string
	timeout     wire.TimeoutOption
	unhealthy   HealthGate
	log         obslog.Logger

	mu        sync.Mutex
	handles   map[string]*electionHandle // keyed by the full (prefixed) election key
	observers map[*directObserver]struct{}
}

type electionHandle struct {
	session  *concurrency.Session
	election *concurrency.Election
}

// NewDirectStrategy builds a direct election strategy over channel.
func NewDirectStrategy(channel *rpcchannel.Channel, tablePrefix string, timeout wire.TimeoutOption, unhealthy HealthGate, log obslog.Logger) *DirectStrategy {
	if log == nil {
		log = obslog.NewNop()
	}
	return &DirectStrategy{
		channel:     channel,
		tablePrefix: tablePrefix,
		timeout:     timeout,
		unhealthy:   unhealthy,
		log:         log,
		handles:     make(map[string]*electionHandle),
		observers:   make(map[*directObserver]struct{}),
	}
}

func (s *DirectStrategy) prefixed(name string) string { return s.tablePrefix + name }
func (s *DirectStrategy) trimPrefix(key string) string {
	return strings.TrimPrefix(key, s.tablePrefix)
}

func (s *DirectStrategy) fallbreak(api string) error {
	if s.unhealthy != nil && s.unhealthy() {
		return errs.New(errs.CodeFallbreak, "[fallbreak] failed to call "+api+" api of etcd", nil)
	}
	return nil
}

// retryEnvelope runs fn up to OperationRetryTimes, sleeping a uniform
// random backoff scaled by attempt between tries, matching the kv and
// lease direct strategies' envelope.
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

// Campaign implements Strategy: opens a session bound to the caller's
// already-granted lease (so lease lifetime stays under the caller's own
// C5 Grant/KeepAliveOnce control) and campaigns on name.
func (s *DirectStrategy) Campaign(ctx context.Context, name string, lease int64, value []byte) (wire.CampaignResponse, error) {
	if err := s.fallbreak("Campaign"); err != nil {
		return wire.CampaignResponse{Status: err}, err
	}
	session, err := concurrency.NewSession(s.channel.Client(), concurrency.WithLease(clientv3.LeaseID(lease)))
	if err != nil {
		e := errs.New(errs.CodeUnavailable, "failed to open election session", err)
		return wire.CampaignResponse{Status: e}, e
	}
	el := concurrency.NewElection(session, s.prefixed(name))

	_, err = retryEnvelope(ctx, s, func(callCtx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, el.Campaign(callCtx, string(value))
	})
	if err != nil {
		session.Orphan()
		return wire.CampaignResponse{Status: err}, err
	}

	key := el.Key()
	s.mu.Lock()
	s.handles[key] = &electionHandle{session: session, election: el}
	s.mu.Unlock()

	return wire.CampaignResponse{
		Leader: wire.LeaderKey{
			Name:  []byte(name),
			Key:   []byte(s.trimPrefix(key)),
			Rev:   el.Rev(),
			Lease: lease,
		},
	}, nil
}

// Leader implements Strategy: reads the current proclamation via a
// throwaway read-only session (Leader() issues a Get, so the session's
// own lease is never exercised).
func (s *DirectStrategy) Leader(ctx context.Context, name string) (wire.LeaderResponse, error) {
	if err := s.fallbreak("Leader"); err != nil {
		return wire.LeaderResponse{Status: err}, err
	}
	session, err := concurrency.NewSession(s.channel.Client())
	if err != nil {
		e := errs.New(errs.CodeUnavailable, "failed to open election session", err)
		return wire.LeaderResponse{Status: e}, e
	}
	defer session.Orphan()

	el := concurrency.NewElection(session, s.prefixed(name))
	resp, err := retryEnvelope(ctx, s, func(callCtx context.Context, attempt int) (*clientv3.GetResponse, error) {
		return el.Leader(callCtx)
	})
	if err != nil {
		return wire.LeaderResponse{Status: err}, err
	}
	out := wire.LeaderResponse{Header: toHeader(resp.Header)}
	if len(resp.Kvs) > 0 {
		out.Kv = wire.KeyValue{Key: []byte(s.trimPrefix(string(resp.Kvs[0].Key))), Value: append([]byte(nil), resp.Kvs[0].Value...)}
	}
	return out, nil
}

// Resign implements Strategy: looks up the handle Campaign created for
// this leadership and releases it.
func (s *DirectStrategy) Resign(ctx context.Context, leader wire.LeaderKey) (wire.ResignResponse, error) {
	if err := s.fallbreak("Resign"); err != nil {
		return wire.ResignResponse{Status: err}, err
	}
	key := s.prefixed(string(leader.Key))
	s.mu.Lock()
	h, ok := s.handles[key]
	if ok {
		delete(s.handles, key)
	}
	s.mu.Unlock()
	if !ok {
		e := errs.New(errs.CodeUnknown, "no matching campaign handle for resign", nil)
		return wire.ResignResponse{Status: e}, e
	}

	_, err := retryEnvelope(ctx, s, func(callCtx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, h.election.Resign(callCtx)
	})
	h.session.Orphan()
	if err != nil {
		return wire.ResignResponse{Status: err}, err
	}
	return wire.ResignResponse{}, nil
}

type directObserver struct {
	session *concurrency.Session
	cancel  context.CancelFunc
}

func (o *directObserver) Close() {
	o.cancel()
	o.session.Orphan()
}

// Observe implements Strategy: streams leadership proclamations for name
// until Close is called.
func (s *DirectStrategy) Observe(ctx context.Context, name string, cb LeaderCallback) (Observer, error) {
	session, err := concurrency.NewSession(s.channel.Client())
	if err != nil {
		return nil, errs.New(errs.CodeUnavailable, "failed to open election observe session", err)
	}
	obsCtx, cancel := context.WithCancel(ctx)
	el := concurrency.NewElection(session, s.prefixed(name))

	o := &directObserver{session: session, cancel: cancel}
	s.mu.Lock()
	s.observers[o] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.observers, o)
			s.mu.Unlock()
		}()
		for resp := range el.Observe(obsCtx) {
			out := wire.LeaderResponse{Header: toHeader(resp.Header)}
			if len(resp.Kvs) > 0 {
				out.Kv = wire.KeyValue{Key: []byte(s.trimPrefix(string(resp.Kvs[0].Key))), Value: append([]byte(nil), resp.Kvs[0].Value...)}
			}
			cb(out)
		}
	}()
	return o, nil
}

// IsConnected implements Strategy.
func (s *DirectStrategy) IsConnected() bool {
	return s.channel.IsConnected()
}

// Finalize implements Strategy: releases every held campaign session and
// stops every observer.
func (s *DirectStrategy) Finalize() {
	s.mu.Lock()
	handles := make([]*electionHandle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.handles = make(map[string]*electionHandle)
	observers := make([]*directObserver, 0, len(s.observers))
	for o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()
	for _, h := range handles {
		h.session.Orphan()
	}
	for _, o := range observers {
		o.Close()
	}
}
