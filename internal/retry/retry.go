// Package retry implements the backoff retry helper (C1): it correlates
// in-flight proxied requests by UUID, resends them on a randomized
// bounded backoff schedule, and delivers the final reply (or a timeout)
// to the original caller. Grounded on etcd_kv_client_strategy.cpp's
// DoPut/DoGet/DoCommit envelope, generalized into one generic helper per
// the source's own "replace the per-type macro with one generic helper"
// design note.
package retry

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/metastorehq/metastore-client/internal/future"
	"github.com/metastorehq/metastore-client/internal/obslog"
)

var retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "metastore_client",
	Subsystem: "retry",
	Name:      "attempts_total",
	Help:      "The total number of proxied-request retry attempts by outcome.",
}, []string{"method", "outcome"})

// Outcome labels for retriesTotal.
const (
	outcomeSent      = "sent"
	outcomeSucceeded = "succeeded"
	outcomeExhausted = "exhausted"
)

// Sender delivers a single attempt of a payload to target under methodName.
// Implementations wrap whatever bus/transport the proxied strategies use.
type Sender func(ctx context.Context, target, methodName string, payload []byte) error

// Backoff computes the sleep duration before resending attempt N
// (attempt is 1-based on the first retry, matching the original's
// retryTimes counter).
type Backoff func(attempt int) time.Duration

// UniformBackoff reproduces the original's
// uniform(grpcTimeoutMs + lower*attempt, grpcTimeoutMs + upper*attempt).
func UniformBackoff(grpcTimeout, lower, upper time.Duration) Backoff {
	return func(attempt int) time.Duration {
		lo := grpcTimeout + lower*time.Duration(attempt)
		hi := grpcTimeout + upper*time.Duration(attempt)
		if hi <= lo {
			return lo
		}
		span := hi - lo
		return lo + time.Duration(rand.Int64N(int64(span)))
	}
}

type entry struct {
	target   string
	method   string
	payload  []byte
	attempts int
	cancel   context.CancelFunc
	complete func([]byte, error)
}

// Helper is a proxied strategy's retry state machine. The KV and
// maintenance strategies share one Helper across their operations; the
// lease and election strategies keep one per operation kind.
type Helper struct {
	mu       sync.Mutex
	inflight map[string]*entry
	send     Sender
	backoff  Backoff
	limit    int
	log      obslog.Logger
}

// New builds a retry helper bound to a sender, a backoff schedule and an
// attempt limit.
func New(send Sender, backoff Backoff, limit int, log obslog.Logger) *Helper {
	if log == nil {
		log = obslog.NewNop()
	}
	return &Helper{
		inflight: make(map[string]*entry),
		send:     send,
		backoff:  backoff,
		limit:    limit,
		log:      log,
	}
}

// Begin starts tracking a new request, sends the first attempt, and
// returns a future that resolves with the raw reply bytes once End is
// called for the same request id, or fails with future.ErrTimeout once
// the attempt limit is reached.
func Begin(h *Helper, ctx context.Context, target, method string, payload []byte) (string, *future.Future[[]byte]) {
	requestID := uuid.NewString()
	promise, f := future.New[[]byte]()

	attemptCtx, cancel := context.WithCancel(ctx)
	e := &entry{
		target:  target,
		method:  method,
		payload: payload,
		cancel:  cancel,
		complete: func(b []byte, err error) {
			if err != nil {
				promise.SetError(err)
				return
			}
			promise.SetValue(b)
		},
	}

	h.mu.Lock()
	h.inflight[requestID] = e
	h.mu.Unlock()

	go h.drive(attemptCtx, requestID, e)

	return requestID, f
}

func (h *Helper) drive(ctx context.Context, requestID string, e *entry) {
	for {
		h.mu.Lock()
		cur, ok := h.inflight[requestID]
		h.mu.Unlock()
		if !ok || cur != e {
			return
		}

		e.attempts++
		retriesTotal.WithLabelValues(e.method, outcomeSent).Inc()
		if err := h.send(ctx, e.target, e.method, e.payload); err != nil {
			h.log.Warnf("retry: send failed for request %s (attempt %d): %v", requestID, e.attempts, err)
		}

		if e.attempts >= h.limit {
			h.mu.Lock()
			delete(h.inflight, requestID)
			h.mu.Unlock()
			retriesTotal.WithLabelValues(e.method, outcomeExhausted).Inc()
			e.complete(nil, future.ErrTimeout)
			return
		}

		wait := h.backoff(e.attempts)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
			h.mu.Lock()
			delete(h.inflight, requestID)
			h.mu.Unlock()
			e.complete(nil, ctx.Err())
			return
		}
	}
}

// End completes the waiter for requestID with the given payload. A
// missing entry (duplicate or late reply) is dropped silently, per the
// original's "End" contract.
func (h *Helper) End(requestID string, payload []byte) {
	h.mu.Lock()
	e, ok := h.inflight[requestID]
	if ok {
		delete(h.inflight, requestID)
	}
	h.mu.Unlock()
	if !ok {
		h.log.Debugf("retry: dropping reply for unknown request %s", requestID)
		return
	}
	retriesTotal.WithLabelValues(e.method, outcomeSucceeded).Inc()
	e.cancel()
	e.complete(payload, nil)
}

// EndError completes the waiter for requestID with an error rather than a
// successful payload.
func (h *Helper) EndError(requestID string, err error) {
	h.mu.Lock()
	e, ok := h.inflight[requestID]
	if ok {
		delete(h.inflight, requestID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	e.cancel()
	e.complete(nil, err)
}

// InFlight reports the number of currently tracked requests, for tests.
func (h *Helper) InFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight)
}

// Tracks reports whether requestID is currently tracked by h, letting a
// caller route a reply to the one helper (of several sharing a single
// reply stream) that is actually waiting on it.
func (h *Helper) Tracks(requestID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.inflight[requestID]
	return ok
}
