// Package loadbalance implements the round-robin address selector used
// by the RPC channel (C2). Adapted from a weighted-random DNS-target
// balancer into a plain round-robin over backend addresses, since the
// channel's load-balancing policy is round-robin, not weighted, but the
// entry-slice-plus-selector shape is kept.
package loadbalance

import "sync/atomic"

// RoundRobin cycles through a fixed set of addresses. Safe for concurrent
// use; Next never blocks.
type RoundRobin struct {
	addrs []string
	next  uint64
}

// NewRoundRobin builds a balancer over the given addresses. An empty
// address list is valid; Next then always returns "".
func NewRoundRobin(addrs []string) *RoundRobin {
	cp := make([]string, len(addrs))
	copy(cp, addrs)
	return &RoundRobin{addrs: cp}
}

// Next returns the next address in rotation.
func (b *RoundRobin) Next() string {
	if len(b.addrs) == 0 {
		return ""
	}
	i := atomic.AddUint64(&b.next, 1) - 1
	return b.addrs[i%uint64(len(b.addrs))]
}

// Addrs returns the configured address set, for tests and diagnostics.
func (b *RoundRobin) Addrs() []string {
	cp := make([]string, len(b.addrs))
	copy(cp, b.addrs)
	return cp
}
