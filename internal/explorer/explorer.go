// Package explorer implements the passive leader-info cache (C12): a
// revision-gated cache of the current leader's address, kept up to date
// by whatever drives it (an election Observe subscription, or a direct
// FastPublish after winning locally) and fanned out to a registered
// callback set. Grounded on explorer_actor.h/.cpp (RegisterLeaderChangedCallback/
// UnregisterLeaderChangedCallback/cachedLeaderInfo_) and
// etcd_explorer_actor.cpp's UpdateLeaderInfo/FastPublish (the
// revision-monotonic gate: `revision != 0 && revision < cached` is
// rejected as a stale event, everything else updates the cache and
// fires every callback).
package explorer

import "sync"

// LeaderInfo is the cached leadership fact: who holds it, where they can
// be reached, and at what election revision.
type LeaderInfo struct {
	Name          string
	Address       string
	ElectRevision int64
}

// ChangeCallback is invoked with the freshly cached LeaderInfo whenever
// Update accepts a new one.
type ChangeCallback func(LeaderInfo)

// Cache is the revision-gated leader-info cache. Safe for concurrent
// use.
type Cache struct {
	electionKey string

	mu            sync.RWMutex
	cached        LeaderInfo
	hasCached     bool
	electRevision int64
	callbacks     map[string]ChangeCallback
}

// New builds a Cache for electionKey, optionally seeded with a known
// initial leader (the standalone-mode constructor path in
// ExplorerActor, used when there is no election to observe at all).
func New(electionKey string, initial *LeaderInfo) *Cache {
	c := &Cache{electionKey: electionKey, callbacks: make(map[string]ChangeCallback)}
	if initial != nil {
		c.cached = *initial
		c.hasCached = true
		c.electRevision = initial.ElectRevision
	}
	return c
}

// RegisterLeaderChangedCallback adds cb under cbIdentifier, replacing
// any previous registration under the same identifier. If a leader is
// already cached, cb is invoked immediately with it, matching
// RegisterLeaderChangedCallback's "register and trigger" behavior.
func (c *Cache) RegisterLeaderChangedCallback(cbIdentifier string, cb ChangeCallback) {
	if cb == nil {
		return
	}
	c.mu.Lock()
	c.callbacks[cbIdentifier] = cb
	cached := c.cached
	hasCached := c.hasCached
	c.mu.Unlock()

	if hasCached {
		cb(cached)
	}
}

// UnregisterLeaderChangedCallback removes cbIdentifier's callback, if
// any.
func (c *Cache) UnregisterLeaderChangedCallback(cbIdentifier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.callbacks, cbIdentifier)
}

// Current returns the cached leader, if any has been observed or
// published yet.
func (c *Cache) Current() (LeaderInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached, c.hasCached
}

// Update applies a freshly observed or locally known LeaderInfo. A
// non-zero revision older than the cache's current revision is rejected
// as a stale event; anything else is accepted, cached, and fanned out
// to every registered callback. FastPublish (an explorer that just won
// its own election skipping the observe round trip) is the same
// operation as an ordinary observed update, so both call this.
func (c *Cache) Update(info LeaderInfo) bool {
	c.mu.Lock()
	if info.ElectRevision != 0 && info.ElectRevision < c.electRevision {
		c.mu.Unlock()
		return false
	}
	if info.ElectRevision != 0 {
		c.electRevision = info.ElectRevision
	}
	c.cached = info
	c.hasCached = true
	callbacks := make([]ChangeCallback, 0, len(c.callbacks))
	for _, cb := range c.callbacks {
		callbacks = append(callbacks, cb)
	}
	c.mu.Unlock()

	for _, cb := range callbacks {
		cb(info)
	}
	return true
}

// ElectionKey returns the election key this cache tracks.
func (c *Cache) ElectionKey() string {
	return c.electionKey
}
