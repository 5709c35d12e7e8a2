package kv

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/metastorehq/metastore-client/internal/actor"
	"github.com/metastorehq/metastore-client/internal/bus"
	"github.com/metastorehq/metastore-client/internal/wire"
)

// proxiedWatchRequest is the payload sent to the peer when establishing
// or resuming a watch over the bus.
type proxiedWatchRequest struct {
	Key []byte
	Opt wire.WatchOption
}

// proxiedWatcher tracks a ready/cancelled lifecycle over the bus. It
// carries a client-minted uuid, but replies are not matched by it: the
// created reply arrives on the watcher's own Observe subscription and
// binds the watchId.
type proxiedWatcher struct {
	strategy *ProxiedStrategy
	key      []byte
	observer Observer
	syncer   Syncer

	mailbox *actor.Mailbox

	mu            sync.Mutex
	uuid          string
	watchID       uint64
	ready         bool
	cancelled     bool
	startRevision int64
	cancelFn      context.CancelFunc
}

// Close implements Watcher. Idempotent.
func (w *proxiedWatcher) Close() {
	w.mu.Lock()
	if w.cancelled {
		w.mu.Unlock()
		return
	}
	w.cancelled = true
	cancel := w.cancelFn
	w.mu.Unlock()

	w.strategy.mu.Lock()
	delete(w.strategy.watchers, w)
	w.strategy.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if w.isReady() {
		_ = w.strategy.bus.Cancel(context.Background(), w.strategy.target, bus.ObserveCancelRequest{CancelObserveId: w.watchIDLocked()})
	}
	w.mailbox.Stop()
}

func (w *proxiedWatcher) isCancelled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}

func (w *proxiedWatcher) isReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

func (w *proxiedWatcher) watchIDLocked() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watchID
}

// Watch implements Strategy in proxy mode.
func (s *ProxiedStrategy) Watch(ctx context.Context, key []byte, opt wire.WatchOption, observer Observer, syncer Syncer) (Watcher, error) {
	w := &proxiedWatcher{
		strategy:      s,
		key:           key,
		observer:      observer,
		syncer:        syncer,
		mailbox:       actor.NewMailbox(),
		uuid:          uuid.NewString(),
		startRevision: opt.Revision,
	}
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	w.start(ctx, opt)
	return w, nil
}

// GetAndWatch implements Strategy in proxy mode, matching the direct
// strategy's semantics (Get, synthesize a synced PUT batch, then Watch
// from revision+1).
func (s *ProxiedStrategy) GetAndWatch(ctx context.Context, key []byte, opt wire.WatchOption, observer Observer, syncer Syncer) (Watcher, error) {
	if opt.Revision != 0 {
		return s.Watch(ctx, key, opt, observer, syncer)
	}
	getOpt := wire.GetOption{Prefix: opt.Prefix}
	resp, err := s.Get(ctx, key, getOpt)
	if err != nil {
		return nil, err
	}
	events := make([]wire.WatchEvent, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		events = append(events, wire.WatchEvent{Type: wire.EventPut, Kv: kv})
	}
	observer(events, true)

	nextOpt := opt
	nextOpt.Revision = resp.Header.Revision + 1
	return s.Watch(ctx, key, nextOpt, observer, syncer)
}

func (w *proxiedWatcher) start(ctx context.Context, opt wire.WatchOption) {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancelFn = cancel
	w.ready = false
	opt.Revision = w.startRevision
	w.mu.Unlock()

	events, err := w.strategy.bus.Observe(ctx, w.strategy.target, "Watch", encode(proxiedWatchRequest{Key: w.key, Opt: opt}))
	if err != nil {
		w.strategy.log.Warnf("kv: failed to start proxied watch: %v", err)
		return
	}
	go w.pump(ctx, events)
}

func (w *proxiedWatcher) pump(ctx context.Context, events <-chan bus.ObserveEvent) {
	for ev := range events {
		if w.isCancelled() {
			return
		}
		e := ev
		w.mailbox.Post(func() {
			w.onObserveEvent(ctx, e)
		})
	}
	if w.isCancelled() {
		return
	}
	// channel closed without an explicit client cancel: resync.
	w.resync()
}

func (w *proxiedWatcher) onObserveEvent(ctx context.Context, ev bus.ObserveEvent) {
	if w.isCancelled() {
		return
	}
	switch {
	case ev.IsCreate:
		w.mu.Lock()
		w.watchID = ev.ObserveId
		w.ready = true
		w.mu.Unlock()
	case ev.IsCancel:
		w.mu.Lock()
		w.ready = false
		w.mu.Unlock()
		w.resyncLocked(ctx)
	default:
		var batch []wire.WatchEvent
		if err := decode(ev.Payload, &batch); err != nil {
			return
		}
		if len(batch) > 0 {
			w.observer(batch, false)
		}
	}
}

func (w *proxiedWatcher) resyncLocked(ctx context.Context) {
	if w.syncer != nil {
		if sr, err := w.syncer(ctx); err == nil {
			w.mu.Lock()
			w.startRevision = sr.Header.Revision + 1
			w.mu.Unlock()
		}
	}
	w.resync()
}

// resync restarts the watch at the current startRevision, used both
// after a peer-initiated cancel and after a proxy address change.
func (w *proxiedWatcher) resync() {
	if w.isCancelled() {
		return
	}
	w.mu.Lock()
	rev := w.startRevision
	w.mu.Unlock()
	w.start(context.Background(), wire.WatchOption{Revision: rev})
}
