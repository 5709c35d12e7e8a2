package kv

import (
	"context"
	"sync"

	pb "go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/metastorehq/metastore-client/internal/actor"
	"github.com/metastorehq/metastore-client/internal/wire"
)

// directWatcher owns one watch record until it is cancelled. Event and
// server-cancel handling run on the mailbox, so the reader goroutine
// never mutates startRevision or the cancelled flag directly — it only
// posts messages, per the actor model this module follows. Close sets
// the cancelled flag from the caller's goroutine under mu.
type directWatcher struct {
	strategy *DirectStrategy
	key      []byte
	opt      wire.WatchOption
	observer Observer
	syncer   Syncer

	mailbox *actor.Mailbox

	mu            sync.Mutex
	startRevision int64
	cancelled     bool
	cancel        context.CancelFunc
}

// Close implements Watcher. Idempotent.
func (w *directWatcher) Close() {
	w.mu.Lock()
	if w.cancelled {
		w.mu.Unlock()
		return
	}
	w.cancelled = true
	cancel := w.cancel
	w.mu.Unlock()

	w.strategy.mu.Lock()
	delete(w.strategy.watchers, w)
	w.strategy.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.mailbox.Stop()
}

func (w *directWatcher) isCancelled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}

func (w *directWatcher) setStartRevision(rev int64) {
	w.mu.Lock()
	w.startRevision = rev
	w.mu.Unlock()
}

func (w *directWatcher) getStartRevision() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startRevision
}

// Watch implements Strategy: starts a dedicated reader loop for this
// watch. All watches issued against the same channel share that
// channel's single multiplexed gRPC stream, which is how the client
// library already satisfies "all watches share a single bidirectional
// stream" without this module hand-rolling stream multiplexing.
func (s *DirectStrategy) Watch(ctx context.Context, key []byte, opt wire.WatchOption, observer Observer, syncer Syncer) (Watcher, error) {
	w := &directWatcher{
		strategy:      s,
		key:           key,
		opt:           opt,
		observer:      observer,
		syncer:        syncer,
		mailbox:       actor.NewMailbox(),
		startRevision: opt.Revision,
	}
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	go w.run(ctx)
	return w, nil
}

// GetAndWatch implements Strategy: if opt.Revision == 0, performs a Get
// first, synthesizes a synced PUT batch for every current KV (delivered
// even when empty, so callers can distinguish "established with
// nothing yet" from "no callback ever fired" — a deliberate divergence
// from the original, recorded in the supplemental behavior notes), then
// starts Watch at getResponse.revision + 1.
func (s *DirectStrategy) GetAndWatch(ctx context.Context, key []byte, opt wire.WatchOption, observer Observer, syncer Syncer) (Watcher, error) {
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

func (w *directWatcher) run(ctx context.Context) {
	for {
		if w.isCancelled() {
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		w.mu.Lock()
		w.cancel = cancel
		w.mu.Unlock()

		opts := []clientv3.OpOption{clientv3.WithCreatedNotify(), clientv3.WithRev(w.getStartRevision())}
		if w.opt.Prefix {
			opts = append(opts, clientv3.WithPrefix())
		}
		if w.opt.PrevKv {
			opts = append(opts, clientv3.WithPrevKV())
		}

		wch := w.strategy.channel.Client().Watch(ctx, string(w.strategy.prefixed(w.key)), opts...)
		if !w.drain(ctx, wch) {
			return
		}
		if w.isCancelled() {
			return
		}
		// channel closed without an explicit cancel — treat as a
		// disconnect and re-watch at the current startRevision.
		watchReconnectsTotal.Inc()
		w.strategy.channel.CheckAndWaitForReconnect(func() bool { return !w.isCancelled() })
	}
}

// drain processes messages from one watch channel incarnation. It
// returns false when the watcher itself has been closed and the run
// loop should stop entirely.
func (w *directWatcher) drain(ctx context.Context, wch clientv3.WatchChan) bool {
	for resp := range wch {
		if w.isCancelled() {
			return false
		}
		if resp.Canceled {
			w.mailbox.PostWait(func() {
				w.onCancelled(ctx, resp)
			})
			return true
		}
		if err := resp.Err(); err != nil {
			return true
		}
		w.mailbox.Post(func() {
			w.onEvents(resp)
		})
	}
	return true
}

func (w *directWatcher) onCancelled(ctx context.Context, resp clientv3.WatchResponse) {
	if w.isCancelled() {
		return
	}
	if w.syncer != nil && resp.CompactRevision > w.getStartRevision() {
		sr, err := w.syncer(ctx)
		if err == nil {
			w.setStartRevision(sr.Header.Revision + 1)
		}
	}
}

func (w *directWatcher) onEvents(resp clientv3.WatchResponse) {
	if w.isCancelled() {
		return
	}
	if len(resp.Events) > 0 {
		w.setStartRevision(resp.Header.Revision + 1)
	}
	events := make([]wire.WatchEvent, 0, len(resp.Events))
	for _, ev := range resp.Events {
		e := toEvent((*pb.Event)(ev))
		e.Kv.Key = w.strategy.trimPrefix(e.Kv.Key)
		if e.PrevKv != nil {
			e.PrevKv.Key = w.strategy.trimPrefix(e.PrevKv.Key)
		}
		events = append(events, e)
	}
	if len(events) > 0 {
		w.observer(events, false)
	}
}
