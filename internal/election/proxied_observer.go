package election

import (
	"context"
	"sync"

	"github.com/metastorehq/metastore-client/internal/actor"
	"github.com/metastorehq/metastore-client/internal/bus"
	"github.com/metastorehq/metastore-client/internal/wire"
)

// proxiedObserver mirrors MetaStoreObserver's pending/ready/cancelled
// lifecycle for a streamed election observe subscription.
type proxiedObserver struct {
	strategy *ProxiedStrategy
	name     string
	cb       LeaderCallback

	mailbox *actor.Mailbox

	mu        sync.Mutex
	watchID   uint64
	ready     bool
	cancelled bool
	cancelFn  context.CancelFunc
}

// Observe implements Strategy in proxy mode.
func (s *ProxiedStrategy) Observe(ctx context.Context, name string, cb LeaderCallback) (Observer, error) {
	o := &proxiedObserver{
		strategy: s,
		name:     name,
		cb:       cb,
		mailbox:  actor.NewMailbox(),
	}
	s.mu.Lock()
	s.observers[o] = struct{}{}
	s.mu.Unlock()

	o.start(ctx)
	return o, nil
}

func (o *proxiedObserver) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancelFn = cancel
	o.ready = false
	o.mu.Unlock()

	events, err := o.strategy.bus.Observe(ctx, o.strategy.target, "Observe", encode(struct{ Name string }{o.name}))
	if err != nil {
		o.strategy.log.Warnf("election: failed to start observe: %v", err)
		return
	}
	go o.pump(ctx, events)
}

func (o *proxiedObserver) pump(ctx context.Context, events <-chan bus.ObserveEvent) {
	for ev := range events {
		if o.isCancelled() {
			return
		}
		e := ev
		o.mailbox.Post(func() {
			o.onObserveEvent(e)
		})
	}
	if o.isCancelled() {
		return
	}
	o.resync()
}

func (o *proxiedObserver) onObserveEvent(ev bus.ObserveEvent) {
	if o.isCancelled() {
		return
	}
	switch {
	case ev.IsCreate:
		o.mu.Lock()
		o.watchID = ev.ObserveId
		o.ready = true
		o.mu.Unlock()
	case ev.IsCancel:
		o.mu.Lock()
		o.ready = false
		o.mu.Unlock()
		o.resync()
	default:
		var lr wire.LeaderResponse
		if err := decode(ev.Payload, &lr); err != nil {
			return
		}
		o.cb(lr)
	}
}

func (o *proxiedObserver) isCancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

func (o *proxiedObserver) isReady() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ready
}

func (o *proxiedObserver) watchIDLocked() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.watchID
}

// resync restarts the observe stream, used both after a peer-initiated
// cancel and after a proxy address change.
func (o *proxiedObserver) resync() {
	if o.isCancelled() {
		return
	}
	o.start(context.Background())
}

// Close implements Observer. Idempotent.
func (o *proxiedObserver) Close() {
	o.mu.Lock()
	if o.cancelled {
		o.mu.Unlock()
		return
	}
	o.cancelled = true
	cancel := o.cancelFn
	o.mu.Unlock()

	o.strategy.mu.Lock()
	delete(o.strategy.observers, o)
	o.strategy.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if o.isReady() {
		_ = o.strategy.bus.Cancel(context.Background(), o.strategy.target, bus.ObserveCancelRequest{CancelObserveId: o.watchIDLocked()})
	}
	o.mailbox.Stop()
}
