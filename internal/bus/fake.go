package bus

import (
	"context"
	"sync"
)

// Fake is an in-memory Bus used by tests: Send records every delivered
// envelope so a test can synthesize and push back a Reply via
// PushReply, without a real peer process. Replies and observe events are
// broadcast to every subscriber registered via Replies/Observe, mirroring
// a real actor bus shared by several proxied strategies at once (each
// strategy subscribes independently and filters its own traffic with
// retry.Helper.Tracks or an observe id).
type Fake struct {
	mu          sync.Mutex
	sent        []Envelope
	address     string
	replySubs   []chan Reply
	observeSubs []chan ObserveEvent
	sendErr     error
}

// NewFake builds a fake bus with the given initial peer address.
func NewFake(address string) *Fake {
	return &Fake{address: address}
}

func (f *Fake) Send(ctx context.Context, target, methodName string, env Envelope) error {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	err := f.sendErr
	f.mu.Unlock()
	return err
}

// Replies registers a new subscriber and returns its dedicated channel.
// Each proxied strategy sharing this Fake calls Replies once and keeps
// the result, so every subscriber sees every reply.
func (f *Fake) Replies() <-chan Reply {
	ch := make(chan Reply, 16)
	f.mu.Lock()
	f.replySubs = append(f.replySubs, ch)
	f.mu.Unlock()
	return ch
}

func (f *Fake) Observe(ctx context.Context, target, methodName string, payload []byte) (<-chan ObserveEvent, error) {
	ch := make(chan ObserveEvent, 16)
	f.mu.Lock()
	f.observeSubs = append(f.observeSubs, ch)
	f.mu.Unlock()
	return ch, nil
}

func (f *Fake) Cancel(ctx context.Context, target string, req ObserveCancelRequest) error {
	return nil
}

func (f *Fake) Address() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address
}

func (f *Fake) OnAddressUpdated(addr string) {
	f.mu.Lock()
	f.address = addr
	f.mu.Unlock()
}

// PushReply delivers a reply as if it arrived from the peer, to every
// registered subscriber.
func (f *Fake) PushReply(r Reply) {
	f.mu.Lock()
	subs := append([]chan Reply(nil), f.replySubs...)
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- r
	}
}

// PushObserveEvent delivers an observe event as if streamed from the
// peer, to every registered subscriber.
func (f *Fake) PushObserveEvent(e ObserveEvent) {
	f.mu.Lock()
	subs := append([]chan ObserveEvent(nil), f.observeSubs...)
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- e
	}
}

// SetSendError makes every subsequent Send fail with err.
func (f *Fake) SetSendError(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// Sent returns every envelope delivered so far.
func (f *Fake) Sent() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}
