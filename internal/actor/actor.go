// Package actor implements the single-threaded cooperative mailbox model
// every strategy, monitor, explorer and leader in this module runs on:
// one goroutine owns a component's mutable state and serially drains a
// channel of closures. Reader tasks (stream readers) never touch that
// state directly; they post a closure ("OnEvent", "OnCreate", ...) and,
// where the original blocks the reader until the handler finishes, wait
// on the returned done channel.
package actor

import "sync"

// Mailbox serializes execution of posted functions on a single owned
// goroutine, modeling one actor's event loop.
type Mailbox struct {
	mu       sync.Mutex
	queue    []func()
	wake     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

// NewMailbox starts the owning goroutine and returns its mailbox handle.
func NewMailbox() *Mailbox {
	m := &Mailbox{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Mailbox) run() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.wake:
				continue
			case <-m.stopped:
				return
			}
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
	}
}

// Post enqueues fn to run on the owning goroutine. It never blocks the
// caller and never runs fn synchronously, even if called from the owning
// goroutine itself.
func (m *Mailbox) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// PostWait enqueues fn and blocks until it has run, the way a reader task
// waits for a cancel to be fully processed before issuing its next read.
func (m *Mailbox) PostWait(fn func()) {
	done := make(chan struct{})
	m.Post(func() {
		fn()
		close(done)
	})
	<-done
}

// Stop terminates the owning goroutine once its queue is empty: messages
// already queued still run, and messages posted after the goroutine has
// exited never run.
func (m *Mailbox) Stop() {
	m.once.Do(func() {
		close(m.stopped)
	})
}
