// Package evbus implements the single-writer, single-reader internal
// event channel described in spec.md §4.4: producers never block past a
// bounded queue of 16, and a single delivery goroutine runs every
// handler under the mesh runtime's global lock.
package evbus

import (
	"sync"

	"github.com/derkalaender/meshnow-go/cmn/nlog"
)

const queueDepth = 16

// Event is a tagged payload; spec.md §3 names StateChanged, ParentFound,
// and GotConnectResponse as the concrete variants exchanged by the
// control plane, but the bus itself is payload-agnostic.
type Event struct {
	Base string
	ID   int
	Data any
}

type Handler func(ev Event)

type subscription struct {
	base    string
	id      int
	handler Handler
	arg     any
}

// Bus is the process-wide singleton event channel. Lock serializes
// handler execution; Publish is non-blocking up to queueDepth pending
// events, after which it blocks the producer (spec.md: "post-with-
// infinite-wait is used").
type Bus struct {
	mu   sync.Mutex
	subs []*subscription
	ch   chan Event
	lock sync.Locker // the mesh runtime's global lock; handlers run under it

	wg   sync.WaitGroup
	stop chan struct{}
}

// New creates a Bus whose delivery goroutine acquires globalLock before
// invoking any handler, matching spec.md §5's "Handlers run on the
// event task under the global lock."
func New(globalLock sync.Locker) *Bus {
	return &Bus{
		ch:   make(chan Event, queueDepth),
		lock: globalLock,
		stop: make(chan struct{}),
	}
}

// Subscribe registers handler for events whose Base/ID match. The
// returned handle identifies (base, id, handler, arg) for Unsubscribe,
// which is idempotent.
type Handle struct{ sub *subscription }

func (b *Bus) Subscribe(base string, id int, h Handler, arg any) Handle {
	sub := &subscription{base: base, id: id, handler: h, arg: arg}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return Handle{sub}
}

func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == h.sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish enqueues ev in FIFO order. Blocks if the queue is full rather
// than dropping the event, same tradeoff the teacher's queues make:
// the bus is sized generously enough (16) that a full queue signals a
// stuck delivery goroutine, not healthy backpressure.
func (b *Bus) Publish(ev Event) {
	select {
	case b.ch <- ev:
	case <-b.stop:
	}
}

// Run is the event bus delivery task (spec.md §5's "third short-lived
// task"). It must run in its own goroutine for the lifetime of the
// mesh runtime.
func (b *Bus) Run() {
	b.wg.Add(1)
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.ch:
			b.deliver(ev)
		case <-b.stop:
			return
		}
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.Lock()
	matched := make([]*subscription, 0, 2)
	for _, s := range b.subs {
		if s.base == ev.Base && s.id == ev.ID {
			matched = append(matched, s)
		}
	}
	b.mu.Unlock()

	b.lock.Lock()
	defer b.lock.Unlock()
	for _, s := range matched {
		func() {
			defer func() {
				if r := recover(); r != nil {
					nlog.Errorf("evbus: handler for %s/%d panicked: %v", ev.Base, ev.ID, r)
				}
			}()
			s.handler(ev)
		}()
	}
}

// Stop terminates Run's loop; safe to call once.
func (b *Bus) Stop() {
	close(b.stop)
	b.wg.Wait()
}
