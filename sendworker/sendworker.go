// Package sendworker implements the Send Worker (spec.md §4.6): the
// single goroutine that drains the send queue, asks a send-behavior
// where a frame should go next, and blocks on the link layer's
// send-complete signal before moving on. Grounded on the teacher's
// single-goroutine drain loops (e.g. transport's object-stream sender)
// that pop one item, do blocking I/O on it, then loop.
package sendworker

import (
	"sync"

	"github.com/derkalaender/meshnow-go/cmn/nlog"
	"github.com/derkalaender/meshnow-go/linklayer"
	"github.com/derkalaender/meshnow-go/meshaddr"
	"github.com/derkalaender/meshnow-go/queue"
	"github.com/derkalaender/meshnow-go/sendbehavior"
	"github.com/derkalaender/meshnow-go/topology"
	"github.com/derkalaender/meshnow-go/wire"
)

// Item is one unit of outbound work: a packet body plus the policy
// that decides its next hop(s). ID is assigned once at enqueue time
// and reused verbatim across Requeue cycles, so a retried frame keeps
// the identity a receiver's dedup cache already may have seen.
type Item struct {
	ID       uint32
	Body     wire.Body
	Behavior sendbehavior.Behavior
}

func NewItem(id uint32, body wire.Body, behavior sendbehavior.Behavior) *Item {
	return &Item{ID: id, Body: body, Behavior: behavior}
}

// Worker owns the send queue's consumer side. topology is the mesh
// runtime's shared Topology Store, also read and written by the
// job-runner goroutine under lock (spec.md §5: "a single global mutex
// serializes all observers and mutators of the Topology Store"); Run
// holds lock for the whole of each behavior's resolution, Accept
// releasing it only around the physical send/wait so the two
// goroutines never see a half-mutated Store.
type Worker struct {
	self   meshaddr.Address
	topo   *topology.Store
	driver linklayer.Driver
	sq     *queue.Queue[*Item]
	done   chan sendResult
	lock   sync.Locker
}

type sendResult struct {
	peer meshaddr.Address
	ok   bool
}

func New(lock sync.Locker, self meshaddr.Address, topo *topology.Store, driver linklayer.Driver, sq *queue.Queue[*Item]) *Worker {
	w := &Worker{self: self, topo: topo, driver: driver, sq: sq, done: make(chan sendResult, 1), lock: lock}
	driver.RegisterSendComplete(func(peer meshaddr.Address, ok bool) {
		w.done <- sendResult{peer: peer, ok: ok}
	})
	return w
}

// Run drains the send queue until stop is closed. The link layer is
// assumed half-duplex with exactly one outstanding transmission at a
// time (spec.md §1), so a single pending slot for the completion
// signal is sufficient — Accept never issues a second Send before the
// first's completion arrives.
func (w *Worker) Run(stop <-chan struct{}) {
	for {
		item, ok := w.sq.Pop(stop)
		if !ok {
			return
		}
		w.lock.Lock()
		sink := &itemSink{w: w, item: item}
		item.Behavior.Perform(sink)
		w.lock.Unlock()
	}
}

type itemSink struct {
	w    *Worker
	item *Item
}

func (s *itemSink) Self() meshaddr.Address    { return s.w.self }
func (s *itemSink) Topology() *topology.Store { return s.w.topo }
func (s *itemSink) Requeue()                  { s.w.sq.PushBlocking(s.item) }

// Accept is called with the global lock held (Run's invariant above);
// it releases the lock for exactly the physical I/O — the driver.Send
// call and the wait for its completion signal — and reacquires it
// before returning, so the calling Behavior's subsequent Topology()
// reads stay inside the locked region.
func (s *itemSink) Accept(nextHop, from, to meshaddr.Address) bool {
	pkt := &wire.Packet{
		ID:      s.item.ID,
		From:    from,
		To:      to,
		Variant: s.item.Body.Variant(),
		Body:    s.item.Body,
	}
	frame, err := wire.Encode(pkt)
	if err != nil {
		nlog.Errorf("sendworker: encode %s to %s: %v", pkt.Variant, nextHop, err)
		return false
	}

	s.w.lock.Unlock()
	ok := s.send(nextHop, frame)
	s.w.lock.Lock()
	return ok
}

func (s *itemSink) send(nextHop meshaddr.Address, frame []byte) bool {
	if err := s.w.driver.Send(nextHop, frame); err != nil {
		nlog.Warningf("sendworker: link send to %s: %v", nextHop, err)
		return false
	}
	res := <-s.w.done
	return res.ok
}
