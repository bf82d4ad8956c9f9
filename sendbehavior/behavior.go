// Package sendbehavior implements the five send-behavior policies of
// spec.md §4.7. The teacher's job/send hierarchies use virtual base
// classes for this kind of "same shape, different policy" dispatch;
// here Behavior is a small interface instead, and the send worker calls
// its Perform method without switching on the concrete type.
package sendbehavior

import (
	"github.com/derkalaender/meshnow-go/meshaddr"
	"github.com/derkalaender/meshnow-go/topology"
)

// Sink is implemented by the send worker (spec.md §4.6): a behavior
// describes *where* to send, the sink does the actual framing and
// physical transmission and reports back whether it succeeded.
type Sink interface {
	// Accept serializes (from, to) as the packet's source/destination,
	// transmits to nextHop, and blocks for the link layer's
	// send-complete signal. Returns false on any link-level failure.
	Accept(nextHop, from, to meshaddr.Address) bool
	// Requeue pushes the in-flight item back onto the send queue,
	// reusing its id, for retry on the next dequeue.
	Requeue()
	Self() meshaddr.Address
	Topology() *topology.Store
}

// Behavior turns "payload + intent" into concrete next-hop
// transmissions. Implementations may carry their own state (e.g.
// DownstreamRetry's per-child success set) that persists across
// Requeue cycles because the same Behavior value is pushed back onto
// the send queue, not a fresh one.
type Behavior interface {
	Perform(sink Sink)
}

// DirectOnce emits a single frame straight to Addr. No retry: used for
// ConnectOk replies, where a lost frame simply times out the peer's
// connect attempt.
type DirectOnce struct {
	Addr meshaddr.Address
}

func (d DirectOnce) Perform(sink Sink) {
	sink.Accept(d.Addr, sink.Self(), d.Addr)
}

// NeighborsOnce fans out one frame per neighbor (parent + every direct
// child), each addressed directly to that neighbor. No retry — used
// for the periodic status beacon (spec.md §4.9), where the next beacon
// supersedes a lost one anyway.
type NeighborsOnce struct{}

func (NeighborsOnce) Perform(sink Sink) {
	for _, n := range sink.Topology().AllNeighbors() {
		sink.Accept(n, sink.Self(), n)
	}
}

// UpstreamRetry sends once to the parent, addressed to the
// root-sentinel, and requeues on failure. A no-op (dropped) when
// disconnected.
type UpstreamRetry struct{}

func (UpstreamRetry) Perform(sink Sink) {
	parent, ok := sink.Topology().Parent()
	if !ok {
		return
	}
	if !sink.Accept(parent.Address, sink.Self(), meshaddr.RootSentinel) {
		sink.Requeue()
	}
}

// DownstreamRetry fans out to every child, tracking which have already
// succeeded across requeues so a retry only re-sends to the stragglers.
type DownstreamRetry struct {
	succeeded map[meshaddr.Address]bool
}

func (d *DownstreamRetry) Perform(sink Sink) {
	children := sink.Topology().Children()
	if len(children) == 0 {
		return
	}
	if d.succeeded == nil {
		d.succeeded = make(map[meshaddr.Address]bool, len(children))
	}
	anyFailed := false
	for _, c := range children {
		if d.succeeded[c.Address] {
			continue
		}
		if sink.Accept(c.Address, sink.Self(), c.Address) {
			d.succeeded[c.Address] = true
		} else {
			anyFailed = true
		}
	}
	if anyFailed {
		sink.Requeue()
	}
}

// FullyResolve is the complete routing policy (spec.md §4.7): it
// resolves To to one or more next hops given the frame's original
// From/To and the neighbor it arrived from (PrevHop; the zero Address
// for locally originated sends).
type FullyResolve struct {
	From, To, PrevHop meshaddr.Address

	succeededBroadcast map[meshaddr.Address]bool
}

func (f *FullyResolve) Perform(sink Sink) {
	ts := sink.Topology()

	switch {
	case f.To.IsBroadcast():
		f.performBroadcast(sink, ts)
		return
	case f.To.IsRootSentinel() && ts.IsRoot():
		// consume: caller should not have sent this (spec.md §4.7).
		return
	}

	if f.To.IsRootSentinel() {
		f.upstream(sink, ts)
		return
	}
	if parent, ok := ts.Parent(); ok && f.To == parent.Address {
		sink.Accept(parent.Address, f.From, f.To)
		return
	}
	if hop, ok := ts.FindChildFor(f.To); ok {
		if !sink.Accept(hop, f.From, f.To) {
			sink.Requeue()
		}
		return
	}
	// destination unknown: default to upstream.
	f.upstream(sink, ts)
}

func (f *FullyResolve) upstream(sink Sink, ts *topology.Store) {
	parent, ok := ts.Parent()
	if !ok {
		return // dropped: nowhere upstream to go.
	}
	if !sink.Accept(parent.Address, f.From, f.To) {
		sink.Requeue()
	}
}

func (f *FullyResolve) performBroadcast(sink Sink, ts *topology.Store) {
	neighbors := ts.AllNeighbors()
	if f.succeededBroadcast == nil {
		f.succeededBroadcast = make(map[meshaddr.Address]bool, len(neighbors))
	}
	anyFailed := false
	for _, n := range neighbors {
		if n == f.PrevHop || f.succeededBroadcast[n] {
			continue
		}
		if sink.Accept(n, f.From, f.To) {
			f.succeededBroadcast[n] = true
		} else {
			anyFailed = true
		}
	}
	if anyFailed {
		sink.Requeue()
	}
}
