// Package mesh is the top-level runtime (spec.md §6 User API): it owns
// every singleton — topology, state machine, event bus, queues,
// dedup cache, fragment table — wires the rest of this module's
// packages together, and exposes Init/Deinit/Start/Stop/Send plus the
// data-callback and external-event surfaces. Everything outside this
// package is a reusable component; this package is the composition
// root the way aistore's `ais` daemon wires `cluster`, `fs`, `reb`, and
// friends together (trimmed from this pack as out of scope — see
// DESIGN.md).
package mesh

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/derkalaender/meshnow-go/cmn/cos"
	"github.com/derkalaender/meshnow-go/config"
	"github.com/derkalaender/meshnow-go/dedup"
	"github.com/derkalaender/meshnow-go/evbus"
	"github.com/derkalaender/meshnow-go/fragment"
	"github.com/derkalaender/meshnow-go/ipadaptor"
	"github.com/derkalaender/meshnow-go/job"
	"github.com/derkalaender/meshnow-go/kvstore"
	"github.com/derkalaender/meshnow-go/linklayer"
	"github.com/derkalaender/meshnow-go/linkmux"
	"github.com/derkalaender/meshnow-go/meshaddr"
	"github.com/derkalaender/meshnow-go/pkthandler"
	"github.com/derkalaender/meshnow-go/queue"
	"github.com/derkalaender/meshnow-go/sendbehavior"
	"github.com/derkalaender/meshnow-go/sendworker"
	"github.com/derkalaender/meshnow-go/state"
	"github.com/derkalaender/meshnow-go/topology"
	"github.com/derkalaender/meshnow-go/wire"
)

// DataCallback receives every CustomData datagram addressed to this
// node, including ones consumed in passing as a broadcast (spec.md §6:
// register_data_callback).
type DataCallback func(src meshaddr.Address, data []byte)

// CallbackHandle identifies one registered DataCallback for later
// unregistration.
type CallbackHandle int

type callbackEntry struct {
	id CallbackHandle
	fn DataCallback
}

// Runtime is the mesh node's process-lifetime singleton.
type Runtime struct {
	mu sync.Mutex // the global lock, spec.md §5

	cfg  config.Config
	self meshaddr.Address

	driver    linklayer.Driver
	kv        kvstore.Store
	ipAdaptor ipadaptor.Adaptor

	topo  *topology.Store
	sm    *state.Machine
	bus   *evbus.Bus
	rq    *queue.Queue[*linkmux.Inbound]
	sq    *queue.Queue[*sendworker.Item]
	dedup *dedup.Cache
	frags *fragment.Table

	mux    *linkmux.Mux
	sw     *sendworker.Worker
	ph     *pkthandler.Handler
	runner *job.Runner

	connectJob     *job.ConnectJob
	statusJob      *job.StatusSendJob
	neighborJob    *job.NeighborCheckJob
	unreachableJob *job.UnreachableTimeoutJob
	gcJob          *fragment.GCJob

	cbMu      sync.Mutex
	callbacks []callbackEntry
	nextCBID  CallbackHandle

	eg      *errgroup.Group
	stopSW  chan struct{}
	started bool
}

// Init wires every component together (spec.md §9: "initialization
// order must be deterministic: state -> event bus -> topology store ->
// queues -> workers; teardown reverses"). driver, kv, and ipAdaptor are
// the three external collaborators of spec.md §6; ipAdaptor may be nil
// if this process never needs IP passthrough.
func Init(cfg config.Config, self meshaddr.Address, driver linklayer.Driver, kv kvstore.Store, ipAdaptor ipadaptor.Adaptor) (*Runtime, error) {
	if driver == nil {
		return nil, cos.NewErrInvalidState("init: nil link-layer driver")
	}
	if kv == nil {
		kv = kvstore.NewMemStore()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{cfg: cfg, self: self, driver: driver, kv: kv, ipAdaptor: ipAdaptor}

	r.sm = state.NewMachine(cfg.IsRoot, self)
	r.bus = evbus.New(&r.mu)
	r.topo = topology.New(self, cfg.IsRoot, cfg.MaxChildren)
	r.rq = queue.New[*linkmux.Inbound](cfg.RQSize)
	r.sq = queue.New[*sendworker.Item](cfg.SQSize)
	r.dedup = dedup.New(cfg.DedupCacheSize)
	r.frags = fragment.New()

	r.mux = linkmux.New(driver, r.rq)
	r.sw = sendworker.New(&r.mu, self, r.topo, r.mux, r.sq)

	r.ph = pkthandler.New(self, cfg.IsRoot, r.topo, r.sm, r.bus, r.sq, r.dedup, r.frags)
	r.ph.DeliverCustomData = r.deliverCustomData
	r.ph.DeliverDatagram = r.deliverDatagram

	r.statusJob = job.NewStatusSendJob(cfg, r.topo, r.sm, r.sq)
	r.neighborJob = job.NewNeighborCheckJob(cfg, r.topo, r.sm, r.bus, r.sq)
	r.neighborJob.OnParentLost = r.onParentLost
	r.unreachableJob = job.NewUnreachableTimeoutJob(cfg, r.topo, r.sm, r.bus, cfg.IsRoot)
	r.unreachableJob.OnParentLost = r.onParentLost
	r.gcJob = fragment.NewGCJob(r.frags, cfg.FragmentTimeout)

	jobs := []job.Job{r.statusJob, r.neighborJob, r.unreachableJob, r.gcJob}
	if !cfg.IsRoot {
		// root fast path: no handshake, ever (original_source
		// meshnow.cpp/wifi.hpp; SPEC_FULL.md §5).
		r.connectJob = job.NewConnectJob(cfg, self, cfg.IsRoot, r.topo, r.sm, r.bus, driver, kv, r.sq)
		r.connectJob.OnParentConnected = r.onParentConnected
		jobs = append(jobs, r.connectJob)
	}

	r.runner = job.New(&r.mu, r.rq, r.ph.Handle, cfg.JobRunnerMinTimeout, jobs...)
	return r, nil
}

// Deinit releases event-bus subscriptions; requires the runtime to be
// stopped (spec.md §6).
func (r *Runtime) Deinit() error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		return cos.NewErrInvalidState("deinit requires stopped")
	}
	if r.connectJob != nil {
		r.connectJob.Close()
	}
	r.unreachableJob.Close()
	return nil
}

// Start launches the two pinned worker goroutines plus the event bus
// delivery goroutine (spec.md §5).
func (r *Runtime) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return cos.NewErrInvalidState("already started")
	}
	r.started = true
	r.mu.Unlock()

	r.stopSW = make(chan struct{})
	r.eg = &errgroup.Group{}
	r.eg.Go(func() error { r.bus.Run(); return nil })
	r.eg.Go(func() error { r.runner.Run(); return nil })
	r.eg.Go(func() error { r.sw.Run(r.stopSW); return nil })
	return nil
}

// Stop requests cooperative shutdown and blocks until the event bus,
// job runner, and send worker goroutines have all exited. The
// teacher's C++ port signals shutdown with a FreeRTOS event-group
// wait-bits primitive across three tasks; errgroup.Group.Wait is the
// idiomatic Go equivalent of "block until every one of these
// goroutines has returned."
func (r *Runtime) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return cos.NewErrInvalidState("not started")
	}
	r.mu.Unlock()

	r.runner.Stop()
	close(r.stopSW)
	r.bus.Stop()
	_ = r.eg.Wait()

	r.mu.Lock()
	r.started = false
	r.mu.Unlock()
	return nil
}

// Send enqueues a CustomData datagram for delivery to dest via the
// complete routing policy (spec.md §6).
func (r *Runtime) Send(dest meshaddr.Address, data []byte) error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return cos.NewErrInvalidState("send while stopped")
	}
	if len(data) > wire.MaxCustomPayload {
		return cos.NewErrInvalidFrame("send: payload too large: %d > %d", len(data), wire.MaxCustomPayload)
	}
	behavior := &sendbehavior.FullyResolve{From: r.self, To: dest}
	r.sq.PushBlocking(sendworker.NewItem(cos.GenID32(), wire.CustomDataBody{Data: data}, behavior))
	return nil
}

// RegisterDataCallback adds fn to the set invoked on every CustomData
// delivery (spec.md §6).
func (r *Runtime) RegisterDataCallback(fn DataCallback) CallbackHandle {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.nextCBID++
	r.callbacks = append(r.callbacks, callbackEntry{id: r.nextCBID, fn: fn})
	return r.nextCBID
}

// UnregisterDataCallback removes a callback added by RegisterDataCallback.
func (r *Runtime) UnregisterDataCallback(h CallbackHandle) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	for i, c := range r.callbacks {
		if c.id == h {
			r.callbacks = append(r.callbacks[:i], r.callbacks[i+1:]...)
			return
		}
	}
}

// Subscribe exposes the external event surface (spec.md §6):
// evbus.EvParentConnected / evbus.EvParentDisconnected on
// evbus.ExternalBase.
func (r *Runtime) Subscribe(eventID int, h evbus.Handler) evbus.Handle {
	return r.bus.Subscribe(evbus.ExternalBase, eventID, h, nil)
}

func (r *Runtime) Unsubscribe(h evbus.Handle) { r.bus.Unsubscribe(h) }

// Topology exposes read access for diagnostics/metrics callers.
func (r *Runtime) Topology() *topology.Store { return r.topo }
func (r *Runtime) State() *state.Machine     { return r.sm }
func (r *Runtime) SendQueue() *queue.Queue[*sendworker.Item] { return r.sq }
func (r *Runtime) RecvQueue() *queue.Queue[*linkmux.Inbound] { return r.rq }
func (r *Runtime) Fragments() *fragment.Table                { return r.frags }

func (r *Runtime) onParentConnected(parent, root meshaddr.Address) {
	// The parent itself announces the freshly joined child upstream on
	// accepting the ConnectRequest (pkthandler.handleConnectRequest,
	// original_source hand_shaker.cpp receivedConnectRequest's
	// sendChildConnectEvent) — the child does not also announce itself.
	r.bus.Publish(evbus.Event{Base: evbus.ExternalBase, ID: evbus.EvParentConnected, Data: evbus.ParentConnected{Parent: parent}})
}

func (r *Runtime) onParentLost(parent meshaddr.Address) {
	r.bus.Publish(evbus.Event{Base: evbus.ExternalBase, ID: evbus.EvParentDisconnected, Data: evbus.ParentDisconnected{Parent: parent}})
}

func (r *Runtime) deliverCustomData(src meshaddr.Address, data []byte) {
	r.cbMu.Lock()
	cbs := make([]callbackEntry, len(r.callbacks))
	copy(cbs, r.callbacks)
	r.cbMu.Unlock()
	for _, c := range cbs {
		c.fn(src, data)
	}
}

func (r *Runtime) deliverDatagram(data []byte) {
	if r.ipAdaptor != nil {
		r.ipAdaptor.Receive(data)
	}
}

// Transmit implements ipadaptor.Transmitter: the IP stack hands us a
// datagram whose first 6 bytes are the destination mesh address
// (spec.md §6); we fragment and route the remainder.
func (r *Runtime) Transmit(data []byte) error {
	if len(data) < meshaddr.Len {
		return cos.NewErrInvalidFrame("transmit: short datagram: %d", len(data))
	}
	var dest meshaddr.Address
	copy(dest[:], data[:meshaddr.Len])
	return r.sendFragmented(dest, data[meshaddr.Len:])
}

func (r *Runtime) sendFragmented(dest meshaddr.Address, payload []byte) error {
	if len(payload) > 1500 {
		return cos.NewErrInvalidFrame("transmit: payload too large: %d", len(payload))
	}
	total := uint16(len(payload))
	fragID := cos.GenID32()

	numFrags := (len(payload) + wire.MaxFragPayload - 1) / wire.MaxFragPayload
	if numFrags == 0 {
		numFrags = 1
	}
	if numFrags > wire.MaxFragments {
		return cos.NewErrInvalidFrame("transmit: too many fragments: %d", numFrags)
	}

	for n := 0; n < numFrags; n++ {
		start := n * wire.MaxFragPayload
		end := start + wire.MaxFragPayload
		if end > len(payload) {
			end = len(payload)
		}
		body := wire.DataFragmentBody{FragID: fragID, FragNum: uint8(n), TotalSize: total, Data: payload[start:end]}
		behavior := &sendbehavior.FullyResolve{From: r.self, To: dest}
		r.sq.PushBlocking(sendworker.NewItem(cos.GenID32(), body, behavior))
	}
	return nil
}
