// Package pkthandler implements the Packet Handler (spec.md §4.13): the
// per-variant dispatch run by the job runner for every item popped off
// the receive queue. It is the sole authority for topology mutations
// driven by remote events (spec.md §2).
package pkthandler

import (
	"github.com/derkalaender/meshnow-go/cmn/cos"
	"github.com/derkalaender/meshnow-go/cmn/mono"
	"github.com/derkalaender/meshnow-go/dedup"
	"github.com/derkalaender/meshnow-go/evbus"
	"github.com/derkalaender/meshnow-go/fragment"
	"github.com/derkalaender/meshnow-go/linkmux"
	"github.com/derkalaender/meshnow-go/meshaddr"
	"github.com/derkalaender/meshnow-go/queue"
	"github.com/derkalaender/meshnow-go/sendbehavior"
	"github.com/derkalaender/meshnow-go/sendworker"
	"github.com/derkalaender/meshnow-go/state"
	"github.com/derkalaender/meshnow-go/topology"
	"github.com/derkalaender/meshnow-go/wire"
)

// Handler dispatches every inbound packet. Everything it touches is
// shared runtime state accessed under the global lock (spec.md §5);
// the job runner holds that lock for the duration of Handle.
type Handler struct {
	self   meshaddr.Address
	isRoot bool

	topo   *topology.Store
	sm     *state.Machine
	bus    *evbus.Bus
	sq     *queue.Queue[*sendworker.Item]
	dedup  *dedup.Cache
	frags  *fragment.Table

	// DeliverCustomData and DeliverDatagram are the two user-facing
	// delivery hooks spec.md §6 describes: per-callback CustomData
	// fan-out, and handing a reassembled datagram to the IP-stack
	// adaptor. Both are the mesh runtime's responsibility to wire.
	DeliverCustomData func(src meshaddr.Address, data []byte)
	DeliverDatagram   func(data []byte)
}

func New(self meshaddr.Address, isRoot bool, topo *topology.Store, sm *state.Machine, bus *evbus.Bus, sq *queue.Queue[*sendworker.Item], dedupCache *dedup.Cache, frags *fragment.Table) *Handler {
	return &Handler{
		self: self, isRoot: isRoot,
		topo: topo, sm: sm, bus: bus, sq: sq, dedup: dedupCache, frags: frags,
	}
}

// Handle is the job runner's RQ-drain entrypoint (spec.md §2 data flow:
// "JR pops -> PH visits by variant").
func (h *Handler) Handle(in *linkmux.Inbound) {
	pkt, from, rssi := in.Packet, in.From, in.RSSI

	broadcast := pkt.To.IsBroadcast()
	toRoot := pkt.To.IsRootSentinel()
	// Routing-table updates climb toward the root one hop at a time,
	// each ancestor folding the entry into its own direct child's
	// table before re-announcing upstream itself (spec.md §4.2/§4.13;
	// original_source packet_handler.cpp's NodeConnected handler calls
	// insertChild at every hop, not only once the packet reaches the
	// root). So these two variants are "for us" at every intermediate
	// node too; their own handlers below push the next hop onward.
	perHop := toRoot && (pkt.Variant == wire.VRoutingTableAdd || pkt.Variant == wire.VRoutingTableRemove)
	forUs := pkt.To == h.self || broadcast || (toRoot && h.isRoot) || perHop

	switch {
	case broadcast:
		if h.dedup.SeenBefore(pkt.From, pkt.ID) {
			return
		}
		h.forward(pkt, from)
	case !forUs:
		h.forward(pkt, from)
		return
	}

	h.dispatch(pkt, from, rssi)
}

// forward re-enqueues pkt for every remaining hop, preserving its
// original id and body so forwarded bytes are bit-identical to what a
// fresh encode of the same logical packet would produce.
func (h *Handler) forward(pkt *wire.Packet, prevHop meshaddr.Address) {
	behavior := &sendbehavior.FullyResolve{From: pkt.From, To: pkt.To, PrevHop: prevHop}
	h.sq.PushBlocking(sendworker.NewItem(pkt.ID, pkt.Body, behavior))
}

func (h *Handler) dispatch(pkt *wire.Packet, from meshaddr.Address, rssi int8) {
	switch pkt.Variant {
	case wire.VStatus:
		h.handleStatus(pkt, from)
	case wire.VSearchProbe:
		h.handleSearchProbe(from)
	case wire.VSearchReply:
		h.handleSearchReply(from, rssi)
	case wire.VConnectRequest:
		h.handleConnectRequest(from)
	case wire.VConnectOk:
		h.handleConnectOk(pkt, from)
	case wire.VRoutingTableAdd:
		h.handleRoutingTableAdd(pkt, from)
	case wire.VRoutingTableRemove:
		h.handleRoutingTableRemove(pkt, from)
	case wire.VRootUnreachable:
		h.handleRootUnreachable(from)
	case wire.VRootReachable:
		h.handleRootReachable(pkt, from)
	case wire.VDataFragment:
		h.handleDataFragment(pkt)
	case wire.VCustomData:
		h.handleCustomData(pkt)
	}
}

func (h *Handler) handleStatus(pkt *wire.Packet, from meshaddr.Address) {
	body, ok := pkt.Body.(wire.StatusBody)
	if !ok {
		return
	}
	now := mono.Now()

	if parent, hasParent := h.topo.Parent(); hasParent && parent.Address == from {
		h.topo.TouchParent(from, now)
		switch state.State(body.State) {
		case state.ReachesRoot:
			if body.HasRoot {
				state.Apply(h.sm, h.bus, state.ReachesRoot, body.Root, true)
			}
		case state.ConnectedToParent:
			state.Apply(h.sm, h.bus, state.ConnectedToParent, meshaddr.Address{}, false)
		}
		return
	}

	h.topo.TouchChild(from, now)
}

func (h *Handler) handleSearchProbe(from meshaddr.Address) {
	if h.sm.Current() != state.ReachesRoot {
		return
	}
	if h.topo.Has(from) {
		return
	}
	if h.topo.NumChildren() >= h.topo.MaxChildren() {
		return
	}
	h.sq.PushBlocking(sendworker.NewItem(cos.GenID32(), wire.SearchReplyBody{}, sendbehavior.DirectOnce{Addr: from}))
}

// handleSearchReply only publishes — whether this is even relevant is
// decided by job.ConnectJob itself, since only it knows whether it is
// currently in the Search phase (spec.md §4.13: "only in Search
// phase"); PH has no visibility into job-local phase state and
// shouldn't need any.
func (h *Handler) handleSearchReply(from meshaddr.Address, rssi int8) {
	if h.topo.Has(from) {
		return
	}
	h.bus.Publish(evbus.Event{Base: evbus.InternalBase, ID: evbus.EvParentFound, Data: evbus.ParentFound{Addr: from, RSSI: rssi}})
}

func (h *Handler) handleConnectRequest(from meshaddr.Address) {
	if h.sm.Current() != state.ReachesRoot {
		return
	}
	if h.topo.Has(from) {
		return
	}
	if h.topo.NumChildren() >= h.topo.MaxChildren() {
		return
	}
	h.topo.AddChild(from, mono.Now())
	root, _ := h.sm.RootMAC()
	h.sq.PushBlocking(sendworker.NewItem(cos.GenID32(), wire.ConnectOkBody{Root: root}, sendbehavior.DirectOnce{Addr: from}))
	if h.topo.HasParent() {
		h.sq.PushBlocking(sendworker.NewItem(cos.GenID32(), wire.RoutingTableAddBody{Entry: from}, sendbehavior.UpstreamRetry{}))
	}
}

// handleConnectOk, like handleSearchReply, only publishes; job.ConnectJob
// filters by its own in-flight candidate (spec.md §4.13: "only in
// Connect phase").
func (h *Handler) handleConnectOk(pkt *wire.Packet, from meshaddr.Address) {
	body, ok := pkt.Body.(wire.ConnectOkBody)
	if !ok {
		return
	}
	h.bus.Publish(evbus.Event{Base: evbus.InternalBase, ID: evbus.EvGotConnectResponse, Data: evbus.GotConnectResponse{Addr: from, Root: body.Root}})
}

func (h *Handler) isDirectChild(addr meshaddr.Address) bool {
	for _, c := range h.topo.Children() {
		if c.Address == addr {
			return true
		}
	}
	return false
}

func (h *Handler) handleRoutingTableAdd(pkt *wire.Packet, from meshaddr.Address) {
	body, ok := pkt.Body.(wire.RoutingTableAddBody)
	if !ok || !h.isDirectChild(from) {
		return
	}
	h.topo.AddRoutingEntry(from, body.Entry)
	if h.topo.HasParent() {
		h.sq.PushBlocking(sendworker.NewItem(cos.GenID32(), body, sendbehavior.UpstreamRetry{}))
	}
}

func (h *Handler) handleRoutingTableRemove(pkt *wire.Packet, from meshaddr.Address) {
	body, ok := pkt.Body.(wire.RoutingTableRemBody)
	if !ok || !h.isDirectChild(from) {
		return
	}
	h.topo.RemoveRoutingEntry(from, body.Entry)
	if h.topo.HasParent() {
		h.sq.PushBlocking(sendworker.NewItem(cos.GenID32(), body, sendbehavior.UpstreamRetry{}))
	}
}

func (h *Handler) handleRootUnreachable(from meshaddr.Address) {
	parent, ok := h.topo.Parent()
	if !ok || parent.Address != from {
		return
	}
	state.Apply(h.sm, h.bus, state.ConnectedToParent, meshaddr.Address{}, false)
	if h.topo.NumChildren() > 0 {
		h.sq.PushBlocking(sendworker.NewItem(cos.GenID32(), wire.RootUnreachableBody{}, &sendbehavior.DownstreamRetry{}))
	}
}

func (h *Handler) handleRootReachable(pkt *wire.Packet, from meshaddr.Address) {
	body, ok := pkt.Body.(wire.RootReachableBody)
	if !ok {
		return
	}
	parent, pok := h.topo.Parent()
	if !pok || parent.Address != from {
		return
	}
	state.Apply(h.sm, h.bus, state.ReachesRoot, body.Root, true)
	if h.topo.NumChildren() > 0 {
		h.sq.PushBlocking(sendworker.NewItem(cos.GenID32(), body, &sendbehavior.DownstreamRetry{}))
	}
}

func (h *Handler) handleDataFragment(pkt *wire.Packet) {
	body, ok := pkt.Body.(wire.DataFragmentBody)
	if !ok {
		return
	}
	if complete, done := h.frags.AddFragment(pkt.From, body.FragID, body.FragNum, body.TotalSize, body.Data); done {
		if h.DeliverDatagram != nil {
			h.DeliverDatagram(complete)
		}
	}
}

func (h *Handler) handleCustomData(pkt *wire.Packet) {
	body, ok := pkt.Body.(wire.CustomDataBody)
	if !ok {
		return
	}
	if h.DeliverCustomData != nil {
		h.DeliverCustomData(pkt.From, body.Data)
	}
}
