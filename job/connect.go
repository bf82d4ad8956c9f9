package job

import (
	"github.com/derkalaender/meshnow-go/cmn/cos"
	"github.com/derkalaender/meshnow-go/cmn/mono"
	"github.com/derkalaender/meshnow-go/cmn/nlog"
	"github.com/derkalaender/meshnow-go/config"
	"github.com/derkalaender/meshnow-go/evbus"
	"github.com/derkalaender/meshnow-go/kvstore"
	"github.com/derkalaender/meshnow-go/linklayer"
	"github.com/derkalaender/meshnow-go/meshaddr"
	"github.com/derkalaender/meshnow-go/queue"
	"github.com/derkalaender/meshnow-go/sendbehavior"
	"github.com/derkalaender/meshnow-go/sendworker"
	"github.com/derkalaender/meshnow-go/state"
	"github.com/derkalaender/meshnow-go/topology"
	"github.com/derkalaender/meshnow-go/wire"
)

type connectPhase uint8

const (
	phaseSearch connectPhase = iota
	phaseConnect
	phaseDone
)

type candidate struct {
	Addr meshaddr.Address
	RSSI int8
}

// ConnectJob is the three-phase handshake of spec.md §4.8, expressed as
// one struct with a phase tag rather than the original's virtual
// ConnectPhase/SearchPhase/ResetPhase hierarchy (spec.md §9: tagged
// union, dispatch by variant).
type ConnectJob struct {
	cfg    config.Config
	self   meshaddr.Address
	isRoot bool

	topo   *topology.Store
	sm     *state.Machine
	bus    *evbus.Bus
	driver linklayer.Driver
	kv     kvstore.Store
	sq     *queue.Queue[*sendworker.Item]

	// OnParentConnected fires after SetParent/Transition succeed and
	// the job has entered Done. Publishing the external ParentConnected
	// event is the caller's responsibility (spec.md §5: external hooks
	// are not this job's job); no RoutingTableAdd is sent for this node,
	// since the new parent announces it upstream on accepting the
	// ConnectRequest.
	OnParentConnected func(parent, root meshaddr.Address)

	phase connectPhase

	// search-phase state
	started         bool
	currentChannel  int
	lastProbeAt     mono.Tick
	probesOnChannel int
	candidates      []candidate
	hasFirstFound   bool
	firstFoundAt    mono.Tick

	// connect-phase state
	awaiting        bool
	inFlight        meshaddr.Address
	connectDeadline mono.Tick

	subParentFound evbus.Handle
	subGotResponse evbus.Handle
	subStateChange evbus.Handle
}

// NewConnectJob subscribes to the events the handshake reacts to.
// Callers must not construct one for the root (spec.md §4.8 last
// line; mesh.Runtime's root fast path skips this entirely).
func NewConnectJob(cfg config.Config, self meshaddr.Address, isRoot bool, topo *topology.Store, sm *state.Machine, bus *evbus.Bus, driver linklayer.Driver, kv kvstore.Store, sq *queue.Queue[*sendworker.Item]) *ConnectJob {
	j := &ConnectJob{
		cfg: cfg, self: self, isRoot: isRoot,
		topo: topo, sm: sm, bus: bus, driver: driver, kv: kv, sq: sq,
		phase: phaseSearch,
	}
	j.subParentFound = bus.Subscribe(evbus.InternalBase, evbus.EvParentFound, j.handleParentFound, nil)
	j.subGotResponse = bus.Subscribe(evbus.InternalBase, evbus.EvGotConnectResponse, j.handleGotConnectResponse, nil)
	j.subStateChange = bus.Subscribe(evbus.InternalBase, evbus.EvStateChanged, j.handleStateChanged, nil)
	return j
}

// Close unsubscribes from the event bus; call once on shutdown.
func (j *ConnectJob) Close() {
	j.bus.Unsubscribe(j.subParentFound)
	j.bus.Unsubscribe(j.subGotResponse)
	j.bus.Unsubscribe(j.subStateChange)
}

func (j *ConnectJob) NextActionAt() mono.Tick {
	if j.isRoot {
		return Never
	}
	switch j.phase {
	case phaseSearch:
		return j.searchNextActionAt()
	case phaseConnect:
		if j.awaiting {
			return j.connectDeadline
		}
		return mono.Now()
	default:
		return Never
	}
}

func (j *ConnectJob) PerformAction() {
	if j.isRoot {
		return
	}
	switch j.phase {
	case phaseSearch:
		j.performSearch()
	case phaseConnect:
		j.performConnect()
	}
}

func (j *ConnectJob) searchNextActionAt() mono.Tick {
	if !j.started {
		return mono.Now()
	}
	next := j.lastProbeAt.Add(j.cfg.SearchProbeInterval)
	if j.hasFirstFound {
		if wait := j.firstFoundAt.Add(j.cfg.FirstParentWait); wait.Before(next) {
			next = wait
		}
	}
	return next
}

func (j *ConnectJob) performSearch() {
	now := mono.Now()
	if !j.started {
		j.started = true
		j.currentChannel = j.loadStartChannel()
		if err := j.driver.SetChannel(j.currentChannel); err != nil {
			nlog.Warningf("connect: set channel %d: %v", j.currentChannel, err)
		}
		j.probeAndSchedule(now)
		return
	}

	if len(j.candidates) == 0 {
		if j.probesOnChannel >= j.cfg.ProbesPerChannel {
			j.advanceChannel()
		}
	} else {
		due := j.firstFoundAt.Add(j.cfg.FirstParentWait)
		if !due.After(now) {
			nlog.Infof("connect: starting connect phase with %d candidate(s)", len(j.candidates))
			j.phase = phaseConnect
			return
		}
	}
	j.probeAndSchedule(now)
}

func (j *ConnectJob) probeAndSchedule(now mono.Tick) {
	j.sendProbe()
	j.lastProbeAt = now
	j.probesOnChannel++
}

func (j *ConnectJob) advanceChannel() {
	next := j.currentChannel + 1
	if next > j.cfg.MaxChannel {
		next = j.cfg.MinChannel
	}
	j.currentChannel = next
	if err := j.driver.SetChannel(next); err != nil {
		nlog.Warningf("connect: set channel %d: %v", next, err)
	}
	j.probesOnChannel = 0
}

func (j *ConnectJob) loadStartChannel() int {
	if v, ok := j.kv.GetU8(kvstore.LastChannelKey); ok {
		ch := int(v)
		if ch >= j.cfg.MinChannel && ch <= j.cfg.MaxChannel {
			return ch
		}
	}
	return j.cfg.MinChannel
}

func (j *ConnectJob) persistChannel() {
	j.kv.SetU8(kvstore.LastChannelKey, uint8(j.currentChannel))
	if err := j.kv.Commit(); err != nil {
		nlog.Warningf("connect: persisting channel: %v", err)
	}
}

func (j *ConnectJob) sendProbe() {
	id := cos.GenID32()
	j.sq.PushBlocking(sendworker.NewItem(id, wire.SearchProbeBody{}, sendbehavior.DirectOnce{Addr: meshaddr.Broadcast}))
}

func (j *ConnectJob) handleParentFound(ev evbus.Event) {
	if j.phase != phaseSearch {
		return
	}
	data, ok := ev.Data.(evbus.ParentFound)
	if !ok || data.Addr == j.self || j.topo.Has(data.Addr) {
		return
	}

	if len(j.candidates) == 0 {
		j.hasFirstFound = true
		j.firstFoundAt = mono.Now()
		j.persistChannel()
	}

	for i := range j.candidates {
		if j.candidates[i].Addr == data.Addr {
			j.candidates[i].RSSI = data.RSSI
			return
		}
	}

	if len(j.candidates) < j.cfg.MaxParentsToConsider {
		j.candidates = append(j.candidates, candidate{Addr: data.Addr, RSSI: data.RSSI})
		return
	}

	// list full: evict the single weakest candidate, but only if the
	// new one is stronger (original_source connect.cpp, preserved
	// verbatim per SPEC_FULL.md §5).
	weakest := 0
	for i, c := range j.candidates {
		if c.RSSI < j.candidates[weakest].RSSI {
			weakest = i
		}
	}
	if data.RSSI > j.candidates[weakest].RSSI {
		j.candidates[weakest] = candidate{Addr: data.Addr, RSSI: data.RSSI}
	}
}

func (j *ConnectJob) performConnect() {
	now := mono.Now()
	if j.awaiting && !j.connectDeadline.After(now) {
		nlog.Infof("connect: request to %s timed out", j.inFlight)
		j.awaiting = false
	}
	if j.awaiting {
		return
	}
	j.tryNextCandidate()
}

func (j *ConnectJob) tryNextCandidate() {
	if len(j.candidates) == 0 {
		nlog.Infof("connect: candidates exhausted, returning to search")
		j.resetToSearch()
		return
	}
	best := 0
	for i, c := range j.candidates {
		if c.RSSI > j.candidates[best].RSSI {
			best = i
		}
	}
	cand := j.candidates[best]
	j.candidates = append(j.candidates[:best], j.candidates[best+1:]...)

	j.inFlight = cand.Addr
	j.awaiting = true
	j.connectDeadline = mono.Now().Add(j.cfg.ConnectTimeout)

	id := cos.GenID32()
	j.sq.PushBlocking(sendworker.NewItem(id, wire.ConnectRequestBody{}, sendbehavior.DirectOnce{Addr: cand.Addr}))
}

func (j *ConnectJob) handleGotConnectResponse(ev evbus.Event) {
	if j.phase != phaseConnect || !j.awaiting {
		return
	}
	data, ok := ev.Data.(evbus.GotConnectResponse)
	if !ok || data.Addr != j.inFlight {
		return
	}
	j.awaiting = false

	j.topo.SetParent(data.Addr, mono.Now())
	state.Apply(j.sm, j.bus, state.ReachesRoot, data.Root, true)
	j.phase = phaseDone

	if j.OnParentConnected != nil {
		j.OnParentConnected(data.Addr, data.Root)
	}
}

func (j *ConnectJob) handleStateChanged(ev evbus.Event) {
	data, ok := ev.Data.(state.StateChanged)
	if !ok || data.New != state.DisconnectedFromParent {
		return
	}
	j.resetToSearch()
}

func (j *ConnectJob) resetToSearch() {
	j.phase = phaseSearch
	j.started = false
	j.probesOnChannel = 0
	j.candidates = nil
	j.hasFirstFound = false
	j.awaiting = false
}
