package job

import (
	"github.com/derkalaender/meshnow-go/cmn/mono"
	"github.com/derkalaender/meshnow-go/cmn/nlog"
	"github.com/derkalaender/meshnow-go/config"
	"github.com/derkalaender/meshnow-go/evbus"
	"github.com/derkalaender/meshnow-go/meshaddr"
	"github.com/derkalaender/meshnow-go/state"
	"github.com/derkalaender/meshnow-go/topology"
)

// UnreachableTimeoutJob implements the root-unreachable grace period
// of spec.md §4.11: a live parent that itself lost the root gets a
// grace window before this node gives up on it.
type UnreachableTimeoutJob struct {
	cfg    config.Config
	topo   *topology.Store
	sm     *state.Machine
	bus    *evbus.Bus
	isRoot bool

	awaiting bool
	since    mono.Tick

	sub evbus.Handle

	// OnParentLost mirrors NeighborCheckJob's hook: the external
	// ParentDisconnected event is the caller's responsibility.
	OnParentLost func(parent meshaddr.Address)
}

func NewUnreachableTimeoutJob(cfg config.Config, topo *topology.Store, sm *state.Machine, bus *evbus.Bus, isRoot bool) *UnreachableTimeoutJob {
	j := &UnreachableTimeoutJob{cfg: cfg, topo: topo, sm: sm, bus: bus, isRoot: isRoot}
	j.sub = bus.Subscribe(evbus.InternalBase, evbus.EvStateChanged, j.handleStateChanged, nil)
	return j
}

func (j *UnreachableTimeoutJob) Close() { j.bus.Unsubscribe(j.sub) }

func (j *UnreachableTimeoutJob) handleStateChanged(ev evbus.Event) {
	data, ok := ev.Data.(state.StateChanged)
	if !ok {
		return
	}
	switch {
	case data.Old == state.ReachesRoot && data.New == state.ConnectedToParent:
		j.awaiting = true
		j.since = mono.Now()
	case data.New == state.ReachesRoot, data.New == state.DisconnectedFromParent:
		j.awaiting = false
	}
}

func (j *UnreachableTimeoutJob) NextActionAt() mono.Tick {
	if j.isRoot || !j.awaiting {
		return Never
	}
	return j.since.Add(j.cfg.RootUnreachableGrace)
}

func (j *UnreachableTimeoutJob) PerformAction() {
	if !j.awaiting {
		return
	}
	j.awaiting = false
	if j.sm.Current() != state.ConnectedToParent {
		return
	}
	parent, ok := j.topo.Parent()
	if !ok {
		return
	}
	nlog.Infof("unreachable-timeout: grace expired, dropping parent %s", parent.Address)
	j.topo.RemoveParent()
	state.Apply(j.sm, j.bus, state.DisconnectedFromParent, meshaddr.Address{}, false)
	if j.OnParentLost != nil {
		j.OnParentLost(parent.Address)
	}
}
