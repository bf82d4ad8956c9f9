package job

import (
	"github.com/derkalaender/meshnow-go/cmn/cos"
	"github.com/derkalaender/meshnow-go/cmn/mono"
	"github.com/derkalaender/meshnow-go/cmn/nlog"
	"github.com/derkalaender/meshnow-go/config"
	"github.com/derkalaender/meshnow-go/evbus"
	"github.com/derkalaender/meshnow-go/meshaddr"
	"github.com/derkalaender/meshnow-go/queue"
	"github.com/derkalaender/meshnow-go/sendbehavior"
	"github.com/derkalaender/meshnow-go/sendworker"
	"github.com/derkalaender/meshnow-go/state"
	"github.com/derkalaender/meshnow-go/topology"
	"github.com/derkalaender/meshnow-go/wire"
)

// NeighborCheckJob evicts neighbors that have gone quiet for longer
// than KeepAliveTimeout (spec.md §4.10).
type NeighborCheckJob struct {
	cfg  config.Config
	topo *topology.Store
	sm   *state.Machine
	bus  *evbus.Bus
	sq   *queue.Queue[*sendworker.Item]

	// OnParentLost fires after the parent is evicted and the state
	// machine has transitioned to DISCONNECTED_FROM_PARENT — the
	// external ParentDisconnected event is the caller's responsibility.
	OnParentLost func(parent meshaddr.Address)
}

func NewNeighborCheckJob(cfg config.Config, topo *topology.Store, sm *state.Machine, bus *evbus.Bus, sq *queue.Queue[*sendworker.Item]) *NeighborCheckJob {
	return &NeighborCheckJob{cfg: cfg, topo: topo, sm: sm, bus: bus, sq: sq}
}

func (j *NeighborCheckJob) NextActionAt() mono.Tick {
	oldest, ok := j.topo.OldestLastSeen()
	if !ok {
		return Never
	}
	return oldest.Add(j.cfg.KeepAliveTimeout)
}

func (j *NeighborCheckJob) PerformAction() {
	now := mono.Now()
	timeoutOf := func(t mono.Tick) mono.Tick { return t.Add(j.cfg.KeepAliveTimeout) }

	for _, addr := range j.topo.ExpiredNeighbors(now, timeoutOf) {
		if parent, ok := j.topo.Parent(); ok && parent.Address == addr {
			nlog.Infof("neighbor-check: parent %s timed out", addr)
			j.topo.RemoveParent()
			state.Apply(j.sm, j.bus, state.DisconnectedFromParent, meshaddr.Address{}, false)
			if j.OnParentLost != nil {
				j.OnParentLost(addr)
			}
			continue
		}

		if j.topo.RemoveChild(addr) {
			nlog.Infof("neighbor-check: child %s timed out", addr)
			j.sq.PushBlocking(sendworker.NewItem(cos.GenID32(), wire.RoutingTableRemBody{Entry: addr}, sendbehavior.UpstreamRetry{}))
		}
	}
}
