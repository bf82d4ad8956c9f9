package job

import (
	"github.com/derkalaender/meshnow-go/cmn/cos"
	"github.com/derkalaender/meshnow-go/cmn/mono"
	"github.com/derkalaender/meshnow-go/config"
	"github.com/derkalaender/meshnow-go/queue"
	"github.com/derkalaender/meshnow-go/sendbehavior"
	"github.com/derkalaender/meshnow-go/sendworker"
	"github.com/derkalaender/meshnow-go/state"
	"github.com/derkalaender/meshnow-go/topology"
	"github.com/derkalaender/meshnow-go/wire"
)

// StatusSendJob is the liveness beacon of spec.md §4.9.
type StatusSendJob struct {
	cfg  config.Config
	topo *topology.Store
	sm   *state.Machine
	sq   *queue.Queue[*sendworker.Item]

	started    bool
	lastSentAt mono.Tick
}

func NewStatusSendJob(cfg config.Config, topo *topology.Store, sm *state.Machine, sq *queue.Queue[*sendworker.Item]) *StatusSendJob {
	return &StatusSendJob{cfg: cfg, topo: topo, sm: sm, sq: sq}
}

func (j *StatusSendJob) NextActionAt() mono.Tick {
	if !j.started {
		return mono.Now()
	}
	return j.lastSentAt.Add(j.cfg.StatusSendInterval)
}

func (j *StatusSendJob) PerformAction() {
	j.started = true
	j.lastSentAt = mono.Now()

	if j.topo.Empty() {
		return
	}

	body := wire.StatusBody{State: uint8(j.sm.Current())}
	if j.sm.Current() == state.ReachesRoot {
		if root, ok := j.sm.RootMAC(); ok {
			body.Root = root
			body.HasRoot = true
		}
	}
	j.sq.PushBlocking(sendworker.NewItem(cos.GenID32(), body, sendbehavior.NeighborsOnce{}))
}
