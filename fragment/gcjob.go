package fragment

import (
	"time"

	"github.com/derkalaender/meshnow-go/cmn/mono"
)

// never mirrors job.Never without importing the job package — GCJob
// only needs to satisfy job.Job's method shape structurally.
const never = mono.Tick(1<<63 - 1)

// GCJob evicts stale reassembly entries (spec.md §4.12's GC job).
type GCJob struct {
	table   *Table
	timeout time.Duration
}

func NewGCJob(table *Table, timeout time.Duration) *GCJob {
	return &GCJob{table: table, timeout: timeout}
}

func (j *GCJob) NextActionAt() mono.Tick {
	oldest, ok := j.table.OldestLastTouched()
	if !ok {
		return never
	}
	return oldest.Add(j.timeout)
}

func (j *GCJob) PerformAction() {
	now := mono.Now()
	j.table.GC(func(lastTouched mono.Tick) bool {
		return lastTouched.Add(j.timeout).Before(now) || lastTouched.Add(j.timeout) == now
	})
}
