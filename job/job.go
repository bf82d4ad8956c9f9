// Package job implements the cooperative scheduler of spec.md §4.14
// plus the four jobs it drives. The teacher's housekeeper (a min-heap
// of due times drained by one goroutine) is the shape this package
// generalizes: here the working set is at most five jobs (these four
// plus fragment.GCJob; the root runs no ConnectJob), small enough that a
// linear scan for the minimum due time every iteration is simpler than
// a heap and costs nothing measurable.
package job

import (
	"sync"
	"time"

	"github.com/derkalaender/meshnow-go/cmn/mono"
	"github.com/derkalaender/meshnow-go/linkmux"
	"github.com/derkalaender/meshnow-go/queue"
)

// Never is the sentinel NextActionAt returns for a job with nothing to
// do — the root's ConnectJob, or any job before it has observed enough
// state to schedule itself.
const Never = mono.Tick(1<<63 - 1)

// Job is the shared shape spec.md §9 calls for in place of the
// original's virtual base class: "all Jobs share the shape
// { next_action_at() -> tick, perform_action() }."
type Job interface {
	NextActionAt() mono.Tick
	PerformAction()
}

// Runner is the Job Runner (spec.md §4.14): single goroutine, draining
// the receive queue between job due times, everything under lock.
type Runner struct {
	lock       sync.Locker
	rq         *queue.Queue[*linkmux.Inbound]
	handle     func(*linkmux.Inbound)
	jobs       []Job
	minTimeout time.Duration

	stop chan struct{}
	done chan struct{}
}

// New builds a Runner. lock is the mesh runtime's single global mutex
// (spec.md §5); handle is the packet handler's dispatch entrypoint,
// invoked with the lock held for every item popped off rq.
func New(lock sync.Locker, rq *queue.Queue[*linkmux.Inbound], handle func(*linkmux.Inbound), minTimeout time.Duration, jobs ...Job) *Runner {
	return &Runner{
		lock:       lock,
		rq:         rq,
		handle:     handle,
		jobs:       jobs,
		minTimeout: minTimeout,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run is the job runner task (spec.md §5). Call it in its own
// goroutine; it returns once Stop is called and the in-flight
// iteration finishes.
func (r *Runner) Run() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		timeout := r.computeTimeout()
		wake := after(timeout)
		merged := mergeStop(wake, r.stop)

		if item, ok := r.rq.Pop(merged); ok {
			r.lock.Lock()
			r.handle(item)
			r.lock.Unlock()
		}

		r.runDueJobs()
	}
}

// Stop requests the runner to exit and blocks until it has.
func (r *Runner) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Runner) computeTimeout() time.Duration {
	r.lock.Lock()
	defer r.lock.Unlock()
	now := mono.Now()
	timeout := r.minTimeout
	for _, j := range r.jobs {
		due := j.NextActionAt()
		if due == Never {
			continue
		}
		var d time.Duration
		if due.After(now) {
			d = due.Sub(now)
		}
		if d < timeout {
			timeout = d
		}
	}
	return timeout
}

func (r *Runner) runDueJobs() {
	r.lock.Lock()
	defer r.lock.Unlock()
	now := mono.Now()
	for _, j := range r.jobs {
		if due := j.NextActionAt(); due != Never && !due.After(now) {
			j.PerformAction()
		}
	}
}

// after returns a channel closed once d elapses; d <= 0 closes
// immediately so a due job is never delayed behind an RQ wait.
func after(d time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	if d <= 0 {
		close(ch)
		return ch
	}
	time.AfterFunc(d, func() { close(ch) })
	return ch
}

func mergeStop(a, stop <-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		select {
		case <-a:
		case <-stop:
		}
		close(out)
	}()
	return out
}
