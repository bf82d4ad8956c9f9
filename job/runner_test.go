package job

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/derkalaender/meshnow-go/cmn/mono"
	"github.com/derkalaender/meshnow-go/internal/testutil"
	"github.com/derkalaender/meshnow-go/linkmux"
	"github.com/derkalaender/meshnow-go/queue"
)

// fakeJob fires once its due time has passed, then goes dormant.
type fakeJob struct {
	mu    sync.Mutex
	due   mono.Tick
	count int32
}

func (j *fakeJob) NextActionAt() mono.Tick {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.due
}

func (j *fakeJob) PerformAction() {
	atomic.AddInt32(&j.count, 1)
	j.mu.Lock()
	j.due = Never
	j.mu.Unlock()
}

func TestRunnerFiresDueJob(t *testing.T) {
	rq := queue.New[*linkmux.Inbound](1)
	fj := &fakeJob{due: mono.Now().Add(20 * time.Millisecond)}

	var lock sync.Mutex
	r := New(&lock, rq, func(*linkmux.Inbound) {}, 200*time.Millisecond, fj)
	go r.Run()
	defer r.Stop()

	testutil.Eventually(t, time.Second, time.Millisecond, func() bool {
		return atomic.LoadInt32(&fj.count) == 1
	}, "fake job should fire once its due time passes")

	time.Sleep(50 * time.Millisecond)
	testutil.Fatal(t, atomic.LoadInt32(&fj.count) == 1, "job should not fire again once dormant, got %d", fj.count)
}

func TestRunnerDrainsReceiveQueueBetweenJobs(t *testing.T) {
	rq := queue.New[*linkmux.Inbound](1)
	handled := make(chan *linkmux.Inbound, 1)

	var lock sync.Mutex
	r := New(&lock, rq, func(in *linkmux.Inbound) { handled <- in }, time.Second)
	go r.Run()
	defer r.Stop()

	item := &linkmux.Inbound{}
	rq.PushBlocking(item)

	select {
	case got := <-handled:
		testutil.Fatal(t, got == item, "handler should receive the exact pushed item")
	case <-time.After(time.Second):
		t.Fatal("runner never drained the receive queue")
	}
}

func TestRunnerStopBlocksUntilRunExits(t *testing.T) {
	rq := queue.New[*linkmux.Inbound](1)
	var lock sync.Mutex
	r := New(&lock, rq, func(*linkmux.Inbound) {}, time.Second)
	go r.Run()
	r.Stop() // must return, proving Run actually exited
}
