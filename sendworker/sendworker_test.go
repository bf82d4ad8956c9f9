package sendworker

import (
	"sync"
	"testing"
	"time"

	"github.com/derkalaender/meshnow-go/cmn/mono"
	"github.com/derkalaender/meshnow-go/internal/testutil"
	"github.com/derkalaender/meshnow-go/meshaddr"
	"github.com/derkalaender/meshnow-go/queue"
	"github.com/derkalaender/meshnow-go/sendbehavior"
	"github.com/derkalaender/meshnow-go/topology"
	"github.com/derkalaender/meshnow-go/wire"
)

type fakeDriver struct {
	mu         sync.Mutex
	sent       []struct{ peer meshaddr.Address; frame []byte }
	complete   func(peer meshaddr.Address, ok bool)
	failFor    meshaddr.Address
	hasFailFor bool
}

func (d *fakeDriver) RegisterRecv(func(meshaddr.Address, []byte, int8)) {}
func (d *fakeDriver) RegisterSendComplete(cb func(meshaddr.Address, bool)) { d.complete = cb }
func (d *fakeDriver) Send(peer meshaddr.Address, frame []byte) error {
	d.mu.Lock()
	d.sent = append(d.sent, struct {
		peer  meshaddr.Address
		frame []byte
	}{peer, frame})
	d.mu.Unlock()
	ok := !(d.hasFailFor && d.failFor == peer)
	go d.complete(peer, ok)
	return nil
}
func (d *fakeDriver) AddPeer(meshaddr.Address) error { return nil }
func (d *fakeDriver) DelPeer(meshaddr.Address) error { return nil }
func (d *fakeDriver) Channel() int                   { return 1 }
func (d *fakeDriver) SetChannel(int) error            { return nil }

func addr(b byte) meshaddr.Address {
	var a meshaddr.Address
	a[0] = b
	return a
}

func TestWorkerSendsDirectOnce(t *testing.T) {
	self, dest := addr(0x01), addr(0x02)
	topo := topology.New(self, false, 10)
	d := &fakeDriver{}
	sq := queue.New[*Item](4)
	w := New(&sync.Mutex{}, self, topo, d, sq)

	stop := make(chan struct{})
	go w.Run(stop)
	defer close(stop)

	sq.PushBlocking(NewItem(1, wire.SearchReplyBody{}, sendbehavior.DirectOnce{Addr: dest}))

	testutil.Eventually(t, time.Second, time.Millisecond, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.sent) == 1
	}, "worker should have sent the item")

	d.mu.Lock()
	got := d.sent[0]
	d.mu.Unlock()
	testutil.Fatal(t, got.peer == dest, "unexpected next hop")

	decoded, err := wire.Decode(got.frame)
	testutil.MustOK(t, err)
	testutil.Fatal(t, decoded.Variant == wire.VSearchReply, "unexpected variant on the wire")
}

func TestWorkerRetriesOnFailure(t *testing.T) {
	self := addr(0x01)
	parent := addr(0x02)
	topo := topology.New(self, false, 10)
	topo.SetParent(parent, mono.Now())

	d := &fakeDriver{failFor: parent, hasFailFor: true}
	sq := queue.New[*Item](4)
	w := New(&sync.Mutex{}, self, topo, d, sq)

	stop := make(chan struct{})
	go w.Run(stop)
	defer close(stop)

	sq.PushBlocking(NewItem(5, wire.RoutingTableAddBody{Entry: self}, sendbehavior.UpstreamRetry{}))

	testutil.Eventually(t, time.Second, time.Millisecond, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.sent) >= 1
	}, "worker should have attempted the send")

	// first attempt fails and requeues; clear the failure so the retry succeeds.
	d.mu.Lock()
	d.hasFailFor = false
	d.mu.Unlock()

	testutil.Eventually(t, time.Second, time.Millisecond, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.sent) >= 2
	}, "requeued item should be retried")
}
