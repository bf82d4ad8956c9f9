package mesh

import (
	"sync"
	"testing"
	"time"

	"github.com/derkalaender/meshnow-go/config"
	"github.com/derkalaender/meshnow-go/evbus"
	"github.com/derkalaender/meshnow-go/internal/testutil"
	"github.com/derkalaender/meshnow-go/ipadaptor"
	"github.com/derkalaender/meshnow-go/kvstore"
	"github.com/derkalaender/meshnow-go/linklayer/medium"
	"github.com/derkalaender/meshnow-go/meshaddr"
)

func addr(b byte) meshaddr.Address {
	var a meshaddr.Address
	a[5] = b
	return a
}

// fastConfig shrinks every timing constant so the connect handshake and
// keep-alive bookkeeping complete in milliseconds instead of seconds,
// the same trick job/connect_test.go uses.
func fastConfig(isRoot bool) config.Config {
	cfg := config.Default()
	cfg.IsRoot = isRoot
	cfg.SearchProbeInterval = 5 * time.Millisecond
	cfg.ProbesPerChannel = 1
	cfg.FirstParentWait = 20 * time.Millisecond
	cfg.ConnectTimeout = 40 * time.Millisecond
	cfg.StatusSendInterval = 20 * time.Millisecond
	cfg.KeepAliveTimeout = 60 * time.Millisecond
	cfg.RootUnreachableGrace = 80 * time.Millisecond
	cfg.FragmentTimeout = 200 * time.Millisecond
	cfg.JobRunnerMinTimeout = 5 * time.Millisecond
	cfg.MinChannel, cfg.MaxChannel = 1, 3
	return cfg
}

type node struct {
	rt  *Runtime
	drv *medium.Driver
	ip  *ipadaptor.Loopback
}

func spawn(t *testing.T, m *medium.Medium, self meshaddr.Address, isRoot bool, rssi int8) *node {
	t.Helper()
	drv := medium.NewDriver(m, self, rssi)
	ip := ipadaptor.NewLoopback()
	rt, err := Init(fastConfig(isRoot), self, drv, kvstore.NewMemStore(), ip)
	testutil.MustOK(t, err)
	testutil.MustOK(t, rt.Start())
	return &node{rt: rt, drv: drv, ip: ip}
}

func (n *node) stop(t *testing.T) {
	t.Helper()
	testutil.MustOK(t, n.rt.Stop())
	testutil.MustOK(t, n.rt.Deinit())
	n.drv.Detach()
}

// Scenario A (spec.md §8/§9): a single leaf discovers, connects to, and
// is recognized by a lone root.
func TestScenarioTwoNodeHandshake(t *testing.T) {
	med := medium.New()
	root := spawn(t, med, addr(1), true, -20)
	leaf := spawn(t, med, addr(2), false, -40)
	defer root.stop(t)
	defer leaf.stop(t)

	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		_, ok := leaf.rt.Topology().Parent()
		return ok
	}, "leaf never found a parent")

	parent, _ := leaf.rt.Topology().Parent()
	testutil.Fatal(t, parent.Address == root.rt.self, "leaf's parent is %s, want root %s", parent.Address, root.rt.self)

	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return leaf.rt.State().Current().String() == "REACHES_ROOT"
	}, "leaf never reached REACHES_ROOT")

	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return root.rt.Topology().NumChildren() == 1
	}, "root never recorded the leaf as a child")
}

// Scenario B (spec.md §4.9/§9): a three-node chain root-middle-leaf
// forms, the leaf's address propagates upstream as a routing-table
// entry, and a custom datagram sent leaf->root is delivered via the
// data callback after two hops.
func TestScenarioThreeNodeChainRoutingAndData(t *testing.T) {
	med := medium.New()
	root := spawn(t, med, addr(1), true, -20)
	middle := spawn(t, med, addr(2), false, -30)
	leaf := spawn(t, med, addr(3), false, -50)
	defer root.stop(t)
	defer middle.stop(t)
	defer leaf.stop(t)

	// RSSI is symmetric and distance-independent in this fake medium,
	// so nothing stops the leaf preferring the root directly; all three
	// nodes start together, and the chain is forced below once middle
	// has attached to root.
	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		_, ok := middle.rt.Topology().Parent()
		return ok
	}, "middle never found the root")
	middle.drv.SetChannel(1)

	// Now make the root unreachable to the leaf directly by dropping
	// any frame that doesn't traverse middle, forcing the chain shape.
	med.Drop = func(from, to meshaddr.Address) bool {
		return (from == root.rt.self && to == leaf.rt.self) || (from == leaf.rt.self && to == root.rt.self)
	}

	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		p, ok := leaf.rt.Topology().Parent()
		return ok && p.Address == middle.rt.self
	}, "leaf never attached to middle")

	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return root.rt.Topology().NumChildren() == 1 && middle.rt.Topology().NumChildren() == 1
	}, "chain never fully formed")

	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return root.rt.Topology().Has(leaf.rt.self)
	}, "leaf never propagated into root's routing table")

	var (
		mu   sync.Mutex
		got  []byte
		from meshaddr.Address
	)
	root.rt.RegisterDataCallback(func(src meshaddr.Address, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = data
		from = src
	})

	payload := []byte("hello from the edge of the mesh")
	testutil.MustOK(t, leaf.rt.Send(root.rt.self, payload))

	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, "root never received the leaf's datagram")

	mu.Lock()
	testutil.Fatal(t, string(got) == string(payload), "payload mismatch: got %q", got)
	testutil.Fatal(t, from == leaf.rt.self, "wrong source: got %s, want %s", from, leaf.rt.self)
	mu.Unlock()
}

// Scenario C (spec.md §4.11/§4.12/§9): a datagram larger than one
// link frame is fragmented by the IP adaptor seam, sent from a leaf to
// its parent, the root, and reassembled exactly once there.
func TestScenarioFragmentedTransmitToRoot(t *testing.T) {
	med := medium.New()
	root := spawn(t, med, addr(1), true, -20)
	leaf := spawn(t, med, addr(2), false, -40)
	defer root.stop(t)
	defer leaf.stop(t)

	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		_, ok := leaf.rt.Topology().Parent()
		return ok
	}, "leaf never connected")

	big := make([]byte, 600)
	for i := range big {
		big[i] = byte(i)
	}
	datagram := append(append([]byte{}, root.rt.self[:]...), big...)
	testutil.MustOK(t, leaf.rt.Transmit(datagram))

	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return len(root.ip.Received()) == 1
	}, "root never reassembled the fragmented datagram")

	got := root.ip.Received()[0]
	testutil.Fatal(t, len(got) == len(big), "reassembled length %d, want %d", len(got), len(big))
	for i := range big {
		if got[i] != big[i] {
			t.Fatalf("reassembled byte %d: got %x want %x", i, got[i], big[i])
		}
	}
}

// Scenario D (spec.md §4.7/§9): a broadcast datagram reaches every
// node in a star exactly once, never looping back to its sender.
func TestScenarioBroadcastDedupAndForward(t *testing.T) {
	med := medium.New()
	root := spawn(t, med, addr(1), true, -20)
	a := spawn(t, med, addr(2), false, -30)
	b := spawn(t, med, addr(3), false, -30)
	defer root.stop(t)
	defer a.stop(t)
	defer b.stop(t)

	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return root.rt.Topology().NumChildren() == 2
	}, "star never fully formed")

	var (
		mu      sync.Mutex
		aCount  int
		bCount  int
	)
	a.rt.RegisterDataCallback(func(meshaddr.Address, []byte) { mu.Lock(); aCount++; mu.Unlock() })
	b.rt.RegisterDataCallback(func(meshaddr.Address, []byte) { mu.Lock(); bCount++; mu.Unlock() })

	testutil.MustOK(t, root.rt.Send(meshaddr.Broadcast, []byte("all-call")))

	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return aCount == 1 && bCount == 1
	}, "broadcast did not reach both children exactly once")

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	testutil.Fatal(t, aCount == 1, "a received the broadcast %d times, want exactly 1", aCount)
	testutil.Fatal(t, bCount == 1, "b received the broadcast %d times, want exactly 1", bCount)
	mu.Unlock()
}

// Scenario E (spec.md §4.10/§4.13/§9): when the root, the leaf's
// parent, goes silent, the leaf's keep-alive timeout clears the parent,
// the disconnection is surfaced on the external event bus, and the
// node eventually recovers once the link is restored.
func TestScenarioRootUnreachableAndRecovery(t *testing.T) {
	med := medium.New()
	root := spawn(t, med, addr(1), true, -20)
	leaf := spawn(t, med, addr(2), false, -40)
	defer root.stop(t)
	defer leaf.stop(t)

	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		_, ok := leaf.rt.Topology().Parent()
		return ok
	}, "leaf never connected")

	disconnected := make(chan struct{}, 1)
	leaf.rt.Subscribe(evbus.EvParentDisconnected, func(evbus.Event) {
		select {
		case disconnected <- struct{}{}:
		default:
		}
	})

	med.Drop = func(from, to meshaddr.Address) bool {
		return from == root.rt.self || to == root.rt.self
	}

	select {
	case <-disconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("leaf never observed ParentDisconnected after the root went silent")
	}

	testutil.Fatal(t, !leaf.rt.Topology().HasParent(), "leaf still has a parent after disconnection")

	med.Drop = nil

	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		_, ok := leaf.rt.Topology().Parent()
		return ok
	}, "leaf never reconnected once the link was restored")
}
