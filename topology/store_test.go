package topology

import (
	"testing"
	"time"

	"github.com/derkalaender/meshnow-go/cmn/mono"
	"github.com/derkalaender/meshnow-go/internal/testutil"
	"github.com/derkalaender/meshnow-go/meshaddr"
)

func a(b byte) meshaddr.Address {
	var addr meshaddr.Address
	addr[0] = b
	return addr
}

func TestParentAndChildLifecycle(t *testing.T) {
	self := a(0x00)
	s := New(self, false, 2)

	_, ok := s.Parent()
	testutil.Fatal(t, !ok, "expected no parent initially")

	s.SetParent(a(0x01), mono.Now())
	p, ok := s.Parent()
	testutil.Fatal(t, ok && p.Address == a(0x01), "parent not installed")
	testutil.Fatal(t, s.HasParent(), "HasParent should be true")

	testutil.Fatal(t, s.AddChild(a(0x02), mono.Now()), "first child add should succeed")
	testutil.Fatal(t, s.AddChild(a(0x03), mono.Now()), "second child add should succeed")
	testutil.Fatal(t, !s.AddChild(a(0x04), mono.Now()), "third child add should fail: MaxChildren=2")
	testutil.Fatal(t, !s.AddChild(a(0x02), mono.Now()), "duplicate child add should report false")
	testutil.Fatal(t, s.NumChildren() == 2, "expected 2 children, got %d", s.NumChildren())

	testutil.Fatal(t, s.RemoveChild(a(0x02)), "remove existing child should succeed")
	testutil.Fatal(t, !s.RemoveChild(a(0x02)), "remove absent child should report false")
	testutil.Fatal(t, s.NumChildren() == 1, "expected 1 child after removal, got %d", s.NumChildren())

	s.RemoveParent()
	testutil.Fatal(t, !s.HasParent(), "RemoveParent should clear parent")
}

func TestHasAndRoutingTable(t *testing.T) {
	self := a(0x00)
	s := New(self, false, 10)
	s.AddChild(a(0x10), mono.Now())

	testutil.Fatal(t, !s.Has(a(0x20)), "grandchild should not be visible before AddRoutingEntry")
	testutil.Fatal(t, s.AddRoutingEntry(a(0x10), a(0x20)), "AddRoutingEntry on known child should succeed")
	testutil.Fatal(t, s.Has(a(0x20)), "grandchild should be visible after AddRoutingEntry")
	testutil.Fatal(t, !s.AddRoutingEntry(a(0x99), a(0x20)), "AddRoutingEntry on unknown child should fail")

	hop, ok := s.FindChildFor(a(0x20))
	testutil.Fatal(t, ok && hop == a(0x10), "FindChildFor should resolve to direct child 0x10")

	testutil.Fatal(t, s.RemoveRoutingEntry(a(0x10), a(0x20)), "RemoveRoutingEntry should succeed")
	testutil.Fatal(t, !s.Has(a(0x20)), "grandchild should vanish after RemoveRoutingEntry")
}

func TestResolveRootSentinel(t *testing.T) {
	self := a(0x00)

	root := New(self, true, 10)
	hop, ok := root.Resolve(meshaddr.RootSentinel)
	testutil.Fatal(t, ok && hop == self, "root resolving RootSentinel should return itself")

	leaf := New(a(0x01), false, 10)
	_, ok = leaf.Resolve(meshaddr.RootSentinel)
	testutil.Fatal(t, !ok, "leaf with no parent should fail to resolve RootSentinel")

	leaf.SetParent(a(0x02), mono.Now())
	hop, ok = leaf.Resolve(meshaddr.RootSentinel)
	testutil.Fatal(t, ok && hop == a(0x02), "leaf with parent should resolve RootSentinel to parent")
}

func TestResolveSelfAndBroadcast(t *testing.T) {
	self := a(0x00)
	s := New(self, false, 10)
	hop, ok := s.Resolve(self)
	testutil.Fatal(t, ok && hop == self, "resolving self should return self")
	hop, ok = s.Resolve(meshaddr.Broadcast)
	testutil.Fatal(t, ok && hop == meshaddr.Broadcast, "resolving broadcast should return broadcast")
}

func TestExpiredNeighbors(t *testing.T) {
	s := New(a(0x00), false, 10)
	now := mono.Now()
	s.SetParent(a(0x01), now)
	s.AddChild(a(0x02), now)

	timeout := func(t mono.Tick) mono.Tick { return t.Add(10 * time.Millisecond) }
	expired := s.ExpiredNeighbors(now, timeout)
	testutil.Fatal(t, len(expired) == 0, "nothing should be expired yet")

	later := now.Add(20 * time.Millisecond)
	expired = s.ExpiredNeighbors(later, timeout)
	testutil.Fatal(t, len(expired) == 2, "parent and child should both be expired, got %d", len(expired))
}

func TestEmpty(t *testing.T) {
	s := New(a(0x00), false, 10)
	testutil.Fatal(t, s.Empty(), "fresh store should be empty")
	s.AddChild(a(0x01), mono.Now())
	testutil.Fatal(t, !s.Empty(), "store with a child should not be empty")
}
