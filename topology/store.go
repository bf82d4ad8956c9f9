// Package topology implements the Topology Store (spec.md §4.2): the
// process-wide record of this node's parent, direct children, and each
// child's transitive routing table, plus next-hop resolution.
//
// Every exported method assumes the caller already holds the mesh
// runtime's global lock (spec.md §5); Store itself adds no locking of
// its own, the same division of responsibility the teacher's
// core/meta value objects use relative to their owning cluster.Bowner.
package topology

import (
	"github.com/derkalaender/meshnow-go/cmn/debug"
	"github.com/derkalaender/meshnow-go/cmn/mono"
	"github.com/derkalaender/meshnow-go/meshaddr"
)

const DefaultMaxChildren = 10

// Neighbor is a directly-connected node: parent or child.
type Neighbor struct {
	Address  meshaddr.Address
	LastSeen mono.Tick
}

// Child is a Neighbor plus the addresses reachable through its subtree,
// in discovery order (spec.md §3).
type Child struct {
	Neighbor
	RoutingTable []meshaddr.Address
}

func (c *Child) has(addr meshaddr.Address) bool {
	if c.Address == addr {
		return true
	}
	for _, a := range c.RoutingTable {
		if a == addr {
			return true
		}
	}
	return false
}

// Store is the singleton topology record for this node.
type Store struct {
	self        meshaddr.Address
	isRoot      bool
	maxChildren int

	parent   *Neighbor
	children []*Child
}

func New(self meshaddr.Address, isRoot bool, maxChildren int) *Store {
	if maxChildren <= 0 {
		maxChildren = DefaultMaxChildren
	}
	return &Store{self: self, isRoot: isRoot, maxChildren: maxChildren}
}

func (s *Store) Self() meshaddr.Address { return s.self }
func (s *Store) IsRoot() bool           { return s.isRoot }
func (s *Store) MaxChildren() int       { return s.maxChildren }

func (s *Store) Parent() (Neighbor, bool) {
	if s.parent == nil {
		return Neighbor{}, false
	}
	return *s.parent, true
}

func (s *Store) HasParent() bool { return s.parent != nil }

func (s *Store) NumChildren() int { return len(s.children) }

// Children returns a defensive copy of the direct-child list, in
// discovery order.
func (s *Store) Children() []Child {
	out := make([]Child, len(s.children))
	for i, c := range s.children {
		out[i] = *c
	}
	return out
}

// SetParent installs addr as the parent (spec.md §3: at most one).
func (s *Store) SetParent(addr meshaddr.Address, now mono.Tick) {
	debug.Assert(addr != s.self, "node set as its own parent")
	debug.Assert(!s.isRoot, "root node given a parent")
	s.parent = &Neighbor{Address: addr, LastSeen: now}
}

// RemoveParent clears the parent.
func (s *Store) RemoveParent() { s.parent = nil }

// TouchParent bumps the parent's last_seen if addr matches the current
// parent; no-op otherwise.
func (s *Store) TouchParent(addr meshaddr.Address, now mono.Tick) bool {
	if s.parent != nil && s.parent.Address == addr {
		s.parent.LastSeen = now
		return true
	}
	return false
}

// AddChild is a no-op if addr is already a child or the table is full
// (spec.md §4.2).
func (s *Store) AddChild(addr meshaddr.Address, now mono.Tick) bool {
	for _, c := range s.children {
		if c.Address == addr {
			return false
		}
	}
	if len(s.children) >= s.maxChildren {
		return false
	}
	s.children = append(s.children, &Child{Neighbor: Neighbor{Address: addr, LastSeen: now}})
	return true
}

// RemoveChild drops addr and its entire routing table.
func (s *Store) RemoveChild(addr meshaddr.Address) bool {
	for i, c := range s.children {
		if c.Address == addr {
			s.children = append(s.children[:i], s.children[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) childOf(addr meshaddr.Address) *Child {
	for _, c := range s.children {
		if c.Address == addr {
			return c
		}
	}
	return nil
}

// TouchChild bumps a direct child's last_seen.
func (s *Store) TouchChild(addr meshaddr.Address, now mono.Tick) bool {
	if c := s.childOf(addr); c != nil {
		c.LastSeen = now
		return true
	}
	return false
}

// FindChildFor returns the direct child whose subtree contains remote:
// remote is itself a child, or appears in that child's routing table.
func (s *Store) FindChildFor(remote meshaddr.Address) (meshaddr.Address, bool) {
	for _, c := range s.children {
		if c.has(remote) {
			return c.Address, true
		}
	}
	return meshaddr.Address{}, false
}

// AddRoutingEntry appends remote to directChild's routing table if
// absent. Returns false if directChild is not a known direct child.
func (s *Store) AddRoutingEntry(directChild, remote meshaddr.Address) bool {
	c := s.childOf(directChild)
	if c == nil {
		return false
	}
	for _, a := range c.RoutingTable {
		if a == remote {
			return true
		}
	}
	c.RoutingTable = append(c.RoutingTable, remote)
	return true
}

// RemoveRoutingEntry removes remote from directChild's routing table.
func (s *Store) RemoveRoutingEntry(directChild, remote meshaddr.Address) bool {
	c := s.childOf(directChild)
	if c == nil {
		return false
	}
	for i, a := range c.RoutingTable {
		if a == remote {
			c.RoutingTable = append(c.RoutingTable[:i], c.RoutingTable[i+1:]...)
			return true
		}
	}
	return false
}

// Has reports whether addr is the parent, a child, or in any child's
// routing table (spec.md §4.2).
func (s *Store) Has(addr meshaddr.Address) bool {
	if s.parent != nil && s.parent.Address == addr {
		return true
	}
	for _, c := range s.children {
		if c.has(addr) {
			return true
		}
	}
	return false
}

// Resolve implements the next-hop policy of spec.md §4.2.
func (s *Store) Resolve(dest meshaddr.Address) (meshaddr.Address, bool) {
	switch {
	case dest == s.self, dest.IsBroadcast():
		return dest, true
	case dest.IsRootSentinel():
		if s.isRoot {
			return s.self, true
		}
		if s.parent != nil {
			return s.parent.Address, true
		}
		return meshaddr.Address{}, false
	case s.parent != nil && dest == s.parent.Address:
		return s.parent.Address, true
	}
	if hop, ok := s.FindChildFor(dest); ok {
		return hop, true
	}
	if s.parent != nil {
		return s.parent.Address, true
	}
	return meshaddr.Address{}, false
}

// AllNeighbors returns parent (if any) followed by every direct child,
// the iteration order NeighborsOnce and FullyResolve's broadcast case
// use (spec.md §4.7).
func (s *Store) AllNeighbors() []meshaddr.Address {
	out := make([]meshaddr.Address, 0, len(s.children)+1)
	if s.parent != nil {
		out = append(out, s.parent.Address)
	}
	for _, c := range s.children {
		out = append(out, c.Address)
	}
	return out
}

// OldestLastSeen returns the smallest LastSeen across parent+children,
// used by the neighbor-check job to compute its next due time
// (spec.md §4.10).
func (s *Store) OldestLastSeen() (mono.Tick, bool) {
	var (
		found bool
		oldest mono.Tick
	)
	consider := func(t mono.Tick) {
		if !found || t.Before(oldest) {
			oldest, found = t, true
		}
	}
	if s.parent != nil {
		consider(s.parent.LastSeen)
	}
	for _, c := range s.children {
		consider(c.LastSeen)
	}
	return oldest, found
}

// ExpiredNeighbors returns the addresses of every neighbor (parent or
// child) whose last_seen is older than timeout, as of now.
func (s *Store) ExpiredNeighbors(now mono.Tick, timeout func(mono.Tick) mono.Tick) []meshaddr.Address {
	var out []meshaddr.Address
	if s.parent != nil && timeout(s.parent.LastSeen).Before(now) {
		out = append(out, s.parent.Address)
	}
	for _, c := range s.children {
		if timeout(c.LastSeen).Before(now) {
			out = append(out, c.Address)
		}
	}
	return out
}

// Empty reports whether this node has neither a parent nor children —
// the Status-Send Job (spec.md §4.9) only beacons once that ceases.
func (s *Store) Empty() bool { return s.parent == nil && len(s.children) == 0 }
