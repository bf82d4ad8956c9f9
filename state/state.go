// Package state implements the node lifecycle state machine (spec.md
// §4.3): three states, five legal edges, everything else is a bug.
package state

import (
	"fmt"

	"github.com/derkalaender/meshnow-go/cmn/debug"
)

type State uint8

const (
	DisconnectedFromParent State = iota
	ConnectedToParent
	ReachesRoot
)

func (s State) String() string {
	switch s {
	case DisconnectedFromParent:
		return "DISCONNECTED_FROM_PARENT"
	case ConnectedToParent:
		return "CONNECTED_TO_PARENT"
	case ReachesRoot:
		return "REACHES_ROOT"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// legal holds the five edges named in spec.md §4.3; Machine.Transition
// rejects any transition that is neither in this set nor a no-op by
// returning ok=false and leaving the state unchanged.
var legal = map[[2]State]bool{
	{DisconnectedFromParent, ConnectedToParent}: true,
	{ConnectedToParent, ReachesRoot}:             true,
	{ReachesRoot, ConnectedToParent}:             true,
	{ConnectedToParent, DisconnectedFromParent}:  true,
	{ReachesRoot, DisconnectedFromParent}:        true,
}

// CanTransition reports whether (from, to) is one of the five legal
// edges, or a no-op (from == to).
func CanTransition(from, to State) bool {
	return from == to || legal[[2]State{from, to}]
}

// Machine tracks this node's own lifecycle state plus the root address
// it currently believes is reachable. It is not safe for concurrent
// use on its own: every caller in this repository holds the mesh
// runtime's global lock (spec.md §5) before touching it.
type Machine struct {
	isRoot  bool
	self    [6]byte
	current State
	root    [6]byte
	hasRoot bool
}

func NewMachine(isRoot bool, self [6]byte) *Machine {
	m := &Machine{isRoot: isRoot, self: self}
	if isRoot {
		m.current = ReachesRoot
		m.root, m.hasRoot = self, true
	} else {
		m.current = DisconnectedFromParent
	}
	return m
}

func (m *Machine) Current() State { return m.current }

// RootMAC returns the currently known root address; ok is false until a
// root has been learned (spec.md §3: "REACHES_ROOT implies the node
// knows a root_mac value").
func (m *Machine) RootMAC() (addr [6]byte, ok bool) { return m.root, m.hasRoot }

// Transition moves to `to`, optionally updating the known root address.
// It refuses illegal edges and refuses to ever move the root node out
// of REACHES_ROOT (spec.md §3 invariant 3).
func (m *Machine) Transition(to State, root [6]byte, hasRoot bool) (old State, ok bool) {
	old = m.current
	if m.isRoot {
		debug.Assert(to == ReachesRoot, "root node asked to leave REACHES_ROOT")
		return old, to == ReachesRoot
	}
	if !CanTransition(old, to) {
		return old, false
	}
	m.current = to
	if hasRoot {
		m.root, m.hasRoot = root, true
	} else if to == DisconnectedFromParent {
		m.hasRoot = false
	}
	return old, true
}

// StateChanged is the event fired on the event bus for every successful
// transition (spec.md §3/§4.4).
type StateChanged struct {
	Old, New State
}
