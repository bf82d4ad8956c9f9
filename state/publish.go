package state

import "github.com/derkalaender/meshnow-go/evbus"

// Apply transitions m and, on any actual state change, publishes
// StateChanged on bus (spec.md §4.3: "On any state change, a
// StateChanged{old,new} event is fired on EB"). Centralized here so
// every call site — the connect job, the keep-alive jobs, the packet
// handler — can't forget to publish.
func Apply(m *Machine, bus *evbus.Bus, to State, root [6]byte, hasRoot bool) (old State, ok bool) {
	old, ok = m.Transition(to, root, hasRoot)
	if ok && old != to {
		bus.Publish(evbus.Event{
			Base: evbus.InternalBase,
			ID:   evbus.EvStateChanged,
			Data: StateChanged{Old: old, New: to},
		})
	}
	return old, ok
}
