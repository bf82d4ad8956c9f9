// Package linklayer declares the external link-layer driver collaborator
// (spec.md §6): frames addressed by 6-byte hardware identifiers,
// datagrams up to ~250 bytes, no retries, no ordering, no
// authentication, broadcast-capable. The Wi-Fi/ESP-NOW radio driver
// itself is explicitly out of scope (spec.md §1); this package is only
// the seam. The in-process fake used by the mesh package's own tests
// to drive Scenarios A-F without real hardware lives in the
// subpackage linklayer/medium.
package linklayer

import "github.com/derkalaender/meshnow-go/meshaddr"

// RecvFunc is invoked once per inbound frame; rssi is in the driver's
// native units (commonly dBm, negative).
type RecvFunc func(sender meshaddr.Address, frame []byte, rssi int8)

// SendCompleteFunc is invoked exactly once per Send call, success or
// failure (spec.md §6) — the send worker paces itself entirely off
// this signal.
type SendCompleteFunc func(peer meshaddr.Address, ok bool)

// Driver is the interface the link multiplexer consumes. Some radios
// require explicit peer registration before unicast is possible
// (ESP-NOW among them); AddPeer/DelPeer model that without forcing
// drivers that don't need it to do anything.
type Driver interface {
	RegisterRecv(cb RecvFunc)
	RegisterSendComplete(cb SendCompleteFunc)
	Send(peer meshaddr.Address, frame []byte) error
	AddPeer(peer meshaddr.Address) error
	DelPeer(peer meshaddr.Address) error
	// Channel returns the current radio channel, and SetChannel moves
	// to it; used by the connect job's search phase (spec.md §4.8).
	Channel() int
	SetChannel(ch int) error
}
