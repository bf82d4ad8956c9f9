// Package ipadaptor declares the IP-stack collaborator (spec.md §6): a
// virtual network interface is explicitly out of scope for the core
// (spec.md §1, "the IP stack adaptor" is an external collaborator), so
// this package is the seam plus a reference implementation with no
// real TUN device — it only does the fragmentation plumbing, storing
// what it receives for tests and callers to inspect.
package ipadaptor

import "sync"

// Adaptor is consumed by mesh.Runtime: Receive is called once per
// successfully reassembled datagram (spec.md §4.12's "emitted
// completed datagrams are handed to the IP-stack adaptor").
type Adaptor interface {
	Receive(data []byte)
}

// Transmitter is implemented by mesh.Runtime and consumed by an
// Adaptor: Transmit hands the core a up-to-1500-byte datagram whose
// first 6 bytes are the destination mesh address (spec.md §6); the
// core fragments and routes it.
type Transmitter interface {
	Transmit(data []byte) error
}

// Loopback is a TUN-less reference Adaptor: every reassembled datagram
// is appended to an in-memory log rather than written to a real
// network interface, letting tests assert on what the mesh delivered
// without a kernel-level device.
type Loopback struct {
	mu       sync.Mutex
	received [][]byte
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) Receive(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	l.mu.Lock()
	l.received = append(l.received, cp)
	l.mu.Unlock()
}

// Received returns a fresh copy of every datagram handed to Receive so
// far, in order; callers may modify the result freely.
func (l *Loopback) Received() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.received))
	for i, d := range l.received {
		out[i] = append([]byte(nil), d...)
	}
	return out
}
