// Package medium is a reference linklayer.Driver: an in-process shared
// broadcast medium used by the mesh package's Scenario A-F tests and
// by cmd/meshnowd's single-process demo mode. It stands in for the
// radio driver spec.md §1 explicitly keeps out of the core's scope.
package medium

import (
	"sync"

	"github.com/derkalaender/meshnow-go/meshaddr"
)

// Medium links any number of Driver instances: every Send is delivered
// to every other attached Driver, exactly like a real broadcast radio
// where addressing is a header field, not a physical filter.
type Medium struct {
	mu      sync.Mutex
	drivers map[meshaddr.Address]*Driver
	// Drop, if set, reports whether a frame from->to should be lost in
	// flight, letting tests simulate lossy links deterministically.
	Drop func(from, to meshaddr.Address) bool
}

func New() *Medium {
	return &Medium{drivers: make(map[meshaddr.Address]*Driver)}
}

func (m *Medium) attach(d *Driver) {
	m.mu.Lock()
	m.drivers[d.self] = d
	m.mu.Unlock()
}

func (m *Medium) detach(addr meshaddr.Address) {
	m.mu.Lock()
	delete(m.drivers, addr)
	m.mu.Unlock()
}

func (m *Medium) broadcast(from meshaddr.Address, senderChannel int, frame []byte, rssi int8) {
	m.mu.Lock()
	peers := make([]*Driver, 0, len(m.drivers))
	for addr, d := range m.drivers {
		if addr == from {
			continue
		}
		peers = append(peers, d)
	}
	drop := m.Drop
	m.mu.Unlock()

	for _, d := range peers {
		if drop != nil && drop(from, d.self) {
			continue
		}
		d.deliver(from, senderChannel, frame, rssi)
	}
}

// Driver is one node's attachment point to a Medium; it implements
// linklayer.Driver.
type Driver struct {
	self   meshaddr.Address
	medium *Medium
	rssi   int8

	mu       sync.Mutex
	recv     func(sender meshaddr.Address, frame []byte, rssi int8)
	sendDone func(peer meshaddr.Address, ok bool)
	channel  int
	peers    map[meshaddr.Address]bool
}

// NewDriver attaches a new Driver for self to m, with a fixed simulated
// RSSI used for every frame this driver originates.
func NewDriver(m *Medium, self meshaddr.Address, rssi int8) *Driver {
	d := &Driver{self: self, medium: m, rssi: rssi, peers: make(map[meshaddr.Address]bool), channel: 1}
	m.attach(d)
	return d
}

func (d *Driver) Detach() { d.medium.detach(d.self) }

func (d *Driver) RegisterRecv(cb func(sender meshaddr.Address, frame []byte, rssi int8)) {
	d.mu.Lock()
	d.recv = cb
	d.mu.Unlock()
}

func (d *Driver) RegisterSendComplete(cb func(peer meshaddr.Address, ok bool)) {
	d.mu.Lock()
	d.sendDone = cb
	d.mu.Unlock()
}

func (d *Driver) Send(peer meshaddr.Address, frame []byte) error {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	d.mu.Lock()
	ch := d.channel
	d.mu.Unlock()
	go func() {
		d.medium.broadcast(d.self, ch, buf, d.rssi)
		d.mu.Lock()
		cb := d.sendDone
		d.mu.Unlock()
		if cb != nil {
			cb(peer, true)
		}
	}()
	return nil
}

func (d *Driver) AddPeer(meshaddr.Address) error { return nil }
func (d *Driver) DelPeer(meshaddr.Address) error { return nil }

func (d *Driver) Channel() int { d.mu.Lock(); defer d.mu.Unlock(); return d.channel }
func (d *Driver) SetChannel(ch int) error {
	d.mu.Lock()
	d.channel = ch
	d.mu.Unlock()
	return nil
}

// deliver only reaches the registered Recv callback if d is currently
// tuned to the sender's channel, the way a real radio would simply
// never hear a frame sent on a different channel (spec.md §4.2: search
// sweeps MinChannel..MaxChannel listening for replies one at a time).
func (d *Driver) deliver(sender meshaddr.Address, senderChannel int, frame []byte, rssi int8) {
	d.mu.Lock()
	cb := d.recv
	onChannel := d.channel == senderChannel
	d.mu.Unlock()
	if cb != nil && onChannel {
		cb(sender, frame, rssi)
	}
}
