// Package linkmux implements the Link Multiplexer (spec.md §2 LM): the
// single seam between this node's one physical link-layer driver and
// everyone who wants to use it — the mesh control plane's send worker,
// and any external subscriber (an IP adaptor, a diagnostic sniffer)
// that also needs raw access to the same radio. It decodes every
// inbound frame into a mesh packet for the receive queue, and
// serializes outbound sends so two callers never race the driver's
// half-duplex state.
//
// Grounded on the teacher's transport package, which sits in front of
// a single TCP/HTTP connection and multiplexes multiple logical
// streams over it the same way this type multiplexes logical traffic
// classes over one radio.
package linkmux

import (
	"sync"

	"github.com/derkalaender/meshnow-go/cmn/nlog"
	"github.com/derkalaender/meshnow-go/linklayer"
	"github.com/derkalaender/meshnow-go/meshaddr"
	"github.com/derkalaender/meshnow-go/queue"
	"github.com/derkalaender/meshnow-go/wire"
)

// Inbound pairs a successfully decoded packet with where it came from
// and the link's reported signal strength, as pushed onto the receive
// queue for the job runner to drain (spec.md §2 data flow).
type Inbound struct {
	From   meshaddr.Address
	RSSI   int8
	Packet *wire.Packet
}

// Mux wraps a linklayer.Driver and itself implements linklayer.Driver,
// so the send worker can hold a Mux anywhere it expects a raw driver.
type Mux struct {
	driver linklayer.Driver
	rq     *queue.Queue[*Inbound]

	sendMu sync.Mutex

	subMu       sync.Mutex
	subscribers []linklayer.RecvFunc
}

// New attaches to driver and begins decoding every inbound frame into
// rq. Malformed frames (spec.md §4.1: bad magic, short buffer,
// inconsistent fragment fields) are logged and dropped, never pushed.
func New(driver linklayer.Driver, rq *queue.Queue[*Inbound]) *Mux {
	m := &Mux{driver: driver, rq: rq}
	driver.RegisterRecv(m.onRecv)
	return m
}

func (m *Mux) onRecv(sender meshaddr.Address, frame []byte, rssi int8) {
	if pkt, err := wire.Decode(frame); err != nil {
		nlog.Warningf("linkmux: dropping frame from %s: %v", sender, err)
	} else {
		m.rq.PushBlocking(&Inbound{From: sender, RSSI: rssi, Packet: pkt})
	}

	m.subMu.Lock()
	subs := append([]linklayer.RecvFunc(nil), m.subscribers...)
	m.subMu.Unlock()
	for _, s := range subs {
		s(sender, frame, rssi)
	}
}

// RegisterRecv satisfies linklayer.Driver by adding cb as one more raw
// subscriber; the mesh packet decode path above always runs regardless
// of how many external subscribers are registered.
func (m *Mux) RegisterRecv(cb linklayer.RecvFunc) {
	m.subMu.Lock()
	m.subscribers = append(m.subscribers, cb)
	m.subMu.Unlock()
}

func (m *Mux) RegisterSendComplete(cb linklayer.SendCompleteFunc) {
	m.driver.RegisterSendComplete(cb)
}

// Send serializes every caller's access to the underlying half-duplex
// driver (spec.md §2: LM "serializes sends") — the send worker is the
// only caller in the core, but external subscribers sharing the same
// radio for out-of-band traffic go through here too.
func (m *Mux) Send(peer meshaddr.Address, frame []byte) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	return m.driver.Send(peer, frame)
}

func (m *Mux) AddPeer(peer meshaddr.Address) error { return m.driver.AddPeer(peer) }
func (m *Mux) DelPeer(peer meshaddr.Address) error { return m.driver.DelPeer(peer) }
func (m *Mux) Channel() int                        { return m.driver.Channel() }
func (m *Mux) SetChannel(ch int) error              { return m.driver.SetChannel(ch) }
