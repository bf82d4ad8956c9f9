// Package fragment implements the reassembly table and GC job of
// spec.md §4.12: oversized user datagrams are split by the sender into
// DataFragment packets and reassembled here, keyed by (source,
// fragment-id), with a timeout against entries that never complete.
package fragment

import (
	"github.com/derkalaender/meshnow-go/cmn/mono"
	"github.com/derkalaender/meshnow-go/meshaddr"
	"github.com/derkalaender/meshnow-go/wire"
)

type key struct {
	Src meshaddr.Address
	ID  uint32
}

type entry struct {
	totalSize   uint16
	data        []byte
	mask        uint8 // bit n set = fragment n received
	lastTouched mono.Tick
}

// Table buffers in-flight reassemblies. Like topology.Store, it adds
// no locking of its own — every caller already holds the mesh
// runtime's global lock (spec.md §5: "the Fragment Table [is] owned by
// the runtime; only accessed under lock").
type Table struct {
	entries map[key]*entry
}

func New() *Table {
	return &Table{entries: make(map[key]*entry)}
}

// AddFragment ingests one DataFragment body's payload. It returns the
// complete datagram and ok=true the instant every fragment has arrived
// (or immediately, for the single-fragment short-circuit case).
func (t *Table) AddFragment(src meshaddr.Address, id uint32, num uint8, totalSize uint16, data []byte) ([]byte, bool) {
	if num == 0 && int(totalSize) == len(data) {
		out := make([]byte, len(data))
		copy(out, data)
		return out, true
	}

	k := key{Src: src, ID: id}
	e, ok := t.entries[k]
	if !ok {
		e = &entry{totalSize: totalSize, data: make([]byte, totalSize)}
		t.entries[k] = e
	}

	off := int(num) * wire.MaxFragPayload
	if off >= 0 && off <= len(e.data) {
		copy(e.data[off:], data)
	}
	e.mask |= 1 << num
	e.lastTouched = mono.Now()

	want := uint8(1)<<expectedFragments(int(e.totalSize)) - 1
	if e.mask&want != want {
		return nil, false
	}
	out := e.data
	delete(t.entries, k)
	return out, true
}

func expectedFragments(totalSize int) int {
	n := (totalSize + wire.MaxFragPayload - 1) / wire.MaxFragPayload
	if n == 0 {
		n = 1
	}
	return n
}

// OldestLastTouched reports the least-recently-touched entry's tick,
// used by GCJob to compute its next due time (spec.md §4.12).
func (t *Table) OldestLastTouched() (mono.Tick, bool) {
	var (
		found  bool
		oldest mono.Tick
	)
	for _, e := range t.entries {
		if !found || e.lastTouched.Before(oldest) {
			oldest, found = e.lastTouched, true
		}
	}
	return oldest, found
}

// GC drops every entry for which isStale(lastTouched) reports true.
func (t *Table) GC(isStale func(mono.Tick) bool) {
	for k, e := range t.entries {
		if isStale(e.lastTouched) {
			delete(t.entries, k)
		}
	}
}

// Len reports the number of in-flight reassemblies, exported for the
// metrics package.
func (t *Table) Len() int { return len(t.entries) }
