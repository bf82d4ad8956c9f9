// Package mono provides a single monotonic clock source for the mesh
// control plane: every timeout, interval, and "last_seen" bookkeeping
// value in this repository is expressed as a mono.Tick. NanoTime itself
// is supplied by one of two build-tag-selected files (nanotime.go's
// portable time.Since default, or fast_nanotime.go's linkname into the
// runtime's own monotonic counter, adapted from the teacher's
// cmn/mono) — everything here is common to both.
package mono

import "time"

// Tick is mono.NanoTime truncated to whole milliseconds. Jobs schedule
// and compare ticks rather than raw nanoseconds so that test fakes can
// deal in small integers.
type Tick int64

func Now() Tick { return Tick(NanoTime() / int64(time.Millisecond)) }

func (t Tick) Add(d time.Duration) Tick { return t + Tick(d.Milliseconds()) }
func (t Tick) Sub(o Tick) time.Duration { return time.Duration(t-o) * time.Millisecond }
func (t Tick) Before(o Tick) bool       { return t < o }
func (t Tick) After(o Tick) bool        { return t > o }
