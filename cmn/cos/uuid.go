// Package cos: random identifier generation. The teacher generates
// alpha-numeric shortids for daemon/bucket identifiers via
// github.com/teris-io/shortid; wire-format identifiers here are raw
// 32-bit integers (spec §4.1's `id` and §3's `fragment_id`), so we
// generate them directly off crypto/rand rather than going through a
// string-oriented ID library.
package cos

import "crypto/rand"

// GenID32 returns a random, non-zero uint32 suitable for a packet `id`
// or DataFragment `frag_id`. Zero is avoided only to keep log lines
// visually distinct from the zero-value; the wire format treats 0 as a
// perfectly ordinary id.
func GenID32() uint32 {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			panic("cos: crypto/rand unavailable: " + err.Error())
		}
		v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		if v != 0 {
			return v
		}
	}
}
