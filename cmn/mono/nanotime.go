//go:build !mono

package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since the package was loaded.
// Unlike time.Now().UnixNano() it never runs backwards under NTP/wall
// clock adjustments, matching the guarantee the link-layer jobs rely on
// when computing "now - last_seen". The portable default; build with
// -tags mono for fast_nanotime.go's direct runtime.nanotime linkname
// instead.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }
