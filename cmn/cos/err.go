// Package cos provides the error taxonomy (spec §7) and small
// low-level helpers shared across the mesh control plane.
package cos

import (
	"fmt"
	"sync"
)

type (
	// ErrInvalidFrame is returned by wire.Decode for any malformed
	// input: short buffer, bad magic, unknown tag, malformed body. The
	// link multiplexer logs and drops such inbound frames. It is also
	// returned to callers of mesh.Runtime.Send/Transmit for a payload
	// too large to frame.
	ErrInvalidFrame struct{ why string }

	// ErrInvalidState is returned to API callers on misuse: sending
	// while stopped, double-init, etc.
	ErrInvalidState struct{ why string }
)

func NewErrInvalidFrame(format string, a ...any) *ErrInvalidFrame {
	return &ErrInvalidFrame{fmt.Sprintf(format, a...)}
}
func (e *ErrInvalidFrame) Error() string { return "invalid frame: " + e.why }

func NewErrInvalidState(format string, a ...any) *ErrInvalidState {
	return &ErrInvalidState{fmt.Sprintf(format, a...)}
}
func (e *ErrInvalidState) Error() string { return "invalid state: " + e.why }

// Errs accumulates up to a bounded number of distinct errors, same
// shape as the teacher's cmn/cos.Errs: config.Config.Validate collects
// every violated constraint into one so all failures are reported
// rather than only the first.
type Errs struct {
	mu   sync.Mutex
	errs []error
}

const maxErrs = 4

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, have := range e.errs {
		if have.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

func (e *Errs) Cnt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

func (e *Errs) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return ""
	}
	if len(e.errs) == 1 {
		return e.errs[0].Error()
	}
	return fmt.Sprintf("%v (and %d more error(s))", e.errs[0], len(e.errs)-1)
}
