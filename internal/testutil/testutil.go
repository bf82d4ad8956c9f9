// Package testutil is a small adapted tools/tassert-style assertion
// helper: plain testing.T wrappers, no BDD harness. aistore reaches for
// ginkgo/gomega only in its larger integration suites; unit-level
// wire/state-machine tests like this module's use tassert's shape
// instead, so that's what's reproduced here.
package testutil

import (
	"testing"
	"time"
)

// Fatal fails the test immediately if cond is false.
func Fatal(t testing.TB, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// Errorf records a failure but lets the test continue, for checks
// where later assertions still carry useful information.
func Errorf(t testing.TB, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Errorf(format, args...)
	}
}

// MustOK fails the test immediately on a non-nil error.
func MustOK(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// MustErr fails the test immediately when err is nil.
func MustErr(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error, got nil")
	}
}

// Eventually polls cond every tick until it returns true or timeout
// elapses, for asserting on state a background goroutine (job runner,
// send worker) reaches asynchronously instead of sleeping a fixed
// amount and hoping.
func Eventually(t testing.TB, timeout, tick time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", msg)
		}
		time.Sleep(tick)
	}
}
