package state

import (
	"sync"
	"testing"
	"time"

	"github.com/derkalaender/meshnow-go/evbus"
	"github.com/derkalaender/meshnow-go/internal/testutil"
)

func TestApplyPublishesOnlyOnActualChange(t *testing.T) {
	var lock sync.Mutex
	bus := evbus.New(&lock)
	go bus.Run()
	defer bus.Stop()

	var mu sync.Mutex
	var seen []StateChanged
	bus.Subscribe(evbus.InternalBase, evbus.EvStateChanged, func(ev evbus.Event) {
		mu.Lock()
		seen = append(seen, ev.Data.(StateChanged))
		mu.Unlock()
	}, nil)

	m := NewMachine(false, [6]byte{0x01})

	_, ok := Apply(m, bus, ConnectedToParent, [6]byte{}, false)
	testutil.Fatal(t, ok, "expected transition to succeed")

	testutil.Eventually(t, time.Second, time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, "StateChanged should be published once")

	// a no-op "transition" to the same state must not publish again.
	_, ok = Apply(m, bus, ConnectedToParent, [6]byte{}, false)
	testutil.Fatal(t, ok, "no-op transition should still report ok")

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	count := len(seen)
	mu.Unlock()
	testutil.Fatal(t, count == 1, "no-op transition must not publish a second event, got %d", count)

	mu.Lock()
	testutil.Fatal(t, seen[0].Old == DisconnectedFromParent && seen[0].New == ConnectedToParent, "unexpected event payload: %+v", seen[0])
	mu.Unlock()
}
