package ebr

import (
	"sync"
	"testing"
)

func TestPinUnpinBasic(t *testing.T) {
	g := Pin()
	if g == nil {
		t.Fatal("Pin returned nil")
	}
	g.Unpin()
	g.Unpin() // idempotent, must not panic or double-decrement
}

func TestAtomicOwnerLoadSwap(t *testing.T) {
	type payload struct{ v int }
	owner := NewAtomicOwner(&payload{v: 1})

	g := Pin()
	got := owner.Load(g)
	if got == nil || got.v != 1 {
		t.Fatalf("Load = %+v, want v=1", got)
	}

	old := owner.Swap(&payload{v: 2})
	if old == nil || old.v != 1 {
		t.Fatalf("Swap returned %+v, want v=1", old)
	}
	g.Unpin()

	g2 := Pin()
	defer g2.Unpin()
	if got := owner.Load(g2); got.v != 2 {
		t.Fatalf("Load after swap = %+v, want v=2", got)
	}
}

func TestRetireRunsAfterQuiescence(t *testing.T) {
	var ran bool
	var mu sync.Mutex

	g := Pin()
	Retire(func() {
		mu.Lock()
		ran = true
		mu.Unlock()
	})
	g.Unpin()

	// Force enough epoch advances for the retired closure's generation to
	// become unreachable; each Pin/Unpin pair with no outstanding guards
	// can advance the epoch by one generation.
	for i := 0; i < generations*4; i++ {
		h := Pin()
		h.Unpin()
	}

	mu.Lock()
	defer mu.Unlock()
	if !ran {
		t.Fatal("retired destructor never ran after quiescence")
	}
}

func TestConcurrentPinUnpin(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				g := Pin()
				g.Unpin()
			}
		}()
	}
	wg.Wait()
}
