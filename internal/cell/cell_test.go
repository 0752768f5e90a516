package cell

import (
	"fmt"
	"sync"
	"testing"

	"github.com/minio/scc/internal/ebr"
)

func partial(h uint64) byte {
	return byte(h & 0xff)
}

func TestInsertAndSearchLockFree(t *testing.T) {
	c := New[string, int](true)
	l := LockExclusive[string, int](c)
	if _, _, ok := l.Insert("a", 1, partial(1)); !ok {
		t.Fatal("insert of new key should succeed")
	}
	l.Unlock()

	g := ebr.Pin()
	defer g.Unpin()
	v, ok := c.Search(g, "a", partial(1))
	if !ok || v != 1 {
		t.Fatalf("Search = %d,%v want 1,true", v, ok)
	}
}

func TestInsertDuplicateReturnsPairBack(t *testing.T) {
	c := New[string, int](false)
	l := LockExclusive[string, int](c)
	defer l.Unlock()

	if _, _, ok := l.Insert("k", 1, partial(1)); !ok {
		t.Fatal("first insert should succeed")
	}
	k, v, ok := l.Insert("k", 2, partial(1))
	if ok {
		t.Fatal("duplicate insert should fail")
	}
	if k != "k" || v != 2 {
		t.Fatalf("duplicate insert should hand back (k,v2), got (%v,%v)", k, v)
	}
}

func TestRemoveMutatingClearsSlot(t *testing.T) {
	c := New[string, int](false)
	l := LockExclusive[string, int](c)
	l.Insert("k", 1, partial(1))
	if !l.Remove("k", partial(1)) {
		t.Fatal("remove of present key should succeed")
	}
	if _, ok := l.Get(nil, "k", partial(1)); ok {
		t.Fatal("removed key should not be found")
	}
	l.Unlock()
}

func TestRemoveLockFreeTombstoneHiddenFromSearch(t *testing.T) {
	c := New[string, int](true)
	l := LockExclusive[string, int](c)
	l.Insert("k", 1, partial(1))
	l.Unlock()

	g := ebr.Pin()
	l2 := LockExclusive[string, int](c)
	l2.Remove("k", partial(1))
	l2.Unlock()

	// A guard pinned before the remove must not see the key via Search,
	// since Search's tag match excludes REMOVED — this asserts the tag
	// policy, not raw memory validity (which EBR alone guarantees).
	if _, ok := c.Search(g, "k", partial(1)); ok {
		t.Fatal("tombstoned key should not match Search")
	}
	g.Unpin()
}

func TestOverflowChainGrowsOnFullCell(t *testing.T) {
	c := New[string, int](false)
	l := LockExclusive[string, int](c)
	defer l.Unlock()

	// Collide every key on the same preferred slot to force overflow.
	for i := 0; i < Width+4; i++ {
		key := fmt.Sprintf("k%d", i)
		if _, _, ok := l.Insert(key, i, 0); !ok {
			t.Fatalf("insert %d should succeed", i)
		}
	}
	if n := l.NumEntries(nil); n != Width+4 {
		t.Fatalf("NumEntries = %d, want %d", n, Width+4)
	}
}

func TestConcurrentLockersMutuallyExclusive(t *testing.T) {
	c := New[int, int](false)
	var wg sync.WaitGroup
	const goroutines = 16
	const perGoroutine = 50
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				l := LockExclusive[int, int](c)
				key := base*perGoroutine + i
				l.Insert(key, key, byte(key))
				l.Unlock()
			}
		}(g)
	}
	wg.Wait()

	l := LockExclusive[int, int](c)
	defer l.Unlock()
	if n := l.NumEntries(nil); n != goroutines*perGoroutine {
		t.Fatalf("NumEntries = %d, want %d", n, goroutines*perGoroutine)
	}
}
