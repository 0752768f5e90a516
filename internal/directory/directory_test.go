package directory

import (
	"hash/fnv"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/minio/scc/internal/cell"
	"github.com/minio/scc/internal/ebr"
)

func hashKey(k string) (uint64, byte) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(k))
	sum := h.Sum64()
	return sum, byte(sum & 0xff)
}

func TestNewRoundsUpToPowerOfTwo(t *testing.T) {
	a := New[string, int](10, nil, false)
	if a.NumCells() != 16 {
		t.Fatalf("NumCells = %d, want 16", a.NumCells())
	}
}

func TestCalculateCellIndexUsesHighBits(t *testing.T) {
	a := New[string, int](16, nil, false)
	hi := uint64(0xF) << 60 // top 4 bits = 0xF, low bits = 0
	if idx := a.CalculateCellIndex(hi); idx != 15 {
		t.Fatalf("CalculateCellIndex(top nibble 0xF) = %d, want 15", idx)
	}
}

func TestPartialRehashDrainsPredecessor(t *testing.T) {
	old := New[string, int](2, nil, false)
	g := ebr.Pin()
	defer g.Unpin()

	for i := 0; i < 20; i++ {
		key := string(rune('a' + i))
		h, p := hashKey(key)
		idx := old.CalculateCellIndex(h)
		l := cell.LockExclusive(old.Cell(idx))
		l.Insert(key, i, p)
		l.Unlock()
	}

	current := New[string, int](4, old, false)

	var done bool
	for i := 0; i < 10 && !done; i++ {
		done = current.PartialRehash(hashKey, nil, g, nil)
	}
	if !done {
		t.Fatal("predecessor was not fully drained within bound")
	}
	if current.OldArray(g) != nil {
		t.Fatal("predecessor pointer should be nil after full drain")
	}

	// Every migrated key should now be reachable in current via its cell.
	var got []string
	for i := 0; i < 20; i++ {
		key := string(rune('a' + i))
		h, p := hashKey(key)
		idx := current.CalculateCellIndex(h)
		l := cell.LockExclusive(current.Cell(idx))
		v, ok := l.Get(g, key, p)
		l.Unlock()
		if !ok || v != i {
			t.Fatalf("key %q missing or wrong after migration: v=%d ok=%v", key, v, ok)
		}
		got = append(got, key)
	}

	var want []string
	for i := 0; i < 20; i++ {
		want = append(want, string(rune('a'+i)))
	}
	sort.Strings(got)
	sort.Strings(want)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("migrated key set mismatch (-want +got):\n%s", diff)
	}
}
