// Package directory implements the cell-array "directory": a power-of-two
// array of cells with an optional owning reference to a predecessor array
// undergoing gradual migration, plus the cooperative rehash protocol that
// drains that predecessor a few cells at a time.
//
// Grounded on internal/cache/cache_engine_v3.go's shards []*V3CacheShard
// / shardMask sharding — extended here with the predecessor-array
// migration the teacher's cache never needed because it never resizes —
// and on original_source/src/hash_table.rs's CellArray usage
// (calculate_cell_index, partial_rehash, kill_cell).
package directory

import (
	"math/bits"
	"sync/atomic"

	"github.com/minio/scc/internal/cell"
	"github.com/minio/scc/internal/ebr"
)

// rehashChunk bounds how many predecessor cells a single partialRehash
// call drains, so no single mutating operation stalls migrating the
// whole table (spec.md §4.4's amortization rationale).
const rehashChunk = 8

// Array is one generation of the cell directory.
type Array[K comparable, V any] struct {
	cells    []*cell.Cell[K, V]
	numCells int
	shift    uint // calculateCellIndex uses hash >> shift
	lockFree bool

	old      ebr.AtomicOwner[Array[K, V]]
	migrated atomic.Int64 // next predecessor cell index to drain
}

// New builds a directory with numCells cells (rounded up to a power of
// two), attaching old as its predecessor if non-nil.
func New[K comparable, V any](numCells int, old *Array[K, V], lockFree bool) *Array[K, V] {
	n := nextPow2(numCells)
	if n < 2 {
		n = 2
	}
	a := &Array[K, V]{
		cells:    make([]*cell.Cell[K, V], n),
		numCells: n,
		shift:    uint(64 - bits.Len(uint(n-1))),
		lockFree: lockFree,
	}
	for i := range a.cells {
		a.cells[i] = cell.New[K, V](lockFree)
	}
	if old != nil {
		a.old.Swap(old)
	}
	return a
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// NumCells returns the directory's cell count (a power of two).
func (a *Array[K, V]) NumCells() int { return a.numCells }

// NumEntries returns the logical capacity (numCells * cell.Width).
func (a *Array[K, V]) NumEntries() int { return a.numCells * cell.Width }

// Cell returns cell i.
func (a *Array[K, V]) Cell(i int) *cell.Cell[K, V] { return a.cells[i] }

// CalculateCellIndex uses the high-order bits of hash, keeping it
// uncorrelated with the low-8-bit partial hash packed into slot tags —
// the Open Question in spec.md §9 resolved in favor of high bits.
func (a *Array[K, V]) CalculateCellIndex(hash uint64) int {
	return int(hash >> a.shift)
}

// SampleSize is log2(numCells) clamped to [2, 4096], used by the table's
// per-operation load estimate (spec.md §4.4).
func (a *Array[K, V]) SampleSize() int {
	s := bits.Len(uint(a.numCells)) - 1
	if s < 2 {
		return 2
	}
	if s > 4096 {
		return 4096
	}
	return s
}

// OldArray returns the predecessor directory, or nil if this directory
// is steady (fully migrated, or never grew from one).
func (a *Array[K, V]) OldArray(g *ebr.Guard) *Array[K, V] {
	return a.old.Load(g)
}

// PartialRehash drains a bounded chunk of the predecessor directory's
// cells into this one. Returns true once the predecessor has been fully
// drained and detached (old becomes nil) as a result of this call.
// onChunk, if non-nil, is called after this goroutine's own chunk has
// finished draining, with the number of cells it drained and the number
// still outstanding (0 exactly when this call also retired old).
//
// Chunks claimed by different goroutines can finish in any order, so
// neither the goroutine that claimed the final chunk nor one that merely
// observes migrated at old.numCells can tell from the cursor alone that
// every claimed chunk is done. finishRehash therefore retires old only
// once every predecessor cell is killed — retiring earlier would let
// readers/writers stop checking a predecessor that still holds live,
// un-killed entries. Both kinds of caller try it; the CAS on old makes
// the retirement happen exactly once.
func (a *Array[K, V]) PartialRehash(
	hash func(K) (uint64, byte),
	copier func(K, V) (K, V, bool),
	g *ebr.Guard,
	onChunk func(drained, remaining int),
) bool {
	old := a.old.Load(g)
	if old == nil {
		return false
	}

	start := a.migrated.Load()
	if start >= int64(old.numCells) {
		// Every chunk has been claimed; retire old if they have all been
		// drained by now.
		return a.finishRehash(old)
	}

	end := start + rehashChunk
	if end > int64(old.numCells) {
		end = int64(old.numCells)
	}
	// CAS-advance the shared cursor so concurrent helpers partition the
	// work instead of redoing it.
	if !a.migrated.CompareAndSwap(start, end) {
		return false
	}

	for i := start; i < end; i++ {
		a.migrateCell(old, int(i), hash, copier)
	}

	remaining := int(int64(old.numCells) - end)
	if onChunk != nil {
		onChunk(int(end-start), remaining)
	}

	if remaining == 0 {
		return a.finishRehash(old)
	}
	return false
}

func (a *Array[K, V]) finishRehash(old *Array[K, V]) bool {
	for i := 0; i < old.numCells; i++ {
		if !old.Cell(i).Killed(nil) {
			// A claimed chunk is still being drained.
			return false
		}
	}
	if a.old.CompareAndSwap(old, nil) {
		ebr.Retire(func() { _ = old })
		return true
	}
	return false
}

// migrateCell runs the migration algorithm of spec.md §4.4 for a single
// predecessor cell: lock it, move every live entry into the appropriate
// cell(s) of the current (receiver) directory, then kill it.
func (a *Array[K, V]) migrateCell(
	old *Array[K, V],
	i int,
	hash func(K) (uint64, byte),
	copier func(K, V) (K, V, bool),
) {
	oldLocker := cell.LockExclusive(old.Cell(i))
	defer oldLocker.Unlock()

	if old.Cell(i).Killed(nil) {
		return
	}

	oldLocker.ForEach(func(k K, v V) {
		mk, mv := k, v
		if copier != nil {
			if ck, cv, ok := copier(k, v); ok {
				mk, mv = ck, cv
			}
		}
		h, p := hash(mk)
		target := a.Cell(a.CalculateCellIndex(h))
		locker := cell.LockExclusive(target)
		locker.Insert(mk, mv, p)
		locker.Unlock()
	})

	oldLocker.Kill()
}

// KillCell exposes the single-cell migration step directly for a caller
// (the table's acquire() path) that has already located and locked the
// predecessor cell itself while looking up a key, matching
// original_source/src/hash_table.rs's acquire()'s inline
// current_array_ref.kill_cell(...) call.
func (a *Array[K, V]) KillCell(
	oldLocker *cell.Locker[K, V],
	old *Array[K, V],
	i int,
	hash func(K) (uint64, byte),
	copier func(K, V) (K, V, bool),
) {
	oldLocker.ForEach(func(k K, v V) {
		mk, mv := k, v
		if copier != nil {
			if ck, cv, ok := copier(k, v); ok {
				mk, mv = ck, cv
			}
		}
		h, p := hash(mk)
		target := a.Cell(a.CalculateCellIndex(h))
		locker := cell.LockExclusive(target)
		locker.Insert(mk, mv, p)
		locker.Unlock()
	})
	oldLocker.Kill()
}
