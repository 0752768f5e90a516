// Package hashtable is the orchestrator component of spec.md: hashing,
// directory lookup, the acquire/read/insert/remove paths, load-factor
// sampling, and the resize state machine. It is the collaborator
// boundary described in spec.md §6 — HashMap and HashIndex (hashmap.go,
// hashindex.go) are thin flavor constructors over the single Table type
// here, not separate front-end container APIs.
//
// Grounded on original_source/src/hash_table.rs's HashTable trait
// (hash, read_entry, acquire, try_enlarge, try_shrink, resize) and, for
// the ambient sharded-manager shape, internal/cache/cache_engine_v3.go's
// V3CacheManager.
package hashtable

import (
	"sync/atomic"

	"github.com/minio/scc/internal/cell"
	"github.com/minio/scc/internal/directory"
	"github.com/minio/scc/internal/ebr"
)

// Copier clones a (key, value) pair during migration. The lock-free
// flavor uses this to avoid observing a pair via a stale pointer; the
// mutating flavor passes nil (entries may simply move, matching
// spec.md §6's "for the mutating flavor the copier is unused").
type Copier[K any, V any] func(K, V) (K, V, bool)

// Config configures a Table. Zero-value fields fall back to defaults,
// the same convention cache.V3CacheConfig uses in NewV3CacheManager.
type Config struct {
	// MinimumCapacity is the smallest number of entries the directory
	// will shrink to. Must be non-zero after defaulting; spec.md
	// disallows capacity 0 (minimum capacity >= 2 cells).
	MinimumCapacity int
	// InitialCapacity seeds the first directory's entry capacity.
	InitialCapacity int
}

func (c *Config) withDefaults() Config {
	out := Config{MinimumCapacity: c.MinimumCapacity, InitialCapacity: c.InitialCapacity}
	if out.MinimumCapacity <= 0 {
		out.MinimumCapacity = 2 * cell.Width
	}
	if out.InitialCapacity < out.MinimumCapacity {
		out.InitialCapacity = out.MinimumCapacity
	}
	return out
}

const (
	resizeIdle        = 0
	resizeActive      = 1
	resizeActiveRetry = 2
)

// Table is the shared hashing core behind both HashMap and HashIndex.
// lockFree selects the flavor's cell and read-path policy.
type Table[K comparable, V any] struct {
	array       ebr.AtomicOwner[directory.Array[K, V]]
	hasher      func(K) uint64
	copier      Copier[K, V]
	lockFree    bool
	minCapacity int
	resizeState atomic.Uint32
	onResize    func(beforeCells, afterCells int)
	onMigrate   func(drained, remaining int)
}

// SetResizeObserver registers fn to be called synchronously after each
// resize cycle that actually installs a new directory, with the cell
// counts of the old and new generation. Intended for an ambient caller
// (cmd/scctool's workload driver) to bridge into internal/tracing without
// the core engine itself depending on a tracing context. Passing nil
// clears the observer.
func (t *Table[K, V]) SetResizeObserver(fn func(beforeCells, afterCells int)) {
	t.onResize = fn
}

// SetMigrationObserver registers fn to be called synchronously after each
// bounded chunk of predecessor cells a PartialRehash call drains, with
// the number of cells that call drained and the number still
// outstanding (0 once the predecessor is fully retired). Same ambient-
// bridge rationale as SetResizeObserver. Passing nil clears the observer.
func (t *Table[K, V]) SetMigrationObserver(fn func(drained, remaining int)) {
	t.onMigrate = fn
}

func newTable[K comparable, V any](hasher func(K) uint64, copier Copier[K, V], lockFree bool, cfg Config) *Table[K, V] {
	cfg = cfg.withDefaults()
	t := &Table[K, V]{
		hasher:      hasher,
		copier:      copier,
		lockFree:    lockFree,
		minCapacity: cfg.MinimumCapacity,
	}
	numCells := ceilDiv(cfg.InitialCapacity, cell.Width)
	t.array.Swap(directory.New[K, V](numCells, nil, lockFree))
	return t
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 1
	}
	return (a + b - 1) / b
}

// hash returns the full 64-bit hash and its packed 8-bit partial hash
// (the low 8 bits of the full hash), per spec.md §4.5.
func (t *Table[K, V]) hash(key K) (uint64, byte) {
	h := t.hasher(key)
	return h, byte(h & 0xff)
}

// MinimumCapacity returns the smallest entry capacity the table shrinks
// to.
func (t *Table[K, V]) MinimumCapacity() int { return t.minCapacity }

// NumEntries sums occupied slots across the current directory and, if
// present, its still-draining predecessor. Approximate under concurrent
// mutation (spec.md's Non-goal on strict size bounds).
func (t *Table[K, V]) NumEntries(g *ebr.Guard) int {
	cur := t.array.Load(g)
	n := 0
	for i := 0; i < cur.NumCells(); i++ {
		n += cur.Cell(i).NumEntries(g)
	}
	if old := cur.OldArray(g); old != nil {
		for i := 0; i < old.NumCells(); i++ {
			n += old.Cell(i).NumEntries(g)
		}
	}
	return n
}

// NumSlots returns the current directory's logical capacity.
func (t *Table[K, V]) NumSlots(g *ebr.Guard) int {
	return t.array.Load(g).NumEntries()
}

// estimate extrapolates total entries from a sample of numCellsToSample
// contiguous cells starting at cell 0, per spec.md §4.4/§4.5.
func estimate[K comparable, V any](a *directory.Array[K, V], g *ebr.Guard, numCellsToSample int) int {
	n := 0
	for i := 0; i < numCellsToSample; i++ {
		n += a.Cell(i).NumEntries(g)
	}
	return n * (a.NumCells() / numCellsToSample)
}

// Read traverses the predecessor directory (if any) first, then the
// current one, restarting once if the directory pointer changes mid
// traversal. Lock-free tables use Cell.Search directly; the mutating
// flavor takes the cell's exclusive lock for the duration of the lookup
// (this core has no separate shared-reader lock type — see DESIGN.md).
func Read[K comparable, V any, R any](t *Table[K, V], key K, fn func(K, V) R, g *ebr.Guard) (R, bool) {
	var zero R
	h, p := t.hash(key)

	cur := t.array.Load(g)
	for cur != nil {
		if old := cur.OldArray(g); old != nil {
			if cur.PartialRehash(t.hash, t.copier, g, t.onMigrate) {
				cur = t.array.Load(g)
				continue
			}
			if v, ok := t.lookupCell(old, old.CalculateCellIndex(h), key, p, g); ok {
				return fn(key, v), true
			}
		}
		if v, ok := t.lookupCell(cur, cur.CalculateCellIndex(h), key, p, g); ok {
			return fn(key, v), true
		}
		next := t.array.Load(g)
		if next == cur {
			break
		}
		cur = next
	}
	return zero, false
}

func (t *Table[K, V]) lookupCell(a *directory.Array[K, V], idx int, key K, partial byte, g *ebr.Guard) (V, bool) {
	c := a.Cell(idx)
	if t.lockFree {
		return c.Search(g, key, partial)
	}
	l := cell.LockExclusive(c)
	defer l.Unlock()
	return l.Get(g, key, partial)
}

// acquireResult is what acquire hands back: the cell index, a held
// locker for that cell, and whether the key was already present (with
// its current value, for callers that need it).
type acquireResult[K comparable, V any] struct {
	index  int
	locker *cell.Locker[K, V]
	value  V
	found  bool
}

// acquire is the unified mutating entry point of spec.md §4.5: helps
// migrate, checks the predecessor, samples load factor, triggers resize,
// and finally locks the current cell — returning either the existing
// entry (found=true, caller must not insert) or a ready-to-insert locker.
func (t *Table[K, V]) acquire(key K, hash uint64, partial byte, g *ebr.Guard) acquireResult[K, V] {
	checkResize := true
	for {
		cur := t.array.Load(g)
		if old := cur.OldArray(g); old != nil {
			if cur.PartialRehash(t.hash, t.copier, g, t.onMigrate) {
				continue
			}
			checkResize = false
			oldIdx := old.CalculateCellIndex(hash)
			oldLocker := cell.LockExclusive(old.Cell(oldIdx))
			if v, ok := oldLocker.Get(g, key, partial); ok {
				return acquireResult[K, V]{index: oldIdx, locker: oldLocker, value: v, found: true}
			}
			cur.KillCell(oldLocker, old, oldIdx, t.hash, t.copier)
			oldLocker.Unlock()
		}

		idx := cur.CalculateCellIndex(hash)
		target := cur.Cell(idx)
		numEntries := target.NumEntries(g)
		if checkResize && numEntries >= cell.Width {
			checkResize = false
			t.tryEnlarge(cur, idx, numEntries, g)
			continue
		}

		locker := cell.LockExclusive(target)
		if target.Killed(g) {
			// cur became a predecessor and this cell was migrated away
			// while we waited for its lock: start over.
			locker.Unlock()
			continue
		}
		if v, ok := locker.Get(g, key, partial); ok {
			return acquireResult[K, V]{index: idx, locker: locker, value: v, found: true}
		}
		return acquireResult[K, V]{index: idx, locker: locker, found: false}
	}
}

// Insert inserts (key, value). ok is false on a duplicate key, in which
// case key/value are handed back unchanged so the caller can decide
// whether to update, drop, or retry without forcing an allocation.
func Insert[K comparable, V any](t *Table[K, V], key K, value V) (K, V, bool) {
	g := ebr.Pin()
	defer g.Unpin()

	h, p := t.hash(key)
	res := t.acquire(key, h, p, g)
	defer res.locker.Unlock()
	if res.found {
		return key, value, false
	}
	return res.locker.Insert(key, value, p)
}

// RemoveIf removes key if present and pred(value) holds, returning
// whether a removal happened. A successful removal probes for a shrink.
func RemoveIf[K comparable, V any](t *Table[K, V], key K, pred func(V) bool) bool {
	g := ebr.Pin()
	defer g.Unpin()

	h, p := t.hash(key)
	res := t.acquire(key, h, p, g)
	defer res.locker.Unlock()

	if !res.found || !pred(res.value) {
		return false
	}
	res.locker.Remove(key, p)

	cur := t.array.Load(g)
	t.tryShrink(cur, res.index, g)
	return true
}

// tryEnlarge samples sampleSize contiguous cells starting at cellIndex
// and triggers a resize if the extrapolated load exceeds 7/8, per
// spec.md §4.5.
func (t *Table[K, V]) tryEnlarge(a *directory.Array[K, V], cellIndex, numEntries int, g *ebr.Guard) {
	sampleSize := a.SampleSize()
	arraySize := a.NumCells()
	threshold := sampleSize * (cell.Width / 8) * 7
	if numEntries > threshold {
		t.resize(g)
		return
	}
	for i := 1; i < sampleSize; i++ {
		numEntries += a.Cell((cellIndex + i) % arraySize).NumEntries(g)
		if numEntries > threshold {
			t.resize(g)
			return
		}
	}
}

// tryShrink sums the sampleSize-1 cells following cellIndex and triggers
// a resize if that sum stays below sampleSize (1/16 of the slots of
// sampleSize cells), provided the directory is above minimum capacity.
func (t *Table[K, V]) tryShrink(a *directory.Array[K, V], cellIndex int, g *ebr.Guard) {
	if a.NumEntries() <= t.minCapacity {
		return
	}
	sampleSize := a.SampleSize()
	arraySize := a.NumCells()
	threshold := sampleSize * cell.Width / 16
	numEntries := 0
	for i := 1; i < sampleSize; i++ {
		numEntries += a.Cell((cellIndex + i) % arraySize).NumEntries(g)
		if numEntries >= threshold {
			return
		}
	}
	t.resize(g)
}

// resize is the exclusive-resizer state machine of spec.md §4.5's
// tri-state coordination byte.
func (t *Table[K, V]) resize(g *ebr.Guard) {
	state := t.resizeState.Load()
	for {
		if state == resizeActiveRetry {
			return
		}
		next := uint32(resizeActive)
		if state == resizeActive {
			next = resizeActiveRetry
		}
		if t.resizeState.CompareAndSwap(state, next) {
			if next == resizeActiveRetry {
				return
			}
			break
		}
		state = t.resizeState.Load()
	}

	for {
		t.resizeOnce(g)
		// Atomic decrement-by-one, mirroring the Rust original's
		// fetch_sub(1): a result of resizeActive (1) means the value
		// before the decrement was resizeActiveRetry (2) — a retry was
		// requested while this resize ran, so loop again. A result of
		// resizeIdle (0) means the prior value was resizeActive (1):
		// done.
		if t.resizeState.Add(^uint32(0)) == resizeActive {
			continue
		}
		return
	}
}

// resizeOnce performs one resize attempt if the directory is currently
// steady (no predecessor still draining).
func (t *Table[K, V]) resizeOnce(g *ebr.Guard) {
	cur := t.array.Load(g)
	if cur.OldArray(g) != nil {
		// A predecessor is still draining: cannot resize again yet.
		return
	}

	capacity := cur.NumEntries()
	numCells := cur.NumCells()
	sampleCount := clamp(numCells/8, 2, 4096)
	estimated := estimate(cur, g, sampleCount)

	newCapacity := capacity
	switch {
	case estimated >= (capacity/8)*7:
		newCapacity = growTarget(capacity, estimated)
	case estimated <= capacity/16:
		newCapacity = shrinkTarget(estimated, t.minCapacity)
	}

	if newCapacity != capacity {
		newCells := ceilDiv(newCapacity, cell.Width)
		next := directory.New[K, V](newCells, cur, t.lockFree)
		if t.array.CompareAndSwap(cur, next) && t.onResize != nil {
			t.onResize(numCells, newCells)
		}
	}
}

// growTarget doubles capacity until it can hold estimated*15/8 entries,
// capped at 32x the starting capacity and at 1 << 62, the largest power
// of two a 64-bit int can hold (spec.md §4.5).
func growTarget(capacity, estimated int) int {
	const maxCapacity = 1 << 62 // largest power of two an int64 holds
	if capacity >= maxCapacity {
		return capacity
	}
	newCapacity := capacity
	for newCapacity < (estimated/8)*15 {
		if newCapacity >= maxCapacity {
			break
		}
		if newCapacity/capacity >= 32 {
			break
		}
		newCapacity *= 2
	}
	return newCapacity
}

// shrinkTarget rounds the estimate up to the next power of two, clamped
// below by the minimum capacity.
func shrinkTarget(estimated, minCapacity int) int {
	n := nextPow2Int(estimated)
	if n < minCapacity {
		return minCapacity
	}
	return n
}

func nextPow2Int(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
