package hashtable

import "github.com/minio/scc/internal/ebr"

// HashIndex is the lock-free read-optimized flavor: Read never takes a
// cell lock, so K and V must be safely observable without holding one.
// Go has no Clone trait, so callers supply copier explicitly — the same
// shape as original_source/src/hash_table.rs's HashTable::copier, used
// during migration so a reader under an older epoch still sees a
// consistent pair.
type HashIndex[K comparable, V any] struct {
	t *Table[K, V]
}

// NewHashIndex constructs a lock-free hash index. copier may be nil if
// plain Go value-copy semantics are sufficient to safely observe V
// without synchronization (true for any V holding no internal pointers
// to mutable shared state).
func NewHashIndex[K comparable, V any](hasher func(K) uint64, copier Copier[K, V], cfg Config) *HashIndex[K, V] {
	return &HashIndex[K, V]{t: newTable[K, V](hasher, copier, true, cfg)}
}

// Insert inserts (key, value); ok is false on a duplicate key, handing
// the pair back unchanged.
func (h *HashIndex[K, V]) Insert(key K, value V) (K, V, bool) {
	return Insert(h.t, key, value)
}

// Get performs a lock-free read of key.
func (h *HashIndex[K, V]) Get(key K) (V, bool) {
	g := ebr.Pin()
	defer g.Unpin()
	return Read(h.t, key, func(_ K, v V) V { return v }, g)
}

// RemoveIf tombstones key if present and pred holds for its value; Get
// no longer finds it, while a reader that had already matched the slot
// still reads an intact pair. The tombstoned slot is dropped when its
// cell is migrated by a resize.
func (h *HashIndex[K, V]) RemoveIf(key K, pred func(V) bool) bool {
	return RemoveIf(h.t, key, pred)
}

// Remove unconditionally removes key if present.
func (h *HashIndex[K, V]) Remove(key K) bool {
	return RemoveIf(h.t, key, func(V) bool { return true })
}

// NumEntries returns the approximate number of live entries.
func (h *HashIndex[K, V]) NumEntries() int {
	g := ebr.Pin()
	defer g.Unpin()
	return h.t.NumEntries(g)
}

// NumSlots returns the current directory's logical capacity.
func (h *HashIndex[K, V]) NumSlots() int {
	g := ebr.Pin()
	defer g.Unpin()
	return h.t.NumSlots(g)
}

// OnResize registers an observer called synchronously after each resize
// cycle installs a new directory generation, with the old and new cell
// counts. Passing nil clears the observer.
func (h *HashIndex[K, V]) OnResize(fn func(beforeCells, afterCells int)) {
	h.t.SetResizeObserver(fn)
}

// OnMigrate registers an observer called synchronously after each bounded
// chunk of predecessor cells a migration step drains, with the number of
// cells drained and the number still outstanding. Passing nil clears the
// observer.
func (h *HashIndex[K, V]) OnMigrate(fn func(drained, remaining int)) {
	h.t.SetMigrationObserver(fn)
}
