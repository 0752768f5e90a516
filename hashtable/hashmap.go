package hashtable

import "github.com/minio/scc/internal/ebr"

// HashMap is the mutating flavor: entries may move during migration, so
// no copier is needed, and Read takes the cell's exclusive lock rather
// than a lock-free search.
type HashMap[K comparable, V any] struct {
	t *Table[K, V]
}

// NewHashMap constructs a mutating hash map using hasher to compute the
// 64-bit hash of a key.
func NewHashMap[K comparable, V any](hasher func(K) uint64, cfg Config) *HashMap[K, V] {
	return &HashMap[K, V]{t: newTable[K, V](hasher, nil, false, cfg)}
}

// Insert inserts (key, value); ok is false on a duplicate key, handing
// the pair back unchanged.
func (m *HashMap[K, V]) Insert(key K, value V) (K, V, bool) {
	return Insert(m.t, key, value)
}

// Read looks key up and, if present, calls fn with its current value,
// returning fn's result.
func (m *HashMap[K, V]) Read(key K, fn func(K, V) any) (any, bool) {
	g := ebr.Pin()
	defer g.Unpin()
	return Read(m.t, key, fn, g)
}

// Get is a convenience wrapper over Read returning the value directly.
func (m *HashMap[K, V]) Get(key K) (V, bool) {
	g := ebr.Pin()
	defer g.Unpin()
	return Read(m.t, key, func(_ K, v V) V { return v }, g)
}

// RemoveIf removes key if present and pred holds for its value.
func (m *HashMap[K, V]) RemoveIf(key K, pred func(V) bool) bool {
	return RemoveIf(m.t, key, pred)
}

// Remove unconditionally removes key if present.
func (m *HashMap[K, V]) Remove(key K) bool {
	return RemoveIf(m.t, key, func(V) bool { return true })
}

// NumEntries returns the approximate number of live entries.
func (m *HashMap[K, V]) NumEntries() int {
	g := ebr.Pin()
	defer g.Unpin()
	return m.t.NumEntries(g)
}

// NumSlots returns the current directory's logical capacity.
func (m *HashMap[K, V]) NumSlots() int {
	g := ebr.Pin()
	defer g.Unpin()
	return m.t.NumSlots(g)
}

// OnResize registers an observer called synchronously after each resize
// cycle installs a new directory generation, with the old and new cell
// counts. Passing nil clears the observer.
func (m *HashMap[K, V]) OnResize(fn func(beforeCells, afterCells int)) {
	m.t.SetResizeObserver(fn)
}

// OnMigrate registers an observer called synchronously after each bounded
// chunk of predecessor cells a migration step drains, with the number of
// cells drained and the number still outstanding. Passing nil clears the
// observer.
func (m *HashMap[K, V]) OnMigrate(fn func(drained, remaining int)) {
	m.t.SetMigrationObserver(fn)
}
