package hashtable

import "hash/fnv"

// FNV64a returns a hasher adapter for string keys using FNV-1a, the same
// fast hash internal/cache/cache_engine_v3.go's fastHash uses for shard
// selection.
func FNV64a() func(string) uint64 {
	return func(key string) uint64 {
		h := fnv.New64a()
		_, _ = h.Write([]byte(key))
		return h.Sum64()
	}
}

// FNV64aBytes adapts FNV64a to []byte keys.
func FNV64aBytes() func([]byte) uint64 {
	return func(key []byte) uint64 {
		h := fnv.New64a()
		_, _ = h.Write(key)
		return h.Sum64()
	}
}
