package cmap

import (
	"encoding/binary"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShardCount is the shard count used by the convenience constructors.
const DefaultShardCount = 16

// Hasher maps a key to a 32-bit hash used for shard selection.
type Hasher[K comparable] func(K) uint32

// Map is a concurrent-safe sharded map.
type Map[K comparable, V any] struct {
	shards []*shard[K, V]
	mask   uint32
	hash   Hasher[K]
}

type shard[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// New creates a map with the given hasher and shard count.
// A shard count that is not a positive power of two falls back to DefaultShardCount.
func New[K comparable, V any](hash Hasher[K], shardCount int) *Map[K, V] {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = DefaultShardCount
	}
	m := &Map[K, V]{
		shards: make([]*shard[K, V], shardCount),
		mask:   uint32(shardCount - 1),
		hash:   hash,
	}
	for i := range m.shards {
		m.shards[i] = &shard[K, V]{items: make(map[K]V)}
	}
	return m
}

// NewString creates a string-keyed map.
func NewString[V any]() *Map[string, V] {
	return New[string, V](HashString, DefaultShardCount)
}

// NewInt64 creates an int64-keyed map.
func NewInt64[V any]() *Map[int64, V] {
	return New[int64, V](HashInt64, DefaultShardCount)
}

// HashString hashes a string key with murmur3.
func HashString(key string) uint32 {
	return murmur3.Sum32([]byte(key))
}

// HashInt64 hashes an int64 key with murmur3.
func HashInt64(key int64) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	return murmur3.Sum32(buf[:])
}

func (m *Map[K, V]) shardFor(key K) *shard[K, V] {
	return m.shards[m.hash(key)&m.mask]
}

// Get retrieves a value by key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

// Set stores a key-value pair.
func (m *Map[K, V]) Set(key K, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// Delete removes a key.
func (m *Map[K, V]) Delete(key K) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Count returns the number of items across all shards.
func (m *Map[K, V]) Count() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}
