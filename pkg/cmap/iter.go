package cmap

// Range calls fn for every item, one shard at a time under that shard's read lock.
// Iteration stops when fn returns false. fn must not call back into the map's
// write methods.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Keys returns a point-in-time copy of all keys.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.Count())
	m.Range(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Update stores fn's result for key under the shard lock.
func (m *Map[K, V]) Update(key K, fn func(value V, exists bool) V) V {
	nv, _ := m.Compute(key, func(v V, ok bool) (V, bool) { return fn(v, ok), true })
	return nv
}

// Compute is like Update but lets fn delete the entry by returning keep=false.
func (m *Map[K, V]) Compute(key K, fn func(value V, exists bool) (newValue V, keep bool)) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	nv, keep := fn(v, ok)
	if !keep {
		delete(s.items, key)
		return nv, false
	}
	s.items[key] = nv
	return nv, true
}

// Pop removes key and returns its previous value.
func (m *Map[K, V]) Pop(key K) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return v, ok
}
