// Package ordered provides a map that remembers key insertion order.
package ordered

// Map is a map whose iteration order is the order keys were first inserted.
// Deleting a key and inserting it again moves it to the end.
// Map is not safe for concurrent use.
type Map[K comparable, V any] struct {
	index map[K]int
	keys  []K
	vals  []V
	// number of tombstoned slots in keys/vals
	holes int
}

// New creates an empty map
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{index: make(map[K]int)}
}

// Len returns the number of live keys
func (m *Map[K, V]) Len() int {
	return len(m.index)
}

// Get returns the value stored under key
func (m *Map[K, V]) Get(key K) (V, bool) {
	if i, ok := m.index[key]; ok {
		return m.vals[i], true
	}
	var zero V
	return zero, false
}

// Set stores value under key, keeping the key's original position if present
func (m *Map[K, V]) Set(key K, value V) {
	if i, ok := m.index[key]; ok {
		m.vals[i] = value
		return
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, value)
}

// GetOrInit returns the value under key, storing init() first if absent
func (m *Map[K, V]) GetOrInit(key K, init func() V) V {
	if v, ok := m.Get(key); ok {
		return v
	}
	v := init()
	m.Set(key, v)
	return v
}

// Delete removes key. Returns false if key was absent.
func (m *Map[K, V]) Delete(key K) bool {
	i, ok := m.index[key]
	if !ok {
		return false
	}
	delete(m.index, key)
	var zeroV V
	m.vals[i] = zeroV
	m.holes++
	if m.holes > 16 && m.holes > len(m.keys)/2 {
		m.compact()
	}
	return true
}

// Keys returns live keys in insertion order
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, len(m.index))
	m.Range(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Range calls fn for every live entry in insertion order until fn returns false
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for i, k := range m.keys {
		if j, ok := m.index[k]; !ok || j != i {
			continue
		}
		if !fn(k, m.vals[i]) {
			return
		}
	}
}

func (m *Map[K, V]) compact() {
	keys := make([]K, 0, len(m.index))
	vals := make([]V, 0, len(m.index))
	for i, k := range m.keys {
		if j, ok := m.index[k]; !ok || j != i {
			continue
		}
		m.index[k] = len(keys)
		keys = append(keys, k)
		vals = append(vals, m.vals[i])
	}
	m.keys = keys
	m.vals = vals
	m.holes = 0
}
