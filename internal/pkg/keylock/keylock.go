// Package keylock provides per-key mutual exclusion for engine state.
// Two events for the same key are strictly serialized in lock-acquisition
// order; events for different keys never block each other.
package keylock

import "sync"

// keyMutex wraps a mutex so instances can be pooled.
type keyMutex struct {
	mu sync.Mutex
}

// Map holds one mutex per key. Keys are created on first use and kept for
// the process lifetime; the per-key footprint is a single mutex.
type Map[K comparable] struct {
	locks sync.Map // map[K]*keyMutex
	pool  sync.Pool
}

// New creates an empty lock map.
func New[K comparable]() *Map[K] {
	return &Map[K]{
		pool: sync.Pool{
			New: func() any {
				return &keyMutex{}
			},
		},
	}
}

func (m *Map[K]) get(key K) *keyMutex {
	if v, ok := m.locks.Load(key); ok {
		return v.(*keyMutex)
	}

	fresh := m.pool.Get().(*keyMutex)
	actual, loaded := m.locks.LoadOrStore(key, fresh)
	if loaded {
		// Another goroutine won the race, return ours to the pool.
		m.pool.Put(fresh)
	}
	return actual.(*keyMutex)
}

// Lock acquires the mutex for key, blocking until it is available.
func (m *Map[K]) Lock(key K) {
	m.get(key).mu.Lock()
}

// Unlock releases the mutex for key.
func (m *Map[K]) Unlock(key K) {
	if v, ok := m.locks.Load(key); ok {
		v.(*keyMutex).mu.Unlock()
	}
}

// TryLock attempts to acquire the mutex for key without blocking.
func (m *Map[K]) TryLock(key K) bool {
	return m.get(key).mu.TryLock()
}

// WithLock runs fn while holding the mutex for key.
func (m *Map[K]) WithLock(key K, fn func() error) error {
	m.Lock(key)
	defer m.Unlock(key)
	return fn()
}
