package storage

import "sync"

// MemoryStore is a DurableStore held in memory. Its contents are lost with
// the process; tests and the emulator mode use it.
type MemoryStore struct {
	mu     sync.RWMutex
	data   []byte
	closed bool

	// FailWrites makes every WriteAt fail with this error when set
	FailWrites error
}

// NewMemoryStore returns a zero-filled store of the given size
func NewMemoryStore(size int64) *MemoryStore {
	return &MemoryStore{data: make([]byte, size)}
}

// Size returns the capacity of the store
func (m *MemoryStore) Size() int64 {
	return int64(len(m.data))
}

// ReadAt fills p from the image
func (m *MemoryStore) ReadAt(p []byte, off int64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	if err := checkBounds(int64(len(m.data)), len(p), off); err != nil {
		return err
	}
	copy(p, m.data[off:])
	return nil
}

// WriteAt copies p into the image
func (m *MemoryStore) WriteAt(p []byte, off int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.FailWrites != nil {
		return m.FailWrites
	}
	if err := checkBounds(int64(len(m.data)), len(p), off); err != nil {
		return err
	}
	copy(m.data[off:], p)
	return nil
}

// Close marks the store closed
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Snapshot returns a copy of the whole image
func (m *MemoryStore) Snapshot() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}
