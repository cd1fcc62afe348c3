package store

import "context"

// MemoryBackend is an in-memory blob backend for testing.
type MemoryBackend struct {
	objects map[string][]byte

	// Puts counts writes, so tests can assert save-once behavior.
	Puts int
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]byte)}
}

// Get returns the stored bytes at key, or ErrNotFound.
func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := b.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Put stores a copy of data at key.
func (b *MemoryBackend) Put(ctx context.Context, key string, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)
	b.objects[key] = stored
	b.Puts++
	return nil
}

// Seed stores raw bytes directly (for testing).
func (b *MemoryBackend) Seed(key string, data []byte) {
	b.objects[key] = data
}
