package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend keeps entries in process memory. A positive maxBytes caps the
// total size of stored values and makes Set fail with ErrQuotaExceeded, the
// way browser storage does when it runs out of room.
type MemoryBackend struct {
	mu       sync.RWMutex
	entries  map[string][]byte
	size     int
	maxBytes int
	closed   bool
}

func NewMemoryBackend(maxBytes int) *MemoryBackend {
	return &MemoryBackend{entries: map[string][]byte{}, maxBytes: maxBytes}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBackendClosed
	}
	value, ok := b.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	next := b.size - len(b.entries[key]) + len(value)
	if b.maxBytes > 0 && next > b.maxBytes {
		return ErrQuotaExceeded
	}
	b.entries[key] = append([]byte(nil), value...)
	b.size = next
	return nil
}

func (b *MemoryBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBackendClosed
	}
	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
