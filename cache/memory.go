package cache

import (
	"context"
	"sync"
	"time"
)

type memoryBackend struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{entries: make(map[string]entry)}
}

func (b *memoryBackend) get(_ context.Context, key string) (entry, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[key]
	return e, ok, nil
}

func (b *memoryBackend) set(_ context.Context, key string, payload []byte, _, expiresAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = entry{payload: payload, expiresAt: expiresAt}
	return nil
}

func (b *memoryBackend) delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (b *memoryBackend) clear(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]entry)
	return nil
}

func (b *memoryBackend) size(_ context.Context, now time.Time) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, e := range b.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n, nil
}

func (b *memoryBackend) close() error {
	return nil
}
