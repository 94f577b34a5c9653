package cache

import (
	"context"
	"sync"
	"time"
)

// Memory implements Cache using an in-memory map with TTL-based expiration.
type Memory struct {
	mu      sync.RWMutex
	entries map[Key]memoryEntry

	cancel context.CancelFunc
	done   chan struct{}
}

type memoryEntry struct {
	payload   []byte
	storedAt  time.Time
	expiresAt time.Time
}

func (e memoryEntry) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// NewMemory creates a new in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[Key]memoryEntry),
	}
}

// Get returns the entry for key, or ErrMiss when absent or expired.
func (m *Memory) Get(_ context.Context, key Key) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || e.isExpired() {
		return Entry{}, ErrMiss
	}
	// Copy out so a caller mutating the returned payload cannot corrupt
	// the cached value.
	return Entry{Payload: append([]byte(nil), e.payload...), StoredAt: e.storedAt}, nil
}

// Set stores payload under key for ttl.
func (m *Memory) Set(_ context.Context, key Key, payload []byte, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{
		payload:   append([]byte(nil), payload...),
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// ClearOwner deletes every entry scoped to the owner.
func (m *Memory) ClearOwner(_ context.Context, owner int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.entries {
		if key.Owner == owner {
			delete(m.entries, key)
		}
	}
	return nil
}

// sweep removes expired entries so the map does not grow unbounded.
func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, e := range m.entries {
		if e.isExpired() {
			delete(m.entries, key)
		}
	}
}

// StartCleanupRoutine starts a background goroutine that periodically
// removes expired entries. The goroutine is stopped when Close is called.
func (m *Memory) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (m *Memory) Close() error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	return nil
}

// Verify interface compliance.
var _ Cache = (*Memory)(nil)
