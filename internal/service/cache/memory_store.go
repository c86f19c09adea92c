package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value    []byte
	expireAt time.Time
}

func (m *memoryItem) expired(now time.Time) bool {
	return now.After(m.expireAt)
}

// MemoryStore implements Store with in-memory storage and LRU eviction.
// Used in tests and as a degraded-mode fallback when redis is not configured.
type MemoryStore struct {
	data    map[string]*memoryItem
	access  map[string]time.Time
	mutex   sync.RWMutex
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(maxSize int, cleanupInterval time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	ms := &MemoryStore{
		data:    make(map[string]*memoryItem),
		access:  make(map[string]time.Time),
		maxSize: maxSize,
		ticker:  time.NewTicker(cleanupInterval),
		done:    make(chan struct{}),
	}

	go ms.cleanupExpired()
	return ms
}

func (ms *MemoryStore) GetBytes(_ context.Context, key string) ([]byte, bool, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	item, exists := ms.data[key]
	if !exists || item.expired(time.Now()) {
		if exists {
			delete(ms.data, key)
			delete(ms.access, key)
		}
		return nil, false, nil
	}

	ms.access[key] = time.Now()
	return item.value, true, nil
}

func (ms *MemoryStore) SetBytes(_ context.Context, key string, value []byte, ttl time.Duration) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	if len(ms.data) >= ms.maxSize {
		ms.evictLRU()
	}

	expireAt := time.Now().Add(ttl)
	if ttl <= 0 {
		expireAt = time.Now().Add(24 * time.Hour)
	}

	ms.data[key] = &memoryItem{value: value, expireAt: expireAt}
	ms.access[key] = time.Now()
	return nil
}

func (ms *MemoryStore) Delete(_ context.Context, keys ...string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	for _, key := range keys {
		delete(ms.data, key)
		delete(ms.access, key)
	}
	return nil
}

func (ms *MemoryStore) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	var deleted int64
	for key := range ms.data {
		if strings.HasPrefix(key, prefix) {
			delete(ms.data, key)
			delete(ms.access, key)
			deleted++
		}
	}
	return deleted, nil
}

func (ms *MemoryStore) Count(_ context.Context) (int64, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	return int64(len(ms.data)), nil
}

func (ms *MemoryStore) MemoryBytes(_ context.Context) (int64, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	var total int64
	for key, item := range ms.data {
		total += int64(len(key) + len(item.value))
	}
	return total, nil
}

func (ms *MemoryStore) evictLRU() {
	if len(ms.data) == 0 {
		return
	}

	var oldestKey string
	oldestTime := time.Now()

	for key, accessTime := range ms.access {
		if accessTime.Before(oldestTime) {
			oldestTime = accessTime
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(ms.data, oldestKey)
		delete(ms.access, oldestKey)
	}
}

func (ms *MemoryStore) cleanupExpired() {
	for {
		select {
		case <-ms.done:
			return
		case <-ms.ticker.C:
			ms.mutex.Lock()
			now := time.Now()
			for key, item := range ms.data {
				if item.expired(now) {
					delete(ms.data, key)
					delete(ms.access, key)
				}
			}
			ms.mutex.Unlock()
		}
	}
}

// Close stops the cleanup loop.
func (ms *MemoryStore) Close() error {
	ms.ticker.Stop()
	close(ms.done)
	return nil
}
