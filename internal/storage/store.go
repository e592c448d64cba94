package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrKeyNotFound is returned when a key doesn't exist in the store
var ErrKeyNotFound = errors.New("key not found")

// ErrUnknownShard is returned when a key is routed to a shard with no store.
var ErrUnknownShard = errors.New("unknown shard")

// Store holds the keys of a single shard.
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Get retrieves a value by key
	// Returns ErrKeyNotFound if the key doesn't exist
	Get(key string) ([]byte, error)

	// Put stores a value with the given key
	// Overwrites any existing value for the key
	Put(key string, value []byte) error

	// Delete removes a key-value pair
	// No error if key doesn't exist
	Delete(key string) error

	// Keys returns all keys in the store, sorted
	Keys() []string

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Keys  int // Number of keys
	Bytes int // Total size of all values in bytes
}

// MemoryStore implements Store with an in-memory map.
type MemoryStore struct {
	mu   sync.RWMutex // Protects data
	data map[string][]byte
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Get returns a copy of the value stored under key.
func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[key]
	if !exists {
		return nil, ErrKeyNotFound
	}
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Put stores a copy of value under key.
func (m *MemoryStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Keys returns all keys in ascending order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalBytes := 0
	for _, value := range m.data {
		totalBytes += len(value)
	}
	return StoreStats{
		Keys:  len(m.data),
		Bytes: totalBytes,
	}
}

// Locator maps a key to the shard that should hold it.
type Locator func(key string) (string, error)

// Rebalance moves every key whose current store differs from the shard
// locate picks for it, and returns how many keys moved. Every shard locate
// returns must have a store in stores, otherwise Rebalance stops with
// ErrUnknownShard. Keys already moved stay moved.
func Rebalance(stores map[string]Store, locate Locator, logger *logrus.Entry) (int, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	ids := make([]string, 0, len(stores))
	for id := range stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	moved := 0
	for _, id := range ids {
		src := stores[id]
		for _, key := range src.Keys() {
			owner, err := locate(key)
			if err != nil {
				return moved, fmt.Errorf("locate %s: %w", key, err)
			}
			if owner == id {
				continue
			}
			dst, ok := stores[owner]
			if !ok {
				return moved, fmt.Errorf("key %s routed to %s: %w", key, owner, ErrUnknownShard)
			}
			value, err := src.Get(key)
			if err != nil {
				return moved, err
			}
			if err := dst.Put(key, value); err != nil {
				return moved, err
			}
			if err := src.Delete(key); err != nil {
				return moved, err
			}
			moved++
		}
	}

	logger.WithFields(logrus.Fields{
		"func_name": "Rebalance",
		"stores":    len(stores),
		"moved":     moved,
	}).Debug("rebalance complete")
	return moved, nil
}
