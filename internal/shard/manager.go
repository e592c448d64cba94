package shard

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dreamware/shardring/internal/ring"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// DefaultReplicas is the number of virtual nodes per shard when none is set.
const DefaultReplicas = 4

// Manager maps keys to shards through a hash ring of virtual nodes.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex // Protects ring
	ring     ring.Ring
	newRing  func() ring.Ring
	replicas int
	hash     ring.Hasher
	logger   *logrus.Entry
	stats    OperationStats
}

// OperationStats counts manager operations.
type OperationStats struct {
	Adds     uint64 // Number of AddShard calls
	Removes  uint64 // Number of RemoveShard calls
	Locates  uint64 // Number of key lookups
	Restores uint64 // Number of successful restores
}

// ManagerStats is a point-in-time view of a manager.
type ManagerStats struct {
	Ops          OperationStats
	Shards       int // Distinct shards on the ring
	VirtualNodes int // Live ring positions
}

type options struct {
	replicas int
	hash     ring.Hasher
	modulus  uint64
	balanced bool
	logger   *logrus.Entry
}

// Option configures a Manager.
type Option func(*options)

// WithReplicas sets the number of virtual nodes per shard. Values below one
// are ignored.
func WithReplicas(k int) Option {
	return func(o *options) {
		if k > 0 {
			o.replicas = k
		}
	}
}

// WithHasher replaces the hash used for keys and virtual nodes.
func WithHasher(h ring.Hasher) Option {
	return func(o *options) {
		if h != nil {
			o.hash = h
		}
	}
}

// WithModulus sets the size of the ring's hash space.
func WithModulus(m uint64) Option {
	return func(o *options) {
		o.modulus = m
	}
}

// WithBalancedRing backs the manager with ring.Balanced instead of the plain
// tree.
func WithBalancedRing() Option {
	return func(o *options) {
		o.balanced = true
	}
}

// WithLogger sets the logger for the manager and its ring.
func WithLogger(l *logrus.Entry) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewManager creates a manager with an empty ring.
func NewManager(opts ...Option) *Manager {
	o := options{
		replicas: DefaultReplicas,
		hash:     ring.XXHash,
		modulus:  ring.DefaultModulus,
		logger:   logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ringOpts := []ring.Option{ring.WithModulus(o.modulus), ring.WithLogger(o.logger)}
	newRing := func() ring.Ring { return ring.NewTree(ringOpts...) }
	if o.balanced {
		newRing = func() ring.Ring { return ring.NewBalanced(ringOpts...) }
	}

	return &Manager{
		ring:     newRing(),
		newRing:  newRing,
		replicas: o.replicas,
		hash:     o.hash,
		logger:   o.logger,
	}
}

// Replicas returns the number of virtual nodes per shard.
func (m *Manager) Replicas() int {
	return m.replicas
}

// AddShard places the shard's virtual nodes on the ring. Adding a shard that
// is already present duplicates its bucket entries.
func (m *Manager) AddShard(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	atomic.AddUint64(&m.stats.Adds, 1)
	for i := 0; i < m.replicas; i++ {
		m.ring.Insert(id, m.virtualKey(id, i))
	}
	m.logger.WithFields(logrus.Fields{
		"func_name":     "AddShard",
		"shard":         id,
		"virtual_nodes": m.ring.Len(),
	}).Debug("shard added")
}

// RemoveShard removes every virtual node of the shard. Removing an unknown
// shard is a no-op.
func (m *Manager) RemoveShard(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	atomic.AddUint64(&m.stats.Removes, 1)
	if err := m.ring.Remove(id); err != nil {
		m.logger.WithFields(logrus.Fields{
			"func_name": "RemoveShard",
			"shard":     id,
		}).Errorf("ring removal failed: %v", err)
		return fmt.Errorf("remove shard %s: %w", id, err)
	}
	m.logger.WithFields(logrus.Fields{
		"func_name":     "RemoveShard",
		"shard":         id,
		"virtual_nodes": m.ring.Len(),
	}).Debug("shard removed")
	return nil
}

// LocateShard returns the shard owning key: the first owner of the cyclic
// successor of hash(key). A key hashing exactly onto a virtual node belongs
// to the next position up. It returns ring.ErrEmptyRing when no shards are
// present.
func (m *Manager) LocateShard(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	atomic.AddUint64(&m.stats.Locates, 1)
	n, ok := m.ring.Successor(m.hash([]byte(key)), true)
	if !ok {
		return "", ring.ErrEmptyRing
	}
	return n.Owners[0], nil
}

// LocateShards returns up to n distinct shards for key in ring order, starting
// with the shard LocateShard would return. It is the preference list used to
// pick replicas.
func (m *Manager) LocateShards(key string, n int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	atomic.AddUint64(&m.stats.Locates, 1)
	node, ok := m.ring.Successor(m.hash([]byte(key)), true)
	if !ok {
		return nil, ring.ErrEmptyRing
	}
	if n <= 0 {
		return []string{}, nil
	}

	result := make([]string, 0, n)
	start := node.Key
	for steps := 0; steps < m.ring.Len(); steps++ {
		for _, owner := range node.Owners {
			if !slices.Contains(result, owner) {
				result = append(result, owner)
			}
			if len(result) == n {
				return result, nil
			}
		}
		node, _ = m.ring.Successor(node.Key, true)
		if node.Key == start {
			break
		}
	}
	return result, nil
}

// Shards returns the shards on the ring, sorted.
func (m *Manager) Shards() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ring.Owners()
}

// Len returns the number of live virtual nodes.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ring.Len()
}

// Distribution counts how many of keys each shard owns. Shards owning none
// of the keys are reported with zero.
func (m *Manager) Distribution(keys []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, id := range m.ring.Owners() {
		counts[id] = 0
	}
	for _, key := range keys {
		atomic.AddUint64(&m.stats.Locates, 1)
		n, ok := m.ring.Successor(m.hash([]byte(key)), true)
		if !ok {
			return nil, ring.ErrEmptyRing
		}
		counts[n.Owners[0]]++
	}
	return counts, nil
}

// Snapshot serializes the ring as its insertion log.
func (m *Manager) Snapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ring.Encode(m.ring)
}

// Restore replaces the ring with one rebuilt from a Snapshot. On error the
// current ring is kept.
func (m *Manager) Restore(data []byte) error {
	entries, err := ring.Decode(data)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"func_name": "Restore",
			"bytes":     len(data),
		}).Errorf("rejecting snapshot: %v", err)
		return err
	}

	fresh := m.newRing()
	ring.Replay(fresh, entries)

	m.mu.Lock()
	m.ring = fresh
	m.mu.Unlock()

	atomic.AddUint64(&m.stats.Restores, 1)
	return nil
}

// Ring returns the underlying ring. Callers must not use it concurrently
// with the manager's mutating methods.
func (m *Manager) Ring() ring.Ring {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ring
}

// Stats returns current counters and ring size.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	shards, vnodes := len(m.ring.Owners()), m.ring.Len()
	m.mu.RUnlock()

	return ManagerStats{
		Ops: OperationStats{
			Adds:     atomic.LoadUint64(&m.stats.Adds),
			Removes:  atomic.LoadUint64(&m.stats.Removes),
			Locates:  atomic.LoadUint64(&m.stats.Locates),
			Restores: atomic.LoadUint64(&m.stats.Restores),
		},
		Shards:       shards,
		VirtualNodes: vnodes,
	}
}

// virtualKey derives the ring position of replica i of shard id.
func (m *Manager) virtualKey(id string, i int) uint64 {
	x := 37 * i * i
	return m.hash([]byte(fmt.Sprintf("%d:%s:%d", x, id, x))) % m.ring.Modulus()
}
