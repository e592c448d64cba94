package ring

import (
	"github.com/sirupsen/logrus"
)

// Ring is an ordered set of hash positions, each holding a bucket of owners.
type Ring interface {
	// Insert places owner at key. A key that is already present gains
	// another bucket entry instead of a new node.
	Insert(owner string, key uint64)

	// Remove drops every occurrence of owner and every node left empty.
	Remove(owner string) error

	// Successor returns the node holding the smallest key strictly greater
	// than key when key is itself present, and the smallest key >= key
	// otherwise. With cyclic set the search wraps past the maximum to the
	// minimum; without it a search past the maximum finds nothing.
	Successor(key uint64, cyclic bool) (Node, bool)

	// Ceiling returns the node holding the smallest key >= key, wrapping to
	// the minimum. It only reports false for an empty ring.
	Ceiling(key uint64) (Node, bool)

	// Entries returns a copy of the insertion log.
	Entries() []Entry

	// Owners returns the distinct owners present, sorted.
	Owners() []string

	// Len returns the number of live nodes.
	Len() int

	// Modulus returns the size of the hash space.
	Modulus() uint64
}

// Node is a read-only view of a live ring position.
type Node struct {
	// ID is the arena slot of the node. It is -1 for rings without slots.
	ID int

	// Key is the reduced hash value.
	Key uint64

	// Owners is the bucket in insertion order. Owners[0] wins lookups.
	Owners []string
}

// Entry is one record of the insertion log. Key is the raw, unreduced value
// passed to Insert.
type Entry struct {
	Owner string
	Key   uint64
}

type config struct {
	modulus uint64
	logger  *logrus.Entry
}

// Option configures a ring at construction.
type Option func(*config)

// WithModulus sets the size of the hash space. Zero is ignored.
func WithModulus(m uint64) Option {
	return func(c *config) {
		if m > 0 {
			c.modulus = m
		}
	}
}

// WithLogger sets the logger used for warnings.
func WithLogger(l *logrus.Entry) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func newConfig(opts []Option) config {
	c := config{
		modulus: DefaultModulus,
		logger:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// warnDuplicate reports an owner inserted twice under the same key. The
// bucket keeps both entries.
func warnDuplicate(l *logrus.Entry, owner string, key uint64) {
	l.WithFields(logrus.Fields{
		"func_name": "Insert",
		"owner":     owner,
		"key":       key,
	}).Warn("duplicate owner entry in bucket")
}
