package ring

import (
	"github.com/emirpasic/gods/trees/avltree"
	"github.com/emirpasic/gods/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Balanced is a Ring kept in an AVL tree. It answers every lookup exactly
// like Tree for the same insertion history, with logarithmic depth.
type Balanced struct {
	modulus uint64
	tree    *avltree.Tree // uint64 -> []string

	// index maps an owner to the keys whose bucket holds it.
	index map[string]map[uint64]struct{}

	log    []Entry
	logger *logrus.Entry
}

var _ Ring = (*Balanced)(nil)

// NewBalanced creates an empty balanced ring.
func NewBalanced(opts ...Option) *Balanced {
	c := newConfig(opts)
	return &Balanced{
		modulus: c.modulus,
		tree:    avltree.NewWith(utils.UInt64Comparator),
		index:   make(map[string]map[uint64]struct{}),
		logger:  c.logger,
	}
}

// Modulus returns the size of the hash space.
func (b *Balanced) Modulus() uint64 {
	return b.modulus
}

// Len returns the number of live positions.
func (b *Balanced) Len() int {
	return b.tree.Size()
}

// Insert implements Ring.
func (b *Balanced) Insert(owner string, key uint64) {
	b.log = append(b.log, Entry{Owner: owner, Key: key})
	h := key % b.modulus

	var owners []string
	if v, found := b.tree.Get(h); found {
		owners = v.([]string)
		if slices.Contains(owners, owner) {
			warnDuplicate(b.logger, owner, h)
		}
	}
	b.tree.Put(h, append(owners, owner))

	keys, ok := b.index[owner]
	if !ok {
		keys = make(map[uint64]struct{})
		b.index[owner] = keys
	}
	keys[h] = struct{}{}
}

// Remove implements Ring. It never fails.
func (b *Balanced) Remove(owner string) error {
	for h := range b.index[owner] {
		v, found := b.tree.Get(h)
		if !found {
			continue
		}
		owners := slices.DeleteFunc(v.([]string), func(o string) bool { return o == owner })
		if len(owners) == 0 {
			b.tree.Remove(h)
		} else {
			b.tree.Put(h, owners)
		}
	}
	delete(b.index, owner)
	b.log = slices.DeleteFunc(b.log, func(e Entry) bool { return e.Owner == owner })
	return nil
}

// Successor implements Ring.
func (b *Balanced) Successor(key uint64, cyclic bool) (Node, bool) {
	q := key % b.modulus
	n, found := b.tree.Ceiling(q)
	if found && n.Key.(uint64) == q {
		n = n.Next()
	}
	if n == nil {
		if !cyclic {
			return Node{}, false
		}
		n = b.tree.Left()
	}
	if n == nil {
		return Node{}, false
	}
	return balancedView(n), true
}

// Ceiling implements Ring.
func (b *Balanced) Ceiling(key uint64) (Node, bool) {
	n, found := b.tree.Ceiling(key % b.modulus)
	if !found {
		n = b.tree.Left()
	}
	if n == nil {
		return Node{}, false
	}
	return balancedView(n), true
}

// Entries implements Ring.
func (b *Balanced) Entries() []Entry {
	return slices.Clone(b.log)
}

// Owners implements Ring.
func (b *Balanced) Owners() []string {
	owners := make([]string, 0, len(b.index))
	for o := range b.index {
		owners = append(owners, o)
	}
	slices.Sort(owners)
	return owners
}

func balancedView(n *avltree.Node) Node {
	return Node{
		ID:     -1,
		Key:    n.Key.(uint64),
		Owners: slices.Clone(n.Value.([]string)),
	}
}
