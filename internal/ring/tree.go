package ring

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// nilSlot marks an absent child, parent or root.
const nilSlot = -1

// treeNode is one arena slot. Links are slot numbers, so relinking during
// removal never leaves a reference to a freed node behind.
type treeNode struct {
	key    uint64
	owners []string
	left   int
	right  int
	parent int
}

// Tree is an unbalanced binary search tree over reduced hash values.
//
// The zero value is not usable; create trees with NewTree.
type Tree struct {
	modulus uint64
	nodes   []treeNode
	free    []int
	root    int
	live    int

	// index maps an owner to the slots whose bucket holds it.
	index map[string]map[int]struct{}

	// log records every Insert in order, pruned by Remove.
	log []Entry

	logger *logrus.Entry
}

var _ Ring = (*Tree)(nil)

// NewTree creates an empty tree.
func NewTree(opts ...Option) *Tree {
	c := newConfig(opts)
	return &Tree{
		modulus: c.modulus,
		root:    nilSlot,
		index:   make(map[string]map[int]struct{}),
		logger:  c.logger,
	}
}

// Modulus returns the size of the hash space.
func (t *Tree) Modulus() uint64 {
	return t.modulus
}

// Len returns the number of live nodes.
func (t *Tree) Len() int {
	return t.live
}

// Insert places owner at key mod M. If a node already holds that key the
// owner is appended to its bucket, duplicates included. The raw key is
// appended to the insertion log in every case.
func (t *Tree) Insert(owner string, key uint64) {
	t.log = append(t.log, Entry{Owner: owner, Key: key})
	h := key % t.modulus

	if t.root == nilSlot {
		t.root = t.alloc(h, owner, nilSlot)
		t.track(owner, t.root)
		return
	}

	cur := t.root
	for {
		n := &t.nodes[cur]
		switch {
		case h == n.key:
			if slices.Contains(n.owners, owner) {
				warnDuplicate(t.logger, owner, h)
			}
			n.owners = append(n.owners, owner)
			t.track(owner, cur)
			return
		case h < n.key:
			if n.left == nilSlot {
				id := t.alloc(h, owner, cur)
				t.nodes[cur].left = id
				t.track(owner, id)
				return
			}
			cur = n.left
		default:
			if n.right == nilSlot {
				id := t.alloc(h, owner, cur)
				t.nodes[cur].right = id
				t.track(owner, id)
				return
			}
			cur = n.right
		}
	}
}

// Remove strips owner from every bucket holding it and removes the nodes
// left empty. Only the owner's own slots are visited.
func (t *Tree) Remove(owner string) error {
	slots := t.index[owner]
	for len(slots) > 0 {
		id := lowestSlot(slots)
		delete(slots, id)

		n := &t.nodes[id]
		n.owners = slices.DeleteFunc(n.owners, func(o string) bool { return o == owner })
		if len(n.owners) > 0 {
			continue
		}
		if err := t.removeNode(id); err != nil {
			return err
		}
	}
	delete(t.index, owner)
	t.log = slices.DeleteFunc(t.log, func(e Entry) bool { return e.Owner == owner })
	return nil
}

// Successor implements Ring.
func (t *Tree) Successor(key uint64, cyclic bool) (Node, bool) {
	id := t.successor(key%t.modulus, cyclic)
	if id == nilSlot {
		return Node{}, false
	}
	return t.view(id), true
}

// Ceiling implements Ring.
func (t *Tree) Ceiling(key uint64) (Node, bool) {
	if t.root == nilSlot {
		return Node{}, false
	}
	q := key % t.modulus
	best := nilSlot
	for cur := t.root; cur != nilSlot; {
		n := &t.nodes[cur]
		if q == n.key {
			return t.view(cur), true
		}
		if q < n.key {
			best = cur
			cur = n.left
		} else {
			cur = n.right
		}
	}
	if best == nilSlot {
		best = t.min(t.root)
	}
	return t.view(best), true
}

// Min returns the node with the smallest key.
func (t *Tree) Min() (Node, bool) {
	if t.root == nilSlot {
		return Node{}, false
	}
	return t.view(t.min(t.root)), true
}

// Max returns the node with the largest key.
func (t *Tree) Max() (Node, bool) {
	if t.root == nilSlot {
		return Node{}, false
	}
	return t.view(t.max(t.root)), true
}

// Entries implements Ring.
func (t *Tree) Entries() []Entry {
	return slices.Clone(t.log)
}

// Owners implements Ring.
func (t *Tree) Owners() []string {
	owners := make([]string, 0, len(t.index))
	for o := range t.index {
		owners = append(owners, o)
	}
	slices.Sort(owners)
	return owners
}

// Walk calls fn for every node in ascending key order until fn returns false.
func (t *Tree) Walk(fn func(Node) bool) {
	var stack []int
	cur := t.root
	for cur != nilSlot || len(stack) > 0 {
		for cur != nilSlot {
			stack = append(stack, cur)
			cur = t.nodes[cur].left
		}
		cur = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(t.view(cur)) {
			return
		}
		cur = t.nodes[cur].right
	}
}

// Height returns the number of nodes on the longest root-to-leaf path.
func (t *Tree) Height() int {
	return t.height(t.root)
}

func (t *Tree) height(id int) int {
	if id == nilSlot {
		return 0
	}
	return 1 + max(t.height(t.nodes[id].left), t.height(t.nodes[id].right))
}

// Validate checks ordering, parent links, bucket contents and the owner
// index. It returns an error wrapping ErrCorrupt on the first violation.
func (t *Tree) Validate() error {
	if t.root != nilSlot && t.nodes[t.root].parent != nilSlot {
		return fmt.Errorf("%w: root %d has parent %d", ErrCorrupt, t.root, t.nodes[t.root].parent)
	}

	count := 0
	var prev *uint64
	var err error
	t.Walk(func(n Node) bool {
		count++
		if prev != nil && n.Key <= *prev {
			err = fmt.Errorf("%w: key %d follows %d in order", ErrCorrupt, n.Key, *prev)
			return false
		}
		k := n.Key
		prev = &k

		if len(n.Owners) == 0 {
			err = fmt.Errorf("%w: node %d has an empty bucket", ErrCorrupt, n.ID)
			return false
		}
		for _, child := range []int{t.nodes[n.ID].left, t.nodes[n.ID].right} {
			if child != nilSlot && t.nodes[child].parent != n.ID {
				err = fmt.Errorf("%w: node %d does not point back to parent %d", ErrCorrupt, child, n.ID)
				return false
			}
		}
		for _, o := range n.Owners {
			if _, ok := t.index[o][n.ID]; !ok {
				err = fmt.Errorf("%w: owner %q missing from index for node %d", ErrCorrupt, o, n.ID)
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}

	if count != t.live {
		return fmt.Errorf("%w: %d reachable nodes, %d live", ErrCorrupt, count, t.live)
	}
	for o, slots := range t.index {
		for id := range slots {
			if !slices.Contains(t.nodes[id].owners, o) {
				return fmt.Errorf("%w: index lists owner %q at node %d", ErrCorrupt, o, id)
			}
		}
	}
	return nil
}

// successor descends towards q. Falling off the left side makes the current
// node the answer; falling off the right side, or landing exactly on q,
// defers to the in-order neighbour.
func (t *Tree) successor(q uint64, cyclic bool) int {
	for cur := t.root; cur != nilSlot; {
		n := &t.nodes[cur]
		switch {
		case q > n.key:
			if n.right == nilSlot {
				return t.next(cur, cyclic)
			}
			cur = n.right
		case q == n.key:
			return t.next(cur, cyclic)
		default:
			if n.left == nilSlot {
				return cur
			}
			cur = n.left
		}
	}
	return nilSlot
}

// next returns the in-order neighbour of id: the minimum of its right
// subtree, else the nearest ancestor reached from a left child. Past the
// maximum it wraps to the minimum only when cyclic is set.
func (t *Tree) next(id int, cyclic bool) int {
	if r := t.nodes[id].right; r != nilSlot {
		return t.min(r)
	}
	cur := id
	for p := t.nodes[cur].parent; p != nilSlot; p = t.nodes[cur].parent {
		if t.nodes[p].left == cur {
			return p
		}
		cur = p
	}
	if cyclic {
		return t.min(t.root)
	}
	return nilSlot
}

func (t *Tree) min(id int) int {
	for t.nodes[id].left != nilSlot {
		id = t.nodes[id].left
	}
	return id
}

func (t *Tree) max(id int) int {
	for t.nodes[id].right != nilSlot {
		id = t.nodes[id].right
	}
	return id
}

func (t *Tree) view(id int) Node {
	n := &t.nodes[id]
	return Node{ID: id, Key: n.key, Owners: slices.Clone(n.owners)}
}

func (t *Tree) alloc(key uint64, owner string, parent int) int {
	n := treeNode{
		key:    key,
		owners: []string{owner},
		left:   nilSlot,
		right:  nilSlot,
		parent: parent,
	}
	t.live++
	if k := len(t.free); k > 0 {
		id := t.free[k-1]
		t.free = t.free[:k-1]
		t.nodes[id] = n
		return id
	}
	t.nodes = append(t.nodes, n)
	return len(t.nodes) - 1
}

func (t *Tree) release(id int) {
	t.nodes[id] = treeNode{left: nilSlot, right: nilSlot, parent: nilSlot}
	t.free = append(t.free, id)
	t.live--
}

func (t *Tree) track(owner string, id int) {
	slots, ok := t.index[owner]
	if !ok {
		slots = make(map[int]struct{})
		t.index[owner] = slots
	}
	slots[id] = struct{}{}
}

func lowestSlot(slots map[int]struct{}) int {
	low := nilSlot
	for id := range slots {
		if low == nilSlot || id < low {
			low = id
		}
	}
	return low
}
