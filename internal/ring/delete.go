package ring

import "fmt"

// removeNode unlinks the node at id, whose bucket has just become empty.
//
// A node with two children takes over the key and bucket of its in-order
// successor, which has at most one child and is removed in its place. A node
// with one child is replaced by that child. A leaf is cut from its parent.
func (t *Tree) removeNode(id int) error {
	n := t.nodes[id]

	if n.left != nilSlot && n.right != nilSlot {
		s := t.next(id, false)
		if s == nilSlot || t.nodes[s].key <= n.key {
			return fmt.Errorf("%w: node %d at key %d", ErrUnresolvedDeletion, id, n.key)
		}
		t.moveBucket(s, id)
		return t.removeNode(s)
	}

	child := n.left
	if child == nilSlot {
		child = n.right
	}
	t.replace(id, child)
	t.release(id)
	return nil
}

// replace puts child where id hangs under its parent. child may be nilSlot.
func (t *Tree) replace(id, child int) {
	p := t.nodes[id].parent
	if child != nilSlot {
		t.nodes[child].parent = p
	}
	switch {
	case p == nilSlot:
		t.root = child
	case t.nodes[p].left == id:
		t.nodes[p].left = child
	default:
		t.nodes[p].right = child
	}
}

// moveBucket copies the key and bucket of from into to and repoints the
// owner index. from is left with an empty bucket.
func (t *Tree) moveBucket(from, to int) {
	src := &t.nodes[from]
	for _, o := range src.owners {
		slots := t.index[o]
		delete(slots, from)
		slots[to] = struct{}{}
	}
	t.nodes[to].key = src.key
	t.nodes[to].owners = src.owners
	src.owners = nil
}
