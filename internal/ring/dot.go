package ring

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WriteDot writes the tree as a Graphviz digraph. Nodes are numbered in
// pre-order from 1 and labelled "[owners]:key". A node with a single child
// gets a point-shaped placeholder for the missing side so left and right stay
// distinguishable.
func (t *Tree) WriteDot(w io.Writer) error {
	var nodes, edges []string
	seq := 0

	var visit func(id int) int
	visit = func(id int) int {
		seq++
		self := seq
		n := &t.nodes[id]
		label := fmt.Sprintf("[%s]:%d", strings.Join(n.owners, " "), n.key)
		nodes = append(nodes, fmt.Sprintf("n%d [label=%q]", self, label))

		left, right := 0, 0
		if n.left != nilSlot {
			left = visit(n.left)
		}
		if n.right != nilSlot {
			right = visit(n.right)
		}

		switch {
		case left != 0:
			edges = append(edges, fmt.Sprintf("n%d -> n%d", self, left))
		case right != 0:
			edges = append(edges,
				fmt.Sprintf("null%dL [shape=point]", self),
				fmt.Sprintf("n%d -> null%dL", self, self))
		}
		switch {
		case right != 0:
			edges = append(edges, fmt.Sprintf("n%d -> n%d", self, right))
		case left != 0:
			edges = append(edges,
				fmt.Sprintf("null%dR [shape=point]", self),
				fmt.Sprintf("n%d -> null%dR", self, self))
		}
		return self
	}
	if t.root != nilSlot {
		visit(t.root)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph G {")
	fmt.Fprintln(bw, " graph[ordering=out];")
	for _, line := range nodes {
		fmt.Fprintf(bw, " %s;\n", line)
	}
	for _, line := range edges {
		fmt.Fprintf(bw, " %s;\n", line)
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
