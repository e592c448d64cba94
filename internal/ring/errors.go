package ring

import "errors"

var (
	// ErrEmptyRing is returned when a lookup is made on a ring with no nodes.
	ErrEmptyRing = errors.New("ring: no owners available")

	// ErrMalformed is returned when serialized ring data is not an array of
	// [owner, key] pairs.
	ErrMalformed = errors.New("ring: malformed serialized ring")

	// ErrUnresolvedDeletion is returned when a node with two children has no
	// in-order successor above it. This cannot happen while the ordering
	// invariant holds.
	ErrUnresolvedDeletion = errors.New("ring: two-child node without successor")

	// ErrCorrupt is returned by Validate when the tree breaks one of its
	// structural invariants.
	ErrCorrupt = errors.New("ring: corrupt tree")
)
