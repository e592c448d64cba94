// Package ring implements the hash ring used to place keys on shards.
//
// # Overview
//
// The ring is the circular hash space [0, M). Owners (shard identifiers)
// occupy positions on it, and a key belongs to the first position at or
// after its own hash, wrapping past the largest position back to the
// smallest one.
//
// Instead of the usual sorted slice, the positions are kept in a binary
// search tree keyed by the reduced hash value:
//
//	              ┌────────────┐
//	              │ 4411 [s3]  │
//	              └─────┬──────┘
//	         ┌──────────┴──────────┐
//	   ┌─────┴─────┐         ┌─────┴──────┐
//	   │ 1290 [s1] │         │ 8802 [s2]  │
//	   └───────────┘         └─────┬──────┘
//	                         ┌─────┴──────┐
//	                         │ 7001 [s1]  │
//	                         └────────────┘
//
// Each tree node carries a bucket: every owner inserted with exactly that
// hash, in insertion order. The first owner of a bucket wins lookups.
//
// # Implementations
//
// Tree is the plain, unbalanced tree. Nodes live in an arena and refer to
// each other by slot number, and an owner index maps each owner to the slots
// holding it so removal only touches that owner's nodes. The tree is never
// rebalanced and degrades to a list under sorted insertion order.
//
// Balanced keeps the same contract on top of an AVL tree for callers that
// need logarithmic bounds. Both satisfy the Ring interface and return the
// same lookup results for the same insertion history.
//
// # Serialization
//
// A ring is persisted as its insertion log, a JSON array of [owner, key]
// pairs, and rebuilt by replaying the log through Insert. The rebuilt tree
// may have a different shape but answers every lookup identically.
//
// # Concurrency
//
// Neither implementation is safe for concurrent use. Removal relinks nodes
// in several steps, so callers sharing a ring must hold a write lock around
// Insert and Remove and at least a read lock around lookups.
package ring
