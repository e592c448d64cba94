// Package shard places keys on a changing set of shards using the hash ring
// from package ring.
//
// # Overview
//
// A Manager owns one ring. Every shard contributes K virtual nodes, each a
// deterministic hash of the shard identifier and the replica index, so a
// shard's share of the key space is spread over K arcs instead of one:
//
//	AddShard("s7")  ──►  K × ring.Insert("s7", hash("x:s7:x") mod M)
//	LocateShard(k)  ──►  ring.Successor(hash(k), cyclic) ──► bucket[0]
//	RemoveShard(s7) ──►  ring.Remove("s7")
//
// Adding a shard to a ring holding N*K virtual nodes moves roughly
// K/(N*K+K) of the keys, all of them onto the new shard. Removing it again
// restores the previous assignment of every key exactly.
//
// # Virtual Node Keys
//
// Replica i of shard id is placed at hash("x:id:x") mod M with x = 37*i*i.
// The derivation only has to be stable and well spread; it is fixed so that
// snapshots written by one process stay valid in another.
//
// # Concurrency Model
//
// The ring itself is single-threaded. Manager serializes access with an
// RWMutex:
//   - LocateShard, LocateShards, Shards, Snapshot and Distribution take the
//     read lock and may run in parallel
//   - AddShard, RemoveShard and Restore take the write lock, since removal
//     relinks tree nodes in several steps
//
// # Snapshots
//
// Snapshot returns the ring's insertion log as JSON. Restore replays such a
// log into a fresh ring and swaps it in only when the whole log parsed, so a
// malformed snapshot leaves the manager untouched.
//
// # Usage Example
//
//	m := shard.NewManager(shard.WithReplicas(4))
//	for i := 1; i < 20; i++ {
//	    m.AddShard(strconv.Itoa(i))
//	}
//
//	owner, err := m.LocateShard("http://5/URL")
//	if err != nil {
//	    log.Printf("no shards: %v", err)
//	}
//
//	data, _ := m.Snapshot()
//	restored := shard.NewManager(shard.WithReplicas(4))
//	_ = restored.Restore(data)
package shard
