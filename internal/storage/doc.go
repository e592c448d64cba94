// Package storage provides the per-shard key stores that sit behind a shard
// ring, and the rebalancing step that moves keys after the ring changes.
//
// # Overview
//
// Each shard owns one Store. When a shard joins or leaves the ring some keys
// change owner; Rebalance walks every store, asks a Locator where each key
// belongs now, and moves the keys that are in the wrong place:
//
//	      before                     after AddShard("x")
//	┌────────┐ ┌────────┐      ┌────────┐ ┌────────┐ ┌────────┐
//	│ shard1 │ │ shard2 │      │ shard1 │ │ shard2 │ │   x    │
//	│ a b c  │ │ d e    │ ───► │ a c    │ │ e      │ │ b d    │
//	└────────┘ └────────┘      └────────┘ └────────┘ └────────┘
//
// With consistent hashing only the keys claimed by the new shard move, so
// the count Rebalance returns measures the disruption caused by a change.
//
// # Implementations
//
// MemoryStore keeps values in a map guarded by a sync.RWMutex. Values are
// copied on Put and Get so callers never share a buffer with the store.
//
// # Usage Example
//
//	stores := map[string]storage.Store{
//		"1": storage.NewMemoryStore(),
//		"2": storage.NewMemoryStore(),
//	}
//	mgr.AddShard("3")
//	stores["3"] = storage.NewMemoryStore()
//	moved, err := storage.Rebalance(stores, mgr.LocateShard, nil)
//
// Removing a shard works the other way round: take it off the ring first,
// rebalance so its keys drain into the remaining stores, then drop its store.
package storage
