package ring

import "github.com/cespare/xxhash/v2"

// DefaultModulus is the size of the hash space used when none is configured.
const DefaultModulus uint64 = 10000009

// Hasher maps arbitrary bytes to an integer position. It must return the same
// value for the same input across processes, otherwise a serialized ring no
// longer agrees with freshly computed keys.
type Hasher func(data []byte) uint64

// XXHash is the default Hasher.
func XXHash(data []byte) uint64 {
	return xxhash.Sum64(data)
}
