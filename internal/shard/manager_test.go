package shard

import (
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/dreamware/shardring/internal/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// urls returns the synthetic keys used throughout these tests.
func urls(n int) []string {
	keys := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		keys = append(keys, fmt.Sprintf("http://%d/URL", i))
	}
	return keys
}

// newPopulated returns a manager holding shards "1".."n-1".
func newPopulated(t *testing.T, n int, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(opts...)
	for i := 1; i < n; i++ {
		m.AddShard(strconv.Itoa(i))
	}
	return m
}

// assignments records the shard of every key.
func assignments(t *testing.T, m *Manager, keys []string) map[string]string {
	t.Helper()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		s, err := m.LocateShard(k)
		require.NoError(t, err)
		out[k] = s
	}
	return out
}

// TestNewManager verifies defaults and options.
func TestNewManager(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		replicas int
		modulus  uint64
	}{
		{name: "defaults", replicas: DefaultReplicas, modulus: ring.DefaultModulus},
		{name: "custom replicas", opts: []Option{WithReplicas(16)}, replicas: 16, modulus: ring.DefaultModulus},
		{name: "zero replicas ignored", opts: []Option{WithReplicas(0)}, replicas: DefaultReplicas, modulus: ring.DefaultModulus},
		{name: "custom modulus", opts: []Option{WithModulus(1 << 20)}, replicas: DefaultReplicas, modulus: 1 << 20},
		{name: "balanced ring", opts: []Option{WithBalancedRing()}, replicas: DefaultReplicas, modulus: ring.DefaultModulus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.opts...)

			assert.Equal(t, tt.replicas, m.Replicas())
			assert.Equal(t, tt.modulus, m.Ring().Modulus())
			assert.Equal(t, 0, m.Len())
			assert.Empty(t, m.Shards())
		})
	}

	_, ok := NewManager(WithBalancedRing()).Ring().(*ring.Balanced)
	assert.True(t, ok, "WithBalancedRing selects the AVL ring")
	_, ok = NewManager().Ring().(*ring.Tree)
	assert.True(t, ok, "the plain tree is the default")
}

// TestLocateShardEmpty verifies lookups fail cleanly without shards.
func TestLocateShardEmpty(t *testing.T) {
	m := NewManager()

	_, err := m.LocateShard("http://5/URL")
	assert.ErrorIs(t, err, ring.ErrEmptyRing)

	_, err = m.LocateShards("http://5/URL", 3)
	assert.ErrorIs(t, err, ring.ErrEmptyRing)

	_, err = m.Distribution([]string{"a"})
	assert.ErrorIs(t, err, ring.ErrEmptyRing)
}

// TestAddShard verifies each shard contributes K virtual nodes.
func TestAddShard(t *testing.T) {
	m := newPopulated(t, 20)

	assert.Equal(t, 19*DefaultReplicas, m.Len())
	assert.Len(t, m.Shards(), 19)
	assert.Contains(t, m.Shards(), "7")

	// Virtual keys are deterministic across managers
	other := newPopulated(t, 20)
	assert.Equal(t, m.Ring().Entries(), other.Ring().Entries())
}

// TestConcreteScenario follows one key through add and remove of shard 20.
func TestConcreteScenario(t *testing.T) {
	m := newPopulated(t, 20)
	key := "http://5/URL"

	before, err := m.LocateShard(key)
	require.NoError(t, err)
	n, err := strconv.Atoi(before)
	require.NoError(t, err)
	assert.True(t, n >= 1 && n <= 19, "owner %s drawn from 1..19", before)

	m.AddShard("20")
	during, err := m.LocateShard(key)
	require.NoError(t, err)
	assert.Contains(t, []string{before, "20"}, during)

	require.NoError(t, m.RemoveShard("20"))
	after, err := m.LocateShard(key)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// TestRemovalRestoresAssignment verifies adding then removing a shard leaves
// every key exactly where it was.
func TestRemovalRestoresAssignment(t *testing.T) {
	for _, balanced := range []bool{false, true} {
		t.Run(fmt.Sprintf("balanced=%v", balanced), func(t *testing.T) {
			var opts []Option
			if balanced {
				opts = append(opts, WithBalancedRing())
			}
			m := newPopulated(t, 20, opts...)
			keys := urls(10000)
			before := assignments(t, m, keys)

			m.AddShard("a_new_shard")
			during := assignments(t, m, keys)
			for _, k := range keys {
				if during[k] != before[k] {
					assert.Equal(t, "a_new_shard", during[k], "key %s moved to an old shard", k)
				}
			}

			require.NoError(t, m.RemoveShard("a_new_shard"))
			assert.Equal(t, before, assignments(t, m, keys))
			assert.Equal(t, 19*DefaultReplicas, m.Len())
			assert.NotContains(t, m.Shards(), "a_new_shard")
		})
	}
}

// TestBoundedDisruption verifies a new shard takes roughly its fair share
// of keys. With 19 shards already present the expectation is 1/20.
func TestBoundedDisruption(t *testing.T) {
	const replicas = 64
	m := newPopulated(t, 20, WithReplicas(replicas))
	keys := urls(20000)
	before := assignments(t, m, keys)

	m.AddShard("20")
	moved := 0
	for k, s := range assignments(t, m, keys) {
		if s != before[k] {
			moved++
		}
	}

	fraction := float64(moved) / float64(len(keys))
	expected := float64(replicas) / float64(19*replicas+replicas)
	t.Logf("moved %.4f of keys, expected about %.4f", fraction, expected)
	assert.Greater(t, fraction, expected*0.4)
	assert.Less(t, fraction, expected*2)
}

// TestSnapshotRestore verifies a restored manager assigns identically.
func TestSnapshotRestore(t *testing.T) {
	m := newPopulated(t, 20)
	m.AddShard("extra")
	require.NoError(t, m.RemoveShard("3"))
	keys := urls(2000)

	data, err := m.Snapshot()
	require.NoError(t, err)

	for _, balanced := range []bool{false, true} {
		var opts []Option
		if balanced {
			opts = append(opts, WithBalancedRing())
		}
		restored := NewManager(opts...)
		require.NoError(t, restored.Restore(data))

		assert.Equal(t, m.Shards(), restored.Shards())
		assert.Equal(t, m.Len(), restored.Len())
		assert.Equal(t, assignments(t, m, keys), assignments(t, restored, keys), "balanced=%v", balanced)
	}
}

// TestRestoreMalformed verifies a bad snapshot leaves the ring untouched.
func TestRestoreMalformed(t *testing.T) {
	m := newPopulated(t, 5)
	before := m.Shards()

	err := m.Restore([]byte(`[["1",12],["2"]]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ring.ErrMalformed)

	assert.Equal(t, before, m.Shards())
	assert.Equal(t, 4*DefaultReplicas, m.Len())
	assert.Equal(t, uint64(0), m.Stats().Ops.Restores)
}

// TestLocateShards verifies the preference list is distinct, ordered and
// led by the primary owner.
func TestLocateShards(t *testing.T) {
	m := newPopulated(t, 6)

	for _, key := range urls(50) {
		primary, err := m.LocateShard(key)
		require.NoError(t, err)

		prefs, err := m.LocateShards(key, 3)
		require.NoError(t, err)
		require.Len(t, prefs, 3)
		assert.Equal(t, primary, prefs[0])

		seen := make(map[string]bool)
		for _, s := range prefs {
			assert.False(t, seen[s], "duplicate %s in %v", s, prefs)
			seen[s] = true
		}
	}

	// Asking for more shards than exist returns all of them
	prefs, err := m.LocateShards("k", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, m.Shards(), prefs)

	prefs, err = m.LocateShards("k", 0)
	require.NoError(t, err)
	assert.Empty(t, prefs)
}

// TestDistribution verifies every key is counted exactly once.
func TestDistribution(t *testing.T) {
	m := newPopulated(t, 20, WithReplicas(32))
	keys := urls(5000)

	counts, err := m.Distribution(keys)
	require.NoError(t, err)
	assert.Len(t, counts, 19)

	total := 0
	for id, c := range counts {
		total += c
		assert.Greater(t, c, 0, "shard %s owns no keys", id)
	}
	assert.Equal(t, len(keys), total)
}

// TestDuplicateAddShard verifies a repeated add duplicates bucket entries and
// a single removal clears all of them.
func TestDuplicateAddShard(t *testing.T) {
	m := NewManager()
	m.AddShard("a")
	m.AddShard("a")

	assert.Equal(t, DefaultReplicas, m.Len())
	assert.Len(t, m.Ring().Entries(), 2*DefaultReplicas)

	require.NoError(t, m.RemoveShard("a"))
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.Ring().Entries())
}

// TestCustomHasher verifies the injected hash drives placement.
func TestCustomHasher(t *testing.T) {
	constant := func([]byte) uint64 { return 42 }
	m := NewManager(WithHasher(constant), WithReplicas(3))
	m.AddShard("first")
	m.AddShard("second")

	// Every virtual node collides on 42, so the first shard wins everything
	assert.Equal(t, 1, m.Len())
	s, err := m.LocateShard("anything")
	require.NoError(t, err)
	assert.Equal(t, "first", s)

	require.NoError(t, m.RemoveShard("first"))
	s, err = m.LocateShard("anything")
	require.NoError(t, err)
	assert.Equal(t, "second", s)
}

// TestLocateShardExactHit verifies a key hashing exactly onto a virtual node
// belongs to the next position up, and that it wraps past the maximum.
func TestLocateShardExactHit(t *testing.T) {
	positions := map[string]uint64{
		"0:A:0": 100,
		"0:B:0": 200,
		"onA":   100,
		"onB":   200,
		"below": 150,
	}
	hasher := func(data []byte) uint64 { return positions[string(data)] }

	for _, balanced := range []bool{false, true} {
		t.Run(fmt.Sprintf("balanced=%v", balanced), func(t *testing.T) {
			opts := []Option{WithHasher(hasher), WithReplicas(1)}
			if balanced {
				opts = append(opts, WithBalancedRing())
			}
			m := NewManager(opts...)
			m.AddShard("A")
			m.AddShard("B")

			tests := []struct {
				key  string
				want string
			}{
				{key: "onA", want: "B"},
				{key: "onB", want: "A"},
				{key: "below", want: "B"},
			}
			for _, tt := range tests {
				got, err := m.LocateShard(tt.key)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got, "key %s", tt.key)
			}

			prefs, err := m.LocateShards("onA", 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"B", "A"}, prefs)

			counts, err := m.Distribution([]string{"onA", "onB", "below"})
			require.NoError(t, err)
			assert.Equal(t, map[string]int{"A": 1, "B": 2}, counts)
		})
	}
}

// TestStats verifies operation counters.
func TestStats(t *testing.T) {
	m := NewManager()
	m.AddShard("a")
	m.AddShard("b")
	require.NoError(t, m.RemoveShard("a"))
	_, err := m.LocateShard("k")
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, uint64(2), stats.Ops.Adds)
	assert.Equal(t, uint64(1), stats.Ops.Removes)
	assert.Equal(t, uint64(1), stats.Ops.Locates)
	assert.Equal(t, 1, stats.Shards)
	assert.Equal(t, DefaultReplicas, stats.VirtualNodes)
}

// TestConcurrentAccess exercises readers alongside writers. Run with -race.
func TestConcurrentAccess(t *testing.T) {
	m := newPopulated(t, 10)
	keys := urls(200)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("extra-%d", w)
			for i := 0; i < 20; i++ {
				m.AddShard(id)
				assert.NoError(t, m.RemoveShard(id))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, k := range keys {
				_, err := m.LocateShard(k)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 9*DefaultReplicas, m.Len())
}
