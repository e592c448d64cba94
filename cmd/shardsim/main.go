// Command shardsim spreads synthetic URLs over a set of shards, adds and
// removes one extra shard, and reports how many URLs changed owner.
//
// Configuration comes from flags, each defaulting to an environment variable:
//
//	-shards    SHARDSIM_SHARDS    shards present before the extra one (19)
//	-replicas  SHARDSIM_REPLICAS  virtual nodes per shard (4)
//	-urls      SHARDSIM_URLS      number of synthetic URLs (10000)
//	-balanced  SHARDSIM_BALANCED  use the AVL-backed ring
//	-baseline  SHARDSIM_BASELINE  repeat the run on stathat.com/c/consistent
//	-dot       SHARDSIM_DOT       write the final tree as Graphviz to this path
package main

import (
	"bytes"
	"cmp"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dreamware/shardring/internal/ring"
	"github.com/dreamware/shardring/internal/shard"
	"github.com/dreamware/shardring/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"stathat.com/c/consistent"
)

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = logrus.Fatalf

// newShardID is the identifier of the shard added and removed mid-run.
const newShardID = "a_new_shard"

type config struct {
	shards   int
	replicas int
	urls     int
	balanced bool
	baseline bool
	dotPath  string
}

// report holds the outcome of one simulation.
type report struct {
	Keys                 int
	UnchangedWithNew     int
	UnchangedAfterRemove int
	MovedOnAdd           int // Keys rebalanced into the new shard's store
	MovedOnRemove        int // Keys drained back out of it
	Population           map[string]int
	RoundTripMismatches  int
	Baseline             *baselineReport
}

// baselineReport is the same experiment on the sorted-slice ring from
// stathat.com/c/consistent.
type baselineReport struct {
	UnchangedWithNew     int
	UnchangedAfterRemove int
}

func main() {
	cfg := config{}
	flag.IntVar(&cfg.shards, "shards", getenvInt("SHARDSIM_SHARDS", 19), "number of initial shards")
	flag.IntVar(&cfg.replicas, "replicas", getenvInt("SHARDSIM_REPLICAS", shard.DefaultReplicas), "virtual nodes per shard")
	flag.IntVar(&cfg.urls, "urls", getenvInt("SHARDSIM_URLS", 10000), "number of synthetic URLs")
	flag.BoolVar(&cfg.balanced, "balanced", getenvBool("SHARDSIM_BALANCED", false), "use the AVL-backed ring")
	flag.BoolVar(&cfg.baseline, "baseline", getenvBool("SHARDSIM_BASELINE", false), "compare against stathat consistent hashing")
	flag.StringVar(&cfg.dotPath, "dot", getenv("SHARDSIM_DOT", ""), "write the tree as Graphviz to this file")
	flag.Parse()

	if _, err := run(cfg, os.Stdout); err != nil {
		logFatal("shardsim: %v", err)
	}
}

// run performs the simulation and prints a summary to out.
func run(cfg config, out io.Writer) (*report, error) {
	if cfg.shards <= 0 || cfg.urls <= 0 {
		return nil, errors.New("shards and urls must be positive")
	}
	logEntry := logrus.WithFields(logrus.Fields{
		"func_name": "run",
		"shards":    cfg.shards,
		"replicas":  cfg.replicas,
	})

	opts := []shard.Option{shard.WithReplicas(cfg.replicas), shard.WithLogger(logEntry)}
	if cfg.balanced {
		opts = append(opts, shard.WithBalancedRing())
	}
	m := shard.NewManager(opts...)
	for _, id := range shardIDs(cfg.shards) {
		m.AddShard(id)
	}

	urls := make([]string, 0, cfg.urls)
	for i := 1; i <= cfg.urls; i++ {
		urls = append(urls, fmt.Sprintf("http://%d/URL", i))
	}

	before, err := assign(m.LocateShard, urls)
	if err != nil {
		return nil, err
	}

	rep := &report{Keys: len(urls)}

	stores, err := fillStores(before)
	if err != nil {
		return nil, err
	}

	m.AddShard(newShardID)
	if rep.UnchangedWithNew, err = unchanged(m.LocateShard, urls, before); err != nil {
		return nil, err
	}
	logEntry.Infof("WITH NEW NODE %d %d", len(urls), rep.UnchangedWithNew)
	stores[newShardID] = storage.NewMemoryStore()
	if rep.MovedOnAdd, err = storage.Rebalance(stores, m.LocateShard, logEntry); err != nil {
		return nil, err
	}

	if err := m.RemoveShard(newShardID); err != nil {
		return nil, err
	}
	if rep.UnchangedAfterRemove, err = unchanged(m.LocateShard, urls, before); err != nil {
		return nil, err
	}
	logEntry.Infof("WITHOUT NEW NODE %d %d", len(urls), rep.UnchangedAfterRemove)
	if rep.MovedOnRemove, err = storage.Rebalance(stores, m.LocateShard, logEntry); err != nil {
		return nil, err
	}
	if left := stores[newShardID].Stats().Keys; left != 0 {
		return nil, fmt.Errorf("%d keys left on removed shard %s", left, newShardID)
	}
	delete(stores, newShardID)

	if rep.Population, err = m.Distribution(urls); err != nil {
		return nil, err
	}

	data, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	restored := shard.NewManager(shard.WithReplicas(cfg.replicas), shard.WithLogger(logEntry))
	if err := restored.Restore(data); err != nil {
		return nil, err
	}
	if rep.RoundTripMismatches, err = unchanged(restored.LocateShard, urls, before); err != nil {
		return nil, err
	}
	rep.RoundTripMismatches = len(urls) - rep.RoundTripMismatches

	if cfg.baseline {
		if rep.Baseline, err = runBaseline(cfg, urls); err != nil {
			return nil, err
		}
	}

	if cfg.dotPath != "" {
		if err := writeDot(m, cfg.dotPath); err != nil {
			return nil, err
		}
		logEntry.Infof("tree written to %s", cfg.dotPath)
	}

	printReport(out, rep)
	return rep, nil
}

// runBaseline repeats the add/remove experiment on stathat's ring.
func runBaseline(cfg config, urls []string) (*baselineReport, error) {
	c := consistent.New()
	c.NumberOfReplicas = cfg.replicas
	for _, id := range shardIDs(cfg.shards) {
		c.Add(id)
	}

	before, err := assign(c.Get, urls)
	if err != nil {
		return nil, err
	}
	rep := &baselineReport{}

	c.Add(newShardID)
	if rep.UnchangedWithNew, err = unchanged(c.Get, urls, before); err != nil {
		return nil, err
	}
	c.Remove(newShardID)
	if rep.UnchangedAfterRemove, err = unchanged(c.Get, urls, before); err != nil {
		return nil, err
	}
	return rep, nil
}

func writeDot(m *shard.Manager, path string) error {
	tree, ok := m.Ring().(*ring.Tree)
	if !ok {
		return errors.New("graphviz output needs the plain tree ring")
	}
	var buf bytes.Buffer
	if err := tree.WriteDot(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func printReport(w io.Writer, rep *report) {
	fmt.Fprintf(w, "keys:                    %d\n", rep.Keys)
	fmt.Fprintf(w, "unchanged with new:      %d\n", rep.UnchangedWithNew)
	fmt.Fprintf(w, "unchanged after removal: %d\n", rep.UnchangedAfterRemove)
	fmt.Fprintf(w, "moved on add:            %d\n", rep.MovedOnAdd)
	fmt.Fprintf(w, "moved on removal:        %d\n", rep.MovedOnRemove)
	fmt.Fprintf(w, "round-trip mismatches:   %d\n", rep.RoundTripMismatches)
	if rep.Baseline != nil {
		fmt.Fprintf(w, "baseline unchanged with new:      %d\n", rep.Baseline.UnchangedWithNew)
		fmt.Fprintf(w, "baseline unchanged after removal: %d\n", rep.Baseline.UnchangedAfterRemove)
	}

	ids := make([]string, 0, len(rep.Population))
	for id := range rep.Population {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareShardIDs)
	fmt.Fprintln(w, "population:")
	for _, id := range ids {
		fmt.Fprintf(w, "  %-6s %d\n", id, rep.Population[id])
	}
}

// compareShardIDs orders numeric ids by value ahead of all other ids, which
// sort lexically. Numeric ids of equal value fall back to string order.
func compareShardIDs(a, b string) int {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		if c := cmp.Compare(ai, bi); c != 0 {
			return c
		}
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	return cmp.Compare(a, b)
}

func shardIDs(n int) []string {
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		ids = append(ids, strconv.Itoa(i))
	}
	return ids
}

// fillStores creates one store per shard and puts every URL in the store of
// the shard it is assigned to.
func fillStores(assigned map[string]string) (map[string]storage.Store, error) {
	stores := make(map[string]storage.Store)
	for u, id := range assigned {
		st, ok := stores[id]
		if !ok {
			st = storage.NewMemoryStore()
			stores[id] = st
		}
		if err := st.Put(u, []byte(u)); err != nil {
			return nil, err
		}
	}
	return stores, nil
}

func assign(locate func(string) (string, error), urls []string) (map[string]string, error) {
	out := make(map[string]string, len(urls))
	for _, u := range urls {
		s, err := locate(u)
		if err != nil {
			return nil, err
		}
		out[u] = s
	}
	return out, nil
}

func unchanged(locate func(string) (string, error), urls []string, before map[string]string) (int, error) {
	same := 0
	for _, u := range urls {
		s, err := locate(u)
		if err != nil {
			return 0, err
		}
		if s == before[u] {
			same++
		}
	}
	return same, nil
}

// getenv returns the environment variable k, or def when it is unset or
// empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvInt is getenv for integers. An unparsable value is fatal.
func getenvInt(k string, def int) int {
	v := getenv(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logFatal("invalid %s=%q: %v", k, v, err)
		return def
	}
	return n
}

// getenvBool is getenv for booleans. An unparsable value is fatal.
func getenvBool(k string, def bool) bool {
	v := getenv(k, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logFatal("invalid %s=%q: %v", k, v, err)
		return def
	}
	return b
}
