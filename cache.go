package golem

import (
	"container/list"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultCacheSize is the default number of query results kept by a
// caching solver.
const DefaultCacheSize = 4096

// SolverStats counts queries through a caching solver.
type SolverStats struct {
	Queries uint64
	Hits    uint64
}

// HitRate returns the fraction of queries answered from cache.
func (s SolverStats) HitRate() float64 {
	if s.Queries == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Queries)
}

// CachingSolver memoizes the results of an underlying solver, keyed by a
// content hash of the constraint set and input list. The constraint hash
// is order-insensitive so permuted but equal conjunct sets share an
// entry. Entries live in an LRU list bounded by capacity; unknown
// verdicts are never cached.
type CachingSolver struct {
	solver   Solver
	capacity int

	mu      sync.Mutex
	lru     *list.List
	entries map[uint64]*list.Element
	stats   SolverStats
}

type cacheEntry struct {
	key     uint64
	verdict Verdict
	values  []uint64
}

// NewCachingSolver returns a caching wrapper around solver. A capacity of
// zero or less selects DefaultCacheSize.
func NewCachingSolver(solver Solver, capacity int) *CachingSolver {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &CachingSolver{
		solver:   solver,
		capacity: capacity,
		lru:      list.New(),
		entries:  make(map[uint64]*list.Element),
	}
}

// Solve implements Solver.
func (c *CachingSolver) Solve(constraints []Expr, inputs []*InputExpr) (Verdict, []uint64, error) {
	key := hashQuery(constraints, inputs)

	c.mu.Lock()
	c.stats.Queries++
	if elem, ok := c.entries[key]; ok {
		c.stats.Hits++
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		verdict, values := entry.verdict, entry.values
		c.mu.Unlock()
		if values != nil {
			values = append([]uint64(nil), values...)
		}
		return verdict, values, nil
	}
	c.mu.Unlock()

	verdict, values, err := c.solver.Solve(constraints, inputs)
	if err != nil || verdict == VerdictUnknown {
		return verdict, values, err
	}

	// Keep a private copy so later caller mutation cannot corrupt the entry.
	var stored []uint64
	if values != nil {
		stored = append([]uint64(nil), values...)
	}

	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).verdict = verdict
		elem.Value.(*cacheEntry).values = stored
	} else {
		c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, verdict: verdict, values: stored})
		if c.lru.Len() > c.capacity {
			back := c.lru.Back()
			c.lru.Remove(back)
			delete(c.entries, back.Value.(*cacheEntry).key)
		}
	}
	c.mu.Unlock()

	return verdict, values, nil
}

// Stats returns a snapshot of the query counters.
func (c *CachingSolver) Stats() SolverStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len returns the number of cached entries.
func (c *CachingSolver) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// hashQuery returns a content hash of a query. Conjunct hashes are sorted
// before they are combined so constraint order does not split entries.
func hashQuery(constraints []Expr, inputs []*InputExpr) uint64 {
	hashes := make([]uint64, 0, len(constraints))
	for _, expr := range constraints {
		h := xxhash.New()
		h.WriteString(expr.String())
		hashes = append(hashes, h.Sum64())
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })

	h := xxhash.New()
	var buf [8]byte
	for _, v := range hashes {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	binary.BigEndian.PutUint64(buf[:], uint64(len(inputs)))
	h.Write(buf[:])
	for _, input := range inputs {
		h.WriteString(input.String())
	}
	return h.Sum64()
}
