package cache

import (
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultShardCount is the fixed ring size from spec §4.4.
const DefaultShardCount = 8

// ShardedCache routes every operation to one of N independent shards by
// hash(url) mod N, so clients working on disjoint URLs contend on
// independent mutexes (spec §4.4, §5).
type ShardedCache struct {
	shards []*Shard
	clock  Clock
}

// New builds a ShardedCache with shardCount shards, each budgeted
// shardBudgetBytes. shardCount <= 0 defaults to DefaultShardCount.
func New(shardCount int, shardBudgetBytes int64, clock Clock) *ShardedCache {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	if clock == nil {
		clock = SystemClock{}
	}
	shards := make([]*Shard, shardCount)
	for i := range shards {
		shards[i] = NewShard(shardBudgetBytes, clock)
	}
	return &ShardedCache{shards: shards, clock: clock}
}

// shardFor routes a URL key to its owning shard.
func (c *ShardedCache) shardFor(url string) *Shard {
	h := xxhash.Sum64String(url)
	return c.shards[h%uint64(len(c.shards))]
}

// ShardIndex exposes which shard a URL would route to (observability/metrics only).
func (c *ShardedCache) ShardIndex(url string) int {
	h := xxhash.Sum64String(url)
	return int(h % uint64(len(c.shards)))
}

func (c *ShardedCache) Insert(url string, entry *CacheEntry) {
	c.shardFor(url).Insert(url, entry)
}

func (c *ShardedCache) Lookup(url string) (CacheStatus, *CacheEntry) {
	return c.shardFor(url).Lookup(url)
}

func (c *ShardedCache) Remove(url string) {
	c.shardFor(url).Remove(url)
}

// ReapExpired sweeps every shard for entries that have expired by now.
func (c *ShardedCache) ReapExpired(now time.Time) {
	for _, s := range c.shards {
		s.ReapExpired(now)
	}
}

// ShardCount returns the number of shards in the ring.
func (c *ShardedCache) ShardCount() int { return len(c.shards) }

// Stats aggregates CacheStats across every shard, in the teacher's
// CacheStats idiom.
func (c *ShardedCache) Stats() CacheStats {
	var total CacheStats
	for _, s := range c.shards {
		st := s.Stats()
		total.Entries += st.Entries
		total.Hits += st.Hits
		total.Misses += st.Misses
		total.Stores += st.Stores
		total.Evictions += st.Evictions
	}
	return total
}

// ShardStats returns the per-shard breakdown, used by metrics collection.
func (c *ShardedCache) ShardStats() []CacheStats {
	out := make([]CacheStats, len(c.shards))
	for i, s := range c.shards {
		out[i] = s.Stats()
	}
	return out
}

// ShardBytesUsed returns the per-shard byte totals, used by metrics collection.
func (c *ShardedCache) ShardBytesUsed() []int64 {
	out := make([]int64, len(c.shards))
	for i, s := range c.shards {
		out[i] = s.BytesUsed()
	}
	return out
}
