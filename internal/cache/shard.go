package cache

import (
	"sync"
	"time"
)

// CacheStatus is the outcome of a shard lookup, evaluated against "now"
// (spec §4.3).
type CacheStatus int

const (
	NotInCache CacheStatus = iota
	InCacheValid
	InCacheExpired
	InCacheNeedsValidation
)

func (s CacheStatus) String() string {
	switch s {
	case NotInCache:
		return "NOT_IN_CACHE"
	case InCacheValid:
		return "IN_CACHE_VALID"
	case InCacheExpired:
		return "IN_CACHE_EXPIRED"
	case InCacheNeedsValidation:
		return "IN_CACHE_NEEDS_VALIDATION"
	default:
		return "UNKNOWN"
	}
}

// CacheStats tracks basic per-shard counters, in the teacher's CacheStats idiom.
type CacheStats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Stores    uint64
	Evictions uint64
}

// Shard holds one partition of the URL space: a map guarded by one mutex,
// plus a running byte total checked against a fixed budget (spec §4.3).
type Shard struct {
	mu        sync.Mutex
	entries   map[string]*CacheEntry
	bytesUsed int64
	budget    int64
	clock     Clock
	stats     CacheStats
}

// NewShard builds an empty shard with the given byte budget.
func NewShard(budget int64, clock Clock) *Shard {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Shard{
		entries: make(map[string]*CacheEntry),
		budget:  budget,
		clock:   clock,
	}
}

// Insert stores entry under url, evicting earliest-deadline-first entries
// until there is room. An entry larger than the shard's budget is a no-op
// (spec §7 CacheOversize: "silently skip caching").
func (s *Shard) Insert(url string, entry *CacheEntry) {
	size := entry.Size()
	if size > s.budget {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[url]; ok {
		s.bytesUsed -= existing.Size()
		delete(s.entries, url)
	}

	for s.bytesUsed+size > s.budget && len(s.entries) > 0 {
		s.evictOneLocked()
	}

	s.entries[url] = entry
	s.bytesUsed += size
	s.stats.Stores++
	s.stats.Entries = len(s.entries)
}

// evictOneLocked removes the entry with the smallest ExpiresAt, the
// cheapest-to-discard entry since it is already closest to uselessness.
// Ties break on the lexicographically smaller URL for determinism.
func (s *Shard) evictOneLocked() {
	var victimURL string
	var victim *CacheEntry
	for url, e := range s.entries {
		if victim == nil ||
			e.ExpiresAt.Before(victim.ExpiresAt) ||
			(e.ExpiresAt.Equal(victim.ExpiresAt) && url < victimURL) {
			victim = e
			victimURL = url
		}
	}
	if victim == nil {
		return
	}
	s.bytesUsed -= victim.Size()
	delete(s.entries, victimURL)
	s.stats.Evictions++
}

// Lookup reports a CacheStatus for url against the shard's clock and, when
// present, returns a handle to the entry. The handle is safe to read after
// the shard's mutex is released: the map never mutates an entry in place,
// only replaces the map slot wholesale (spec §4.3 "Handle contract").
func (s *Shard) Lookup(url string) (CacheStatus, *CacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[url]
	if !ok {
		s.stats.Misses++
		return NotInCache, nil
	}

	now := s.clock.Now()
	switch {
	case !now.Before(entry.ExpiresAt):
		return InCacheExpired, entry
	case entry.MustRevalidate:
		return InCacheNeedsValidation, entry
	default:
		s.stats.Hits++
		return InCacheValid, entry
	}
}

// Remove drops url from the shard, if present.
func (s *Shard) Remove(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[url]; ok {
		s.bytesUsed -= existing.Size()
		delete(s.entries, url)
		s.stats.Entries = len(s.entries)
	}
}

// ReapExpired scans the shard and removes every entry whose ExpiresAt has
// passed relative to now.
func (s *Shard) ReapExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for url, e := range s.entries {
		if !now.Before(e.ExpiresAt) {
			s.bytesUsed -= e.Size()
			delete(s.entries, url)
		}
	}
	s.stats.Entries = len(s.entries)
}

// Stats returns a snapshot of this shard's counters.
func (s *Shard) Stats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// BytesUsed reports the shard's current byte total (test/observability helper).
func (s *Shard) BytesUsed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesUsed
}
