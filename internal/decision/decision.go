// Package decision implements the pure cache-decision engine of spec §4.5:
// a function of request Cache-Control directives and a cache lookup result,
// with no I/O and no clock reads beyond what the caller supplies via "now".
package decision

import (
	"strconv"
	"time"

	"github.com/yyxff/httpproxy-cache/internal/cache"
	"github.com/yyxff/httpproxy-cache/internal/httpcc"
)

// Decision is the engine's verdict, driving the dispatcher's state machine.
type Decision int

const (
	Direct Decision = iota
	Revalidate
	ReturnCache
	Return504
	Return304
	NoTransform
)

func (d Decision) String() string {
	switch d {
	case Direct:
		return "DIRECT"
	case Revalidate:
		return "REVALIDATE"
	case ReturnCache:
		return "RETURN_CACHE"
	case Return504:
		return "RETURN_504"
	case Return304:
		return "RETURN_304"
	case NoTransform:
		return "NO_TRANSFORM"
	default:
		return "UNKNOWN"
	}
}

// Decide evaluates the decision table of spec §4.5 top-to-bottom; the first
// matching row wins. It reads no clock itself — entry.Age/TimeToExpiry/
// StaleTime are computed by the caller-supplied now, so identical inputs
// always produce an identical Decision (spec §8 invariant 4).
func Decide(cc httpcc.Directives, status cache.CacheStatus, entry *cache.CacheEntry, now time.Time) Decision {
	if status == cache.NotInCache {
		if cc.Has("only-if-cached") {
			return Return504
		}
		return Direct
	}
	if cc.Has("no-store") {
		return Direct
	}
	if cc.Has("no-cache") {
		return Revalidate
	}
	if cc.Has("only-if-cached") {
		if status == cache.InCacheValid {
			return ReturnCache
		}
		return Return504
	}
	if raw, ok := cc.Value("max-age"); ok {
		if delta, err := strconv.Atoi(raw); err == nil {
			return decideMaxAge(cc, entry, now, delta)
		}
	}
	if raw, ok := cc.Value("min-fresh"); ok {
		if delta, err := strconv.Atoi(raw); err == nil {
			return decideMinFresh(entry, now, delta)
		}
	}
	if cc.Has("max-stale") {
		raw, hasValue := cc.Value("max-stale")
		if !hasValue {
			return ReturnCache
		}
		if delta, err := strconv.Atoi(raw); err == nil {
			return decideMaxStale(entry, now, delta)
		}
		return ReturnCache
	}
	if cc.Has("no-transform") {
		return NoTransform
	}
	if status == cache.InCacheValid && cc.Empty() {
		return ReturnCache
	}
	if status == cache.InCacheNeedsValidation {
		return Revalidate
	}
	if status == cache.InCacheExpired {
		return Direct
	}
	return Direct
}

func decideMaxAge(cc httpcc.Directives, entry *cache.CacheEntry, now time.Time, delta int) Decision {
	maxAge := time.Duration(delta) * time.Second
	if entry.Age(now) <= maxAge {
		if raw, ok := cc.Value("min-fresh"); ok {
			if mf, err := strconv.Atoi(raw); err == nil {
				return decideMinFresh(entry, now, mf)
			}
		}
		return ReturnCache
	}
	if cc.Has("max-stale") {
		raw, hasValue := cc.Value("max-stale")
		if !hasValue {
			return ReturnCache
		}
		if ms, err := strconv.Atoi(raw); err == nil {
			return decideMaxStale(entry, now, ms)
		}
		return ReturnCache
	}
	return Direct
}

func decideMinFresh(entry *cache.CacheEntry, now time.Time, delta int) Decision {
	if entry.TimeToExpiry(now) > time.Duration(delta)*time.Second {
		return ReturnCache
	}
	return Revalidate
}

func decideMaxStale(entry *cache.CacheEntry, now time.Time, delta int) Decision {
	if entry.StaleTime(now) <= time.Duration(delta)*time.Second {
		return ReturnCache
	}
	return Revalidate
}
