package decision

import (
	"net/http"
	"testing"
	"time"

	"github.com/yyxff/httpproxy-cache/internal/cache"
	"github.com/yyxff/httpproxy-cache/internal/httpcc"
)

func validEntry(now time.Time, ttl time.Duration) *cache.CacheEntry {
	return cache.NewEntry("HTTP/1.1 200 OK", http.Header{}, nil, cache.Metadata{
		Cacheable: true,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
}

func TestDecideMissGoesDirect(t *testing.T) {
	now := time.Now()
	got := Decide(httpcc.Parse(""), cache.NotInCache, nil, now)
	if got != Direct {
		t.Fatalf("expected DIRECT on miss, got %v", got)
	}
}

func TestDecideNoStoreAlwaysDirect(t *testing.T) {
	now := time.Now()
	entry := validEntry(now, time.Hour)
	got := Decide(httpcc.Parse("no-store"), cache.InCacheValid, entry, now)
	if got != Direct {
		t.Fatalf("expected DIRECT with no-store, got %v", got)
	}
}

func TestDecideNoCacheAlwaysRevalidates(t *testing.T) {
	now := time.Now()
	entry := validEntry(now, time.Hour)
	got := Decide(httpcc.Parse("no-cache"), cache.InCacheValid, entry, now)
	if got != Revalidate {
		t.Fatalf("expected REVALIDATE with no-cache, got %v", got)
	}
}

func TestDecideOnlyIfCachedHitReturnsCache(t *testing.T) {
	now := time.Now()
	entry := validEntry(now, time.Hour)
	got := Decide(httpcc.Parse("only-if-cached"), cache.InCacheValid, entry, now)
	if got != ReturnCache {
		t.Fatalf("expected RETURN_CACHE, got %v", got)
	}
}

func TestDecideOnlyIfCachedMissReturns504(t *testing.T) {
	now := time.Now()
	got := Decide(httpcc.Parse("only-if-cached"), cache.NotInCache, nil, now)
	if got != Return504 {
		t.Fatalf("expected RETURN_504, got %v", got)
	}
}

func TestDecidePlainValidHitReturnsCache(t *testing.T) {
	now := time.Now()
	entry := validEntry(now, time.Hour)
	got := Decide(httpcc.Parse(""), cache.InCacheValid, entry, now)
	if got != ReturnCache {
		t.Fatalf("expected RETURN_CACHE, got %v", got)
	}
}

func TestDecideNeedsValidationRevalidates(t *testing.T) {
	now := time.Now()
	entry := validEntry(now, time.Hour)
	got := Decide(httpcc.Parse(""), cache.InCacheNeedsValidation, entry, now)
	if got != Revalidate {
		t.Fatalf("expected REVALIDATE, got %v", got)
	}
}

func TestDecideExpiredGoesDirect(t *testing.T) {
	now := time.Now()
	entry := validEntry(now, -time.Minute)
	got := Decide(httpcc.Parse(""), cache.InCacheExpired, entry, now)
	if got != Direct {
		t.Fatalf("expected DIRECT on expired entry, got %v", got)
	}
}

func TestDecideMaxAgeWithinBoundReturnsCache(t *testing.T) {
	now := time.Now()
	entry := validEntry(now.Add(-10*time.Second), time.Hour) // age = 10s
	got := Decide(httpcc.Parse("max-age=30"), cache.InCacheValid, entry, now)
	if got != ReturnCache {
		t.Fatalf("expected RETURN_CACHE when age <= max-age, got %v", got)
	}
}

func TestDecideMaxAgeExceededGoesDirect(t *testing.T) {
	now := time.Now()
	entry := validEntry(now.Add(-60*time.Second), time.Hour) // age = 60s
	got := Decide(httpcc.Parse("max-age=30"), cache.InCacheValid, entry, now)
	if got != Direct {
		t.Fatalf("expected DIRECT when age exceeds max-age with no max-stale, got %v", got)
	}
}

func TestDecideMaxAgeExceededWithMaxStaleReturnsCache(t *testing.T) {
	now := time.Now()
	entry := validEntry(now.Add(-60*time.Second), time.Hour) // age = 60s
	got := Decide(httpcc.Parse("max-age=30, max-stale=120"), cache.InCacheValid, entry, now)
	if got != ReturnCache {
		t.Fatalf("expected RETURN_CACHE within max-stale tolerance, got %v", got)
	}
}

func TestDecideMinFreshSatisfiedReturnsCache(t *testing.T) {
	now := time.Now()
	entry := validEntry(now, time.Hour) // time-to-expiry ~1h
	got := Decide(httpcc.Parse("min-fresh=10"), cache.InCacheValid, entry, now)
	if got != ReturnCache {
		t.Fatalf("expected RETURN_CACHE, got %v", got)
	}
}

func TestDecideMinFreshUnsatisfiedRevalidates(t *testing.T) {
	now := time.Now()
	entry := validEntry(now, 5*time.Second)
	got := Decide(httpcc.Parse("min-fresh=30"), cache.InCacheValid, entry, now)
	if got != Revalidate {
		t.Fatalf("expected REVALIDATE when min-fresh unsatisfied, got %v", got)
	}
}

func TestDecideMaxStaleBareAcceptsAnyStaleness(t *testing.T) {
	now := time.Now()
	entry := validEntry(now, -time.Hour) // already well expired
	got := Decide(httpcc.Parse("max-stale"), cache.InCacheValid, entry, now)
	if got != ReturnCache {
		t.Fatalf("expected RETURN_CACHE, bare max-stale accepts any staleness, got %v", got)
	}
}

func TestDecideNoTransformOnCachedEntry(t *testing.T) {
	now := time.Now()
	got := Decide(httpcc.Parse("no-transform"), cache.InCacheValid, validEntry(now, 0), now)
	// max-age/min-fresh/max-stale are all absent, so no-transform's own row fires.
	if got != NoTransform {
		t.Fatalf("expected NO_TRANSFORM, got %v", got)
	}
}

func TestDecideIsPureGivenIdenticalInputs(t *testing.T) {
	now := time.Now()
	entry := validEntry(now, time.Hour)
	cc := httpcc.Parse("max-age=30")
	first := Decide(cc, cache.InCacheValid, entry, now)
	second := Decide(cc, cache.InCacheValid, entry, now)
	if first != second {
		t.Fatalf("Decide must be pure: got %v then %v for identical inputs", first, second)
	}
}
