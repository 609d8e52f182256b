package cache

import (
	"net/http"
	"testing"
	"time"
)

func TestExtractFreshnessMaxAgeWins(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	header := http.Header{}
	header.Set("Cache-Control", "public, max-age=30")
	header.Set("Expires", now.Add(time.Hour).Format(http.TimeFormat))

	meta := ExtractFreshness(http.StatusOK, header, now, time.Hour)

	if !meta.Cacheable {
		t.Fatal("expected cacheable response")
	}
	if got := meta.ExpiresAt.Sub(now); got != 30*time.Second {
		t.Fatalf("expected max-age=30 to win over Expires, got %s", got)
	}
}

func TestExtractFreshnessNoStoreNotCacheable(t *testing.T) {
	now := time.Now()
	header := http.Header{}
	header.Set("Cache-Control", "no-store")

	meta := ExtractFreshness(http.StatusOK, header, now, time.Hour)
	if meta.Cacheable {
		t.Fatal("no-store response must not be cacheable")
	}
}

func TestExtractFreshnessNon200NotCacheable(t *testing.T) {
	now := time.Now()
	meta := ExtractFreshness(http.StatusNotFound, http.Header{}, now, time.Hour)
	if meta.Cacheable {
		t.Fatal("non-200 response must not be cacheable")
	}
}

func TestExtractFreshnessDefaultTTLFallback(t *testing.T) {
	now := time.Now()
	meta := ExtractFreshness(http.StatusOK, http.Header{}, now, 45*time.Minute)
	if !meta.Cacheable {
		t.Fatal("expected cacheable response")
	}
	if got := meta.ExpiresAt.Sub(now); got != 45*time.Minute {
		t.Fatalf("expected default TTL fallback, got %s", got)
	}
}

func TestExtractFreshnessETagStrippedOfQuotes(t *testing.T) {
	now := time.Now()
	header := http.Header{}
	header.Set("ETag", `"abc123"`)
	meta := ExtractFreshness(http.StatusOK, header, now, time.Hour)
	if meta.ETag != "abc123" {
		t.Fatalf("expected unquoted etag, got %q", meta.ETag)
	}
}

func TestExtractFreshnessMustRevalidate(t *testing.T) {
	now := time.Now()
	header := http.Header{}
	header.Set("Cache-Control", "must-revalidate, max-age=60")
	meta := ExtractFreshness(http.StatusOK, header, now, time.Hour)
	if !meta.MustRevalidate {
		t.Fatal("expected must-revalidate to be recorded")
	}
}

func TestExtractFreshnessExpiresInPastClampsToNow(t *testing.T) {
	now := time.Now()
	header := http.Header{}
	header.Set("Expires", now.Add(-time.Hour).Format(http.TimeFormat))
	meta := ExtractFreshness(http.StatusOK, header, now, time.Hour)
	if meta.ExpiresAt.After(now) {
		t.Fatalf("expired Expires header must clamp to now, got %s", meta.ExpiresAt)
	}
}
