package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yyxff/httpproxy-cache/internal/httpcc"
)

// DefaultDefaultTTL is applied to a cacheable response that carries neither
// max-age nor a usable Expires header (spec rule 4: "implementers MUST make
// this default configurable; tests assume one hour").
const DefaultDefaultTTL = time.Hour

// unknownLastModified is the sentinel used when Last-Modified is absent or unparsable.
var unknownLastModified = time.Time{}

// Metadata is the prospective freshness record extracted from one response's
// headers. It feeds directly into a CacheEntry on insertion.
type Metadata struct {
	Cacheable      bool
	CreatedAt      time.Time
	ExpiresAt      time.Time
	ETag           string
	LastModified   time.Time // zero value means "unknown"
	MustRevalidate bool
}

// ExtractFreshness runs the response-parsing pipeline of spec §4.2 against a
// status code and header block, relative to now, falling back to defaultTTL
// when neither max-age nor Expires yields a freshness hint.
func ExtractFreshness(status int, header http.Header, now time.Time, defaultTTL time.Duration) Metadata {
	if defaultTTL <= 0 {
		defaultTTL = DefaultDefaultTTL
	}

	cc := httpcc.Parse(header.Get("Cache-Control"))

	meta := Metadata{
		CreatedAt:    now,
		LastModified: unknownLastModified,
	}

	// 1. Cacheability gate.
	if status != http.StatusOK || cc.Has("no-store") || cc.Has("private") {
		meta.Cacheable = false
		meta.ExpiresAt = now
		return meta
	}
	meta.Cacheable = true

	// Extractions that apply regardless of which expiry rule fires.
	if etag := strings.TrimSpace(header.Get("ETag")); etag != "" {
		meta.ETag = strings.Trim(etag, `"`)
	}
	if lm := strings.TrimSpace(header.Get("Last-Modified")); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			meta.LastModified = t
		}
	}
	meta.MustRevalidate = cc.Has("must-revalidate") || cc.Has("no-cache")

	// 2. Cache-Control: max-age=Δ (first non-negative integer wins).
	if raw, ok := cc.Value("max-age"); ok {
		if delta, err := strconv.Atoi(raw); err == nil && delta >= 0 {
			meta.ExpiresAt = now.Add(time.Duration(delta) * time.Second)
			return meta
		}
	}

	// 3. Expires: <HTTP-date>.
	if raw := strings.TrimSpace(header.Get("Expires")); raw != "" {
		if t, err := http.ParseTime(raw); err == nil {
			if t.After(now) {
				meta.ExpiresAt = t
			} else {
				meta.ExpiresAt = now
			}
			return meta
		}
	}

	// 4. Default TTL.
	meta.ExpiresAt = now.Add(defaultTTL)
	return meta
}
