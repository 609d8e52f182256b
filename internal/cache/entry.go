package cache

import (
	"net/http"
	"time"
)

// CacheEntry is an immutable-after-construction record of one stored
// response plus its freshness metadata (spec §3). Nothing mutates an entry
// in place; updates replace it wholesale via Shard.Insert.
type CacheEntry struct {
	ResponseLine    string
	ResponseHeaders http.Header
	ResponseBody    []byte

	CreatedAt      time.Time
	ExpiresAt      time.Time
	ETag           string
	LastModified   time.Time // zero value means "unknown"
	MustRevalidate bool
}

// NewEntry builds an entry from a response-parsing pipeline result.
func NewEntry(responseLine string, headers http.Header, body []byte, meta Metadata) *CacheEntry {
	return &CacheEntry{
		ResponseLine:    responseLine,
		ResponseHeaders: headers,
		ResponseBody:    body,
		CreatedAt:       meta.CreatedAt,
		ExpiresAt:       meta.ExpiresAt,
		ETag:            meta.ETag,
		LastModified:    meta.LastModified,
		MustRevalidate:  meta.MustRevalidate,
	}
}

// Size is the byte footprint charged against a shard's budget: status line +
// header block + body (spec §3 invariant on summed entry sizes).
func (e *CacheEntry) Size() int64 {
	headerSize := 0
	for name, values := range e.ResponseHeaders {
		for _, v := range values {
			headerSize += len(name) + len(v) + 4 // ": " + CRLF
		}
	}
	return int64(len(e.ResponseLine) + headerSize + len(e.ResponseBody))
}

// Age is the time elapsed since CreatedAt, clamped to a minimum of zero.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	age := now.Sub(e.CreatedAt)
	if age < 0 {
		return 0
	}
	return age
}

// TimeToExpiry may be negative once the entry has expired.
func (e *CacheEntry) TimeToExpiry(now time.Time) time.Duration {
	return e.ExpiresAt.Sub(now)
}

// StaleTime is max(0, -time_to_expiry).
func (e *CacheEntry) StaleTime(now time.Time) time.Duration {
	d := -e.TimeToExpiry(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsFresh holds iff now < expires_at.
func (e *CacheEntry) IsFresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Serialize renders the entry back into raw HTTP/1.1 response bytes:
// status line + CRLF + header block + CRLF + CRLF + body (spec §4.6 RETURN_CACHE).
func (e *CacheEntry) Serialize() []byte {
	buf := make([]byte, 0, len(e.ResponseLine)+2+int(e.Size())+4)
	buf = append(buf, e.ResponseLine...)
	buf = append(buf, '\r', '\n')
	for name, values := range e.ResponseHeaders {
		for _, v := range values {
			buf = append(buf, name...)
			buf = append(buf, ':', ' ')
			buf = append(buf, v...)
			buf = append(buf, '\r', '\n')
		}
	}
	buf = append(buf, '\r', '\n')
	buf = append(buf, e.ResponseBody...)
	return buf
}
