// Package dispatcher implements the revalidation/origin dispatcher and the
// CONNECT tunnel of spec §4.6: given a Decision it produces the bytes to
// return to the client, merging origin responses into the sharded cache.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/yyxff/httpproxy-cache/internal/cache"
	"github.com/yyxff/httpproxy-cache/internal/decision"
	"github.com/yyxff/httpproxy-cache/internal/httpcc"
	"github.com/yyxff/httpproxy-cache/internal/metrics"
)

// hopHeaders lists hop-by-hop headers stripped before forwarding in either
// direction (RFC 7230 §6.1), the teacher's hopHeaders list.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// Outcome is what a Dispatch call hands back to the connection handler.
type Outcome struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Decision   decision.Decision
	CacheKey   string
}

// Dispatcher owns the sharded cache, the clock, and the transport used to
// talk to origins. One Dispatcher is shared by every connection handler.
type Dispatcher struct {
	Cache          *cache.ShardedCache
	Clock          cache.Clock
	Transport      *http.Transport
	DefaultTTL     time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Resilience     *ResilienceConfig
}

// New builds a Dispatcher with the teacher's http.Transport dial/idle/
// handshake timeouts generalized to the spec's connect/read timeout knobs.
func New(shardedCache *cache.ShardedCache, clock cache.Clock, connectTimeout, readTimeout, defaultTTL time.Duration) *Dispatcher {
	if clock == nil {
		clock = cache.SystemClock{}
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
	}
	return &Dispatcher{
		Cache:          shardedCache,
		Clock:          clock,
		Transport:      transport,
		DefaultTTL:     defaultTTL,
		ConnectTimeout: connectTimeout,
		ReadTimeout:    readTimeout,
	}
}

// CacheKey is the absolute request target string as received: case-sensitive,
// unnormalized (spec §3). Go's request reader already populates req.URL in
// full for absolute-form proxy requests, so its string form is exactly that.
func CacheKey(req *http.Request) string {
	return req.URL.String()
}

// Decide runs the lookup + pure decision engine for a GET request, without
// performing any I/O.
func (d *Dispatcher) Decide(req *http.Request) (decision.Decision, cache.CacheStatus, *cache.CacheEntry, string) {
	key := CacheKey(req)
	status, entry := d.Cache.Lookup(key)
	cc := httpcc.Parse(req.Header.Get("Cache-Control"))
	now := d.Clock.Now()
	return decision.Decide(cc, status, entry, now), status, entry, key
}

// DispatchGET drives the state machine of spec §4.6 for one GET request.
func (d *Dispatcher) DispatchGET(ctx context.Context, req *http.Request) (*Outcome, error) {
	dec, _, entry, key := d.Decide(req)

	switch dec {
	case decision.ReturnCache:
		return entryOutcome(entry, decision.ReturnCache, key), nil
	case decision.Return504:
		return &Outcome{StatusCode: http.StatusGatewayTimeout, Header: http.Header{}, Decision: decision.Return504, CacheKey: key}, ErrOnlyIfCachedMiss
	case decision.Return304:
		return &Outcome{StatusCode: http.StatusNotModified, Header: http.Header{}, Decision: decision.Return304, CacheKey: key}, nil
	case decision.Revalidate:
		return d.revalidate(ctx, req, entry, key)
	case decision.Direct, decision.NoTransform:
		return d.direct(ctx, req, dec, key, true)
	default:
		return d.direct(ctx, req, decision.Direct, key, true)
	}
}

// DispatchPOST always goes DIRECT: POST is never consulted against or stored
// in the cache (spec §4.6).
func (d *Dispatcher) DispatchPOST(ctx context.Context, req *http.Request) (*Outcome, error) {
	return d.direct(ctx, req, decision.Direct, CacheKey(req), false)
}

func entryOutcome(entry *cache.CacheEntry, dec decision.Decision, key string) *Outcome {
	header := entry.ResponseHeaders.Clone()
	return &Outcome{
		StatusCode: statusFromLine(entry.ResponseLine),
		Header:     header,
		Body:       entry.ResponseBody,
		Decision:   dec,
		CacheKey:   key,
	}
}

func statusFromLine(line string) int {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return http.StatusOK
	}
	code := 0
	for _, c := range parts[1] {
		if c < '0' || c > '9' {
			return http.StatusOK
		}
		code = code*10 + int(c-'0')
	}
	if code == 0 {
		return http.StatusOK
	}
	return code
}

// direct opens a connection to origin, forwards the request, and — if
// mayCache and the response is cacheable — inserts a fresh entry.
func (d *Dispatcher) direct(ctx context.Context, req *http.Request, dec decision.Decision, key string, mayCache bool) (*Outcome, error) {
	outbound := d.buildOutbound(ctx, req)

	resp, body, err := d.roundTrip(outbound)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	header := sanitizeHeaders(resp.Header)
	if mayCache {
		meta := cache.ExtractFreshness(resp.StatusCode, resp.Header, d.Clock.Now(), d.DefaultTTL)
		if meta.Cacheable {
			entry := cache.NewEntry(statusLine(resp), header.Clone(), body, meta)
			d.Cache.Insert(key, entry)
		}
	}

	return &Outcome{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
		Decision:   dec,
		CacheKey:   key,
	}, nil
}

// revalidate issues a conditional GET when a validator is available,
// otherwise falls through to a full DIRECT fetch (spec §4.6).
func (d *Dispatcher) revalidate(ctx context.Context, req *http.Request, entry *cache.CacheEntry, key string) (*Outcome, error) {
	if entry == nil || entry.ETag == "" {
		return d.direct(ctx, req, decision.Direct, key, true)
	}

	outbound := d.buildOutbound(ctx, req)
	outbound.Header.Set("If-None-Match", `"`+entry.ETag+`"`)

	resp, body, err := d.roundTrip(outbound)
	if err != nil {
		d.Cache.Remove(key)
		return nil, classifyTransportError(err)
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		now := d.Clock.Now()
		refreshed := cache.ExtractFreshness(http.StatusOK, resp.Header, now, d.DefaultTTL)
		expiresAt := refreshed.ExpiresAt
		if _, hasMaxAge := httpcc.Parse(resp.Header.Get("Cache-Control")).Value("max-age"); !hasMaxAge && resp.Header.Get("Expires") == "" {
			expiresAt = entry.ExpiresAt
		}
		updated := &cache.CacheEntry{
			ResponseLine:    entry.ResponseLine,
			ResponseHeaders: entry.ResponseHeaders,
			ResponseBody:    entry.ResponseBody,
			CreatedAt:       entry.CreatedAt,
			ExpiresAt:       expiresAt,
			ETag:            entry.ETag,
			LastModified:    entry.LastModified,
			MustRevalidate:  refreshed.MustRevalidate,
		}
		d.Cache.Insert(key, updated)
		return entryOutcome(updated, decision.Revalidate, key), nil

	case http.StatusOK:
		header := sanitizeHeaders(resp.Header)
		meta := cache.ExtractFreshness(resp.StatusCode, resp.Header, d.Clock.Now(), d.DefaultTTL)
		if meta.Cacheable {
			newEntry := cache.NewEntry(statusLine(resp), header.Clone(), body, meta)
			d.Cache.Insert(key, newEntry)
		} else {
			d.Cache.Remove(key)
		}
		return &Outcome{StatusCode: resp.StatusCode, Header: header, Body: body, Decision: decision.Revalidate, CacheKey: key}, nil

	default:
		d.Cache.Remove(key)
		header := sanitizeHeaders(resp.Header)
		return &Outcome{StatusCode: resp.StatusCode, Header: header, Body: body, Decision: decision.Revalidate, CacheKey: key}, nil
	}
}

// buildOutbound clones the client request for the origin leg: strips
// hop-by-hop headers, sets Host and Connection: close (spec §4.6 DIRECT).
func (d *Dispatcher) buildOutbound(ctx context.Context, req *http.Request) *http.Request {
	outbound := req.Clone(ctx)
	outbound.RequestURI = ""
	for _, h := range hopHeaders {
		outbound.Header.Del(h)
	}
	outbound.Header.Set("Host", outbound.URL.Host)
	outbound.Close = true
	return outbound
}

func (d *Dispatcher) roundTrip(req *http.Request) (*http.Response, []byte, error) {
	start := d.Clock.Now()
	resp, err := roundTripWithResilience(d.Resilience, func() (*http.Response, error) {
		return d.Transport.RoundTrip(req)
	})
	if err != nil {
		metrics.OriginRequestObserve(req.Method, "error", d.Clock.Now().Sub(start))
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		metrics.OriginRequestObserve(req.Method, "error", d.Clock.Now().Sub(start))
		return nil, nil, fmt.Errorf("%w: %v", ErrOriginProtocol, err)
	}
	metrics.OriginRequestObserve(req.Method, "ok", d.Clock.Now().Sub(start))
	return resp, body, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrOriginConnect, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrOriginResolution, err)
	}
	if errors.Is(err, ErrOriginProtocol) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrOriginTransport, err)
}

func statusLine(resp *http.Response) string {
	proto := resp.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	status := resp.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return proto + " " + status
}

// sanitizeHeaders returns a copy of headers without hop-by-hop headers.
func sanitizeHeaders(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for k, vv := range header {
		out[k] = append([]string(nil), vv...)
	}
	for _, h := range hopHeaders {
		out.Del(h)
	}
	return out
}
