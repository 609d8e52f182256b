package dispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yyxff/httpproxy-cache/internal/cache"
	"github.com/yyxff/httpproxy-cache/internal/decision"
)

func newTestDispatcher(clock cache.Clock) *Dispatcher {
	return New(cache.New(4, 1<<20, clock), clock, time.Second, time.Second, time.Hour)
}

func proxyRequest(t *testing.T, method, rawURL string) *http.Request {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	req := httptest.NewRequest(method, rawURL, nil)
	req.URL = u
	req.RequestURI = rawURL
	return req
}

func TestDispatchGETCachesDirectResponse(t *testing.T) {
	var hits int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.Write([]byte("hello"))
	}))
	defer origin.Close()

	clock := cache.NewManualClock(time.Now())
	d := newTestDispatcher(clock)

	req := proxyRequest(t, http.MethodGet, origin.URL+"/thing")
	out, err := d.DispatchGET(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Decision != decision.Direct {
		t.Fatalf("expected DIRECT on first fetch, got %v", out.Decision)
	}
	if string(out.Body) != "hello" {
		t.Fatalf("unexpected body %q", out.Body)
	}

	// Second request should be served from cache without hitting origin again.
	out2, err := d.DispatchGET(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out2.Decision != decision.ReturnCache {
		t.Fatalf("expected RETURN_CACHE on second fetch, got %v", out2.Decision)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected exactly one origin hit, got %d", hits)
	}
}

func TestDispatchGETRevalidates304ServesCachedBody(t *testing.T) {
	var calls int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("ETag", `"v1"`)
			w.Header().Set("Cache-Control", "must-revalidate, max-age=1")
			w.Write([]byte("body-v1"))
			return
		}
		if r.Header.Get("If-None-Match") != `"v1"` {
			t.Errorf("expected conditional GET with If-None-Match, got %q", r.Header.Get("If-None-Match"))
		}
		w.Header().Set("Cache-Control", "must-revalidate, max-age=60")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer origin.Close()

	clock := cache.NewManualClock(time.Now())
	d := newTestDispatcher(clock)

	req := proxyRequest(t, http.MethodGet, origin.URL+"/thing")
	first, err := d.DispatchGET(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Decision != decision.Direct {
		t.Fatalf("expected DIRECT on first fetch, got %v", first.Decision)
	}

	second, err := d.DispatchGET(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Decision != decision.Revalidate {
		t.Fatalf("expected REVALIDATE on a must-revalidate entry, got %v", second.Decision)
	}
	if string(second.Body) != "body-v1" {
		t.Fatalf("expected cached body to survive a 304, got %q", second.Body)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly two origin calls, got %d", calls)
	}
}

func TestDispatchGETOnlyIfCachedMissReturns504(t *testing.T) {
	clock := cache.NewManualClock(time.Now())
	d := newTestDispatcher(clock)

	req := proxyRequest(t, http.MethodGet, "http://example.invalid/never-fetched")
	req.Header.Set("Cache-Control", "only-if-cached")

	out, err := d.DispatchGET(context.Background(), req)
	if err == nil {
		t.Fatal("expected an error for only-if-cached miss")
	}
	if out.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", out.StatusCode)
	}
}

func TestDispatchPOSTNeverConsultsOrStoresCache(t *testing.T) {
	var hits int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.Write([]byte("posted"))
	}))
	defer origin.Close()

	clock := cache.NewManualClock(time.Now())
	d := newTestDispatcher(clock)

	req := proxyRequest(t, http.MethodPost, origin.URL+"/thing")
	if _, err := d.DispatchPOST(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := d.DispatchPOST(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected every POST to reach origin, got %d hits", hits)
	}

	status, _ := d.Cache.Lookup(CacheKey(req))
	if status != cache.NotInCache {
		t.Fatal("POST responses must never populate the cache")
	}
}
