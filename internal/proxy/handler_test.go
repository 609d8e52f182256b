package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yyxff/httpproxy-cache/internal/cache"
	"github.com/yyxff/httpproxy-cache/internal/dispatcher"
)

func newTestHandler() *Handler {
	clock := cache.NewManualClock(time.Now())
	d := dispatcher.New(cache.New(2, 1<<20, clock), clock, time.Second, time.Second, time.Hour)
	return New(d)
}

func proxyRecorderRequest(method, rawURL string) (*http.Request, *httptest.ResponseRecorder) {
	u, _ := url.Parse(rawURL)
	req := httptest.NewRequest(method, rawURL, nil)
	req.URL = u
	return req, httptest.NewRecorder()
}

func TestHandlerRejectsDisallowedMethod(t *testing.T) {
	h := newTestHandler()
	h.SetAllowedMethods([]string{"GET", "POST"})

	req, rec := proxyRecorderRequest(http.MethodDelete, "http://example.com/x")
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec.Header().Get("Allow") == "" {
		t.Fatal("expected Allow header on 405 response")
	}
}

func TestHandlerRejectsRelativeFormRequest(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/just-a-path", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for relative-form target, got %d", rec.Code)
	}
}

func TestHandlerGETServesFromOriginThenCache(t *testing.T) {
	var hits int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.Write([]byte("payload"))
	}))
	defer origin.Close()

	h := newTestHandler()

	req1, rec1 := proxyRecorderRequest(http.MethodGet, origin.URL+"/x")
	h.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK || rec1.Body.String() != "payload" {
		t.Fatalf("unexpected first response: %d %q", rec1.Code, rec1.Body.String())
	}
	if rec1.Header().Get("X-Cache-Decision") != "DIRECT" {
		t.Fatalf("expected DIRECT decision header, got %q", rec1.Header().Get("X-Cache-Decision"))
	}

	req2, rec2 := proxyRecorderRequest(http.MethodGet, origin.URL+"/x")
	h.ServeHTTP(rec2, req2)
	if rec2.Header().Get("X-Cache-Decision") != "RETURN_CACHE" {
		t.Fatalf("expected RETURN_CACHE decision header, got %q", rec2.Header().Get("X-Cache-Decision"))
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected exactly one origin hit, got %d", hits)
	}
}

func TestHandlerPOSTAlwaysReachesOrigin(t *testing.T) {
	var hits int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.Write([]byte("created"))
	}))
	defer origin.Close()

	h := newTestHandler()

	for i := 0; i < 2; i++ {
		req, rec := proxyRecorderRequest(http.MethodPost, origin.URL+"/items")
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected both POSTs to reach origin, got %d", hits)
	}
}
