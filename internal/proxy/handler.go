// Package proxy is the connection-handler boundary of spec §7: it owns the
// http.Handler that net/http's accept loop drives, and is where dispatcher
// errors get turned into status codes and log lines (the CONNECT tunnel
// writes its own 500/502 reply before the hijack). Everything
// below it (cache, decision, dispatcher) is pure or I/O-isolated and knows
// nothing about http.ResponseWriter.
package proxy

import (
	"net/http"
	"time"

	applog "github.com/yyxff/httpproxy-cache/internal/log"
	imetrics "github.com/yyxff/httpproxy-cache/internal/metrics"

	"github.com/yyxff/httpproxy-cache/internal/dispatcher"
)

// Handler is the forward-proxy http.Handler. One Handler per listener,
// shared across every connection (spec §6: independent per-connection
// state, shared read-mostly structures).
type Handler struct {
	Dispatcher     *dispatcher.Dispatcher
	allowedMethods map[string]struct{}
	ConnectIdle    time.Duration
}

// New builds a Handler bound to a Dispatcher. GET goes through the cache
// decision pipeline, POST always goes DIRECT, CONNECT opens a tunnel, and
// anything else is rejected per the configured method allowlist.
func New(d *dispatcher.Dispatcher) *Handler {
	return &Handler{Dispatcher: d, ConnectIdle: 5 * time.Second}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	start := time.Now()

	if !h.methodAllowed(r.Method) {
		w.Header().Set("Allow", joinMethods(h.listAllowedMethods()))
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		applog.LogProxyError(r, requestID, "method not allowed")
		return
	}

	if r.Method == http.MethodConnect {
		h.serveConnect(w, r, requestID)
		return
	}

	if r.URL.Scheme == "" || r.URL.Host == "" {
		http.Error(w, "absolute-form request target required", http.StatusBadRequest)
		applog.LogProxyError(r, requestID, "relative-form request on forward proxy")
		return
	}

	var outcome *dispatcher.Outcome
	var err error
	switch r.Method {
	case http.MethodGet:
		outcome, err = h.Dispatcher.DispatchGET(r.Context(), r)
	default:
		outcome, err = h.Dispatcher.DispatchPOST(r.Context(), r)
	}

	if err != nil {
		status := dispatcher.StatusFor(err)
		http.Error(w, err.Error(), status)
		imetrics.ProxyRequestsInc(r.Method, status, "ERROR")
		applog.LogProxyError(r, requestID, err.Error())
		return
	}

	writeHeaders(w, outcome.Header)
	w.Header().Set("X-Cache-Decision", outcome.Decision.String())
	w.WriteHeader(outcome.StatusCode)
	w.Write(outcome.Body)

	imetrics.ProxyRequestsInc(r.Method, outcome.StatusCode, outcome.Decision.String())
	imetrics.ProxyDurationObserve(r.Method, outcome.Decision.String(), time.Since(start))
	applog.LogProxyDecision(r, requestID, outcome.Decision.String(), outcome.StatusCode)
}

func (h *Handler) serveConnect(w http.ResponseWriter, r *http.Request, requestID string) {
	applog.LogConnect(r, requestID)
	if err := h.Dispatcher.Tunnel(w, r, h.ConnectIdle); err != nil {
		applog.LogProxyError(r, requestID, "tunnel: "+err.Error())
	}
}

func joinMethods(methods []string) string {
	out := ""
	for i, m := range methods {
		if i > 0 {
			out += ", "
		}
		out += m
	}
	return out
}
