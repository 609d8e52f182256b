package proxy

import (
	"net/http"
	"sort"
	"strings"
)

// SetAllowedMethods configures which HTTP methods are permitted (empty
// slice means allow all, matching the teacher's reverse-proxy default).
func (h *Handler) SetAllowedMethods(methods []string) {
	if len(methods) == 0 {
		h.allowedMethods = nil
		return
	}
	allowed := make(map[string]struct{}, len(methods))
	for _, method := range methods {
		allowed[strings.ToUpper(strings.TrimSpace(method))] = struct{}{}
	}
	h.allowedMethods = allowed
}

// listAllowedMethods returns a sorted slice for the Allow header.
func (h *Handler) listAllowedMethods() []string {
	if h.allowedMethods == nil {
		return nil
	}
	methods := make([]string, 0, len(h.allowedMethods))
	for method := range h.allowedMethods {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

func (h *Handler) methodAllowed(method string) bool {
	if h.allowedMethods == nil {
		return true
	}
	_, ok := h.allowedMethods[strings.ToUpper(method)]
	return ok
}

// writeHeaders copies a cached/origin header set onto the response writer,
// the last step before WriteHeader in every non-tunnel reply path.
func writeHeaders(w http.ResponseWriter, header http.Header) {
	dst := w.Header()
	for k, vv := range header {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
