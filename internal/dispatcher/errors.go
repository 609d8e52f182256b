package dispatcher

import (
	"errors"
	"net/http"
)

// Error kinds recovered at the connection-handler boundary (spec §7).
// Nothing below this package propagates past the handler's call site.
var (
	ErrClientProtocol    = errors.New("client protocol error")
	ErrUnsupportedMethod = errors.New("unsupported method")
	ErrOriginResolution  = errors.New("origin DNS resolution failed")
	ErrOriginConnect     = errors.New("origin connect failed")
	ErrOriginTransport   = errors.New("origin transport error")
	ErrOriginProtocol    = errors.New("origin response unparseable")
	ErrCacheOversize     = errors.New("entry too large for shard budget")
	ErrOnlyIfCachedMiss  = errors.New("only-if-cached miss")
)

// StatusFor maps an error kind to the client-visible status code of spec §7.
// OriginConnect timeouts may legitimately surface as either 502 or 504; this
// implementation picks 502, as the spec explicitly leaves that choice open.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrClientProtocol):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedMethod):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrOnlyIfCachedMiss):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrOriginResolution),
		errors.Is(err, ErrOriginConnect),
		errors.Is(err, ErrOriginTransport),
		errors.Is(err, ErrOriginProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}
