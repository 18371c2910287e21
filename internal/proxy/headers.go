package proxy

import (
	"net/http"
	"net/url"
	"strings"
)

// Hop-by-hop headers are connection-scoped and must not be relayed in
// either direction.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Client-supplied credentials are stripped before the upstream credential is
// attached, so a caller key never leaks to the upstream.
var clientAuthHeaders = map[string]bool{
	"Authorization":  true,
	"X-Goog-Api-Key": true,
	"X-Api-Key":      true,
}

// copyRequestHeaders relays inbound headers to the upstream request,
// dropping hop-by-hop and credential headers.
func copyRequestHeaders(dst, src http.Header) {
	for name, values := range src {
		canonical := http.CanonicalHeaderKey(name)
		if hopByHopHeaders[canonical] || clientAuthHeaders[canonical] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// copyResponseHeaders relays upstream response headers to the client,
// dropping hop-by-hop headers. Content-Length is dropped too; the relay
// re-chunks the body.
func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		canonical := http.CanonicalHeaderKey(name)
		if hopByHopHeaders[canonical] || canonical == "Content-Length" {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// filterQuery removes the key auth parameter from the inbound query string.
func filterQuery(query url.Values) url.Values {
	out := url.Values{}
	for name, values := range query {
		if name == "key" {
			continue
		}
		out[name] = values
	}
	return out
}

// stripRoutePrefix removes the configured mount point from the inbound path
// so the upstream sees the native API path.
func stripRoutePrefix(path, prefix string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	trimmed := strings.TrimPrefix(path, prefix)
	if trimmed == path {
		return path
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return trimmed
}
