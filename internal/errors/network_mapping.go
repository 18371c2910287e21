package errors

import (
	"net/http"
	"strings"
)

// MapNetworkError classifies a transport failure into an APIError. The
// resulting message stays generic; the raw error text belongs in logs and
// the fault sink, never in the client response.
func MapNetworkError(err error) *APIError {
	errMsg := err.Error()

	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return New(http.StatusGatewayTimeout, "upstream_timeout", "server_error", "Upstream request timed out")
	case strings.Contains(errMsg, "connection refused"):
		return New(http.StatusBadGateway, "connection_error", "server_error", "Unable to reach upstream")
	case strings.Contains(errMsg, "EOF") || strings.Contains(errMsg, "connection reset"):
		return New(http.StatusBadGateway, "connection_error", "server_error", "Upstream connection interrupted")
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "name resolution"):
		return New(http.StatusBadGateway, "dns_error", "server_error", "Unable to resolve upstream host")
	case strings.Contains(errMsg, "certificate") || strings.Contains(errMsg, "tls"):
		return New(http.StatusBadGateway, "tls_error", "server_error", "TLS handshake with upstream failed")
	default:
		return New(http.StatusBadGateway, "network_error", "server_error", "Upstream request failed")
	}
}
