package server

import (
	"net"
	"net/http"
	"strings"
)

// clientAddress returns the source address used for per-address caps and
// API rate limits. Behind a trusted proxy X-Real-IP wins, then the first
// X-Forwarded-For hop; otherwise the socket peer, without its port.
func clientAddress(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
