package common

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the caller address from RemoteAddr. Forwarding headers are
// applied once, by the router's RealIP middleware, so logs and rate-limit keys
// agree on one address. IPv4-mapped IPv6 addresses are unmapped so both forms
// share a bucket.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip, err := netip.ParseAddr(strings.Trim(addr, "[]")); err == nil {
		return ip.Unmap().WithZone("").String()
	}
	return addr
}
