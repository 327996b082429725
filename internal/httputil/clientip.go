package httputil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the address used for per-client stream limits and
// request logs. With trustProxy it honours, in order, the RFC 7239
// Forwarded "for=" parameter, the leftmost X-Forwarded-For entry and
// X-Real-IP. Header values that are not IP addresses are ignored.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, candidate := range []string{
			forwardedFor(r.Header.Get("Forwarded")),
			firstEntry(r.Header.Get("X-Forwarded-For")),
			r.Header.Get("X-Real-IP"),
		} {
			if ip, ok := parseIP(candidate); ok {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func firstEntry(list string) string {
	first, _, _ := strings.Cut(list, ",")
	return first
}

// forwardedFor extracts for= from the first Forwarded element.
func forwardedFor(h string) string {
	for _, pair := range strings.Split(firstEntry(h), ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && strings.EqualFold(k, "for") {
			return strings.Trim(v, `"`)
		}
	}
	return ""
}

// parseIP accepts a bare address or one with a port ("[::1]:80", "1.2.3.4:80").
func parseIP(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().String(), true
	}
	addr, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return "", false
	}
	return addr.String(), true
}
