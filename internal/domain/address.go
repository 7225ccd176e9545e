package domain

import (
	"net"
	"strings"
)

const UnknownAddress = "unknown"

// NormalizeAddress reduces a reported remote address to a single comparable IP.
// It accepts an X-Forwarded-For style chain (first hop wins), host:port pairs,
// IPv4-mapped IPv6 forms and zoned IPv6 literals.
func NormalizeAddress(raw string) string {
	if i := strings.IndexByte(raw, ','); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return UnknownAddress
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	if len(raw) > 7 && strings.EqualFold(raw[:7], "::ffff:") && strings.Contains(raw[7:], ".") {
		raw = raw[7:]
	}
	if i := strings.IndexByte(raw, '%'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return UnknownAddress
	}
	return strings.ToLower(raw)
}
