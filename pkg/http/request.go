package http

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const maxUserAgentLength = 512

// IPConfig holds the proxies whose forwarding headers are trusted
type IPConfig struct {
	trusted []netip.Prefix
}

// NewIPConfig parses trusted proxy CIDR ranges. An invalid range is a
// configuration error rather than something to skip silently.
func NewIPConfig(cidrs []string) (*IPConfig, error) {
	cfg := &IPConfig{}
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy range %q: %w", raw, err)
		}
		cfg.trusted = append(cfg.trusted, prefix.Masked())
	}
	return cfg, nil
}

// RequestMeta is the client identity attached to audit events
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Meta extracts client IP and a bounded user agent from the request
func Meta(r *http.Request, cfg *IPConfig) RequestMeta {
	ua := r.UserAgent()
	if len(ua) > maxUserAgentLength {
		ua = ua[:maxUserAgentLength]
	}
	return RequestMeta{IPAddress: ExtractClientIP(r, cfg), UserAgent: ua}
}

// ExtractClientIP returns the client address used for rate limiting and audit.
//
// Forwarding headers are only honoured when the direct peer is a trusted
// proxy. X-Forwarded-For is walked right to left and the first hop that is not
// itself a trusted proxy is the client; entries further left are supplied by
// the client and cannot be trusted.
func ExtractClientIP(r *http.Request, cfg *IPConfig) string {
	remote := remoteAddr(r)
	if cfg == nil || !cfg.isTrusted(remote) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				break
			}
			if !cfg.isTrusted(hop) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if _, err := netip.ParseAddr(xri); err == nil {
			return xri
		}
	}

	return remote
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (c *IPConfig) isTrusted(ip string) bool {
	if len(c.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range c.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
