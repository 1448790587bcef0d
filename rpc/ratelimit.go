package rpc

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxForwardedForAddrs caps how much of an X-Forwarded-For chain is parsed.
const maxForwardedForAddrs = 16

// RateLimit bounds how fast one client may submit transactions.
type RateLimit struct {
	PerSecond float64
	Burst     int
	// TrustedProxies lists peer addresses or CIDR ranges whose forwarding
	// headers identify the real client.
	TrustedProxies []string
	// TrustProxyHeaders honours forwarding headers from any peer. Only safe
	// when every connection arrives through a proxy that overwrites them.
	TrustProxyHeaders bool
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps a token bucket per client address.
type RateLimiter struct {
	limit    RateLimit
	trusted  []*net.IPNet
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
	idle     time.Duration
}

// NewRateLimiter returns a limiter enforcing limit. A non-positive rate
// disables limiting. Unparseable proxy entries are skipped; config
// validation rejects them earlier.
func NewRateLimiter(limit RateLimit) *RateLimiter {
	trusted, _ := ParseTrustedProxies(limit.TrustedProxies)
	return &RateLimiter{
		limit:    limit,
		trusted:  trusted,
		visitors: make(map[string]*visitor),
		now:      time.Now,
		idle:     5 * time.Minute,
	}
}

// ParseTrustedProxies converts addresses and CIDR ranges into networks.
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			out = append(out, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("trusted proxy %q: invalid address", entry)
		}
		bits := 8 * net.IPv6len
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 8*net.IPv4len
		}
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return out, nil
}

// Allow reports whether the client behind r may proceed.
func (l *RateLimiter) Allow(r *http.Request) bool {
	if l == nil || l.limit.PerSecond <= 0 {
		return true
	}
	return l.obtain(l.Source(r)).Allow()
}

func (l *RateLimiter) obtain(id string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.visitors, key)
		}
	}
	if v, ok := l.visitors[id]; ok {
		v.lastSeen = now
		return v.limiter
	}
	burst := l.limit.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(l.limit.PerSecond), burst)
	l.visitors[id] = &visitor{limiter: limiter, lastSeen: now}
	return limiter
}

// Source identifies the client behind r. Forwarding headers are only
// consulted when the direct peer is a trusted proxy.
func (l *RateLimiter) Source(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if l == nil || !l.trustsPeer(peer) {
		return peer
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > maxForwardedForAddrs {
			return peer
		}
		if client := canonicalAddr(parts[0]); client != "" {
			return client
		}
		return peer
	}
	if client := canonicalAddr(r.Header.Get("X-Real-IP")); client != "" {
		return client
	}
	return peer
}

func (l *RateLimiter) trustsPeer(peer string) bool {
	if l.limit.TrustProxyHeaders {
		return true
	}
	ip := net.ParseIP(peer)
	if ip == nil {
		return false
	}
	for _, network := range l.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// canonicalAddr strips whitespace and an optional port from a forwarded
// address. Anything that is not an IP yields "".
func canonicalAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if ip := net.ParseIP(raw); ip != nil {
		return ip.String()
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return ""
}
