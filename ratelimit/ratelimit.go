// Package ratelimit limits how often a single client may hit routes that
// reach the monitoring API.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Config holds rate limiting configuration
type Config struct {
	Enabled         bool          `yaml:"enabled"`
	RequestsPerMin  int           `yaml:"requests_per_min,omitempty"` // Default: 60
	BurstSize       int           `yaml:"burst,omitempty"`            // Default: RequestsPerMin/10, at least 1
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"` // Default: 5m
	Whitelist       []string      `yaml:"whitelist,omitempty"`        // IPs or CIDRs
}

// Limiter keeps one token bucket per client IP
type Limiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	config    Config
	enabled   bool
	whitelist []netip.Prefix
	now       func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a new rate limiter
func NewLimiter(config Config) (*Limiter, error) {
	if config.RequestsPerMin <= 0 {
		config.RequestsPerMin = 60
	}
	if config.BurstSize <= 0 {
		config.BurstSize = max(config.RequestsPerMin/10, 1)
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	l := &Limiter{
		clients: make(map[string]*client),
		config:  config,
		enabled: config.Enabled,
		now:     time.Now,
	}
	for _, entry := range config.Whitelist {
		if err := l.AddWhitelist(entry); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Start removes idle clients until ctx is done
func (l *Limiter) Start(ctx context.Context) {
	if !l.enabled {
		return
	}

	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	log.Info().Int("requests_per_min", l.config.RequestsPerMin).Msg("Rate limiter started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Rate limiter stopped")
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

// Middleware returns HTTP middleware for rate limiting
func (l *Limiter) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.enabled {
				next.ServeHTTP(w, r)
				return
			}

			ip := extractIP(r)
			if l.isWhitelisted(ip) {
				next.ServeHTTP(w, r)
				return
			}

			if ok, retry := l.Allow(ip); !ok {
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d/min", l.config.RequestsPerMin))
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Round(time.Second)/time.Second)+1))
				http.Error(w, "Muitas requisições, tente novamente em instantes", http.StatusTooManyRequests)

				log.Warn().
					Str("ip", ip).
					Str("route", route).
					Msg("Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Allow reports whether ip may make a request now. When it may not, the
// second value is how long until the next token.
func (l *Limiter) Allow(ip string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		c = &client{
			limiter: rate.NewLimiter(rate.Limit(float64(l.config.RequestsPerMin)/60), l.config.BurstSize),
		}
		l.clients[ip] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	res := c.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// AddWhitelist adds an IP or CIDR to whitelist
func (l *Limiter) AddWhitelist(ipOrCIDR string) error {
	var prefix netip.Prefix
	if strings.Contains(ipOrCIDR, "/") {
		p, err := netip.ParsePrefix(ipOrCIDR)
		if err != nil {
			return fmt.Errorf("invalid CIDR: %w", err)
		}
		prefix = p.Masked()
	} else {
		addr, err := netip.ParseAddr(ipOrCIDR)
		if err != nil {
			return fmt.Errorf("invalid IP address: %s", ipOrCIDR)
		}
		prefix = netip.PrefixFrom(addr, addr.BitLen())
	}

	l.mu.Lock()
	l.whitelist = append(l.whitelist, prefix)
	l.mu.Unlock()

	log.Info().Str("ip_or_cidr", ipOrCIDR).Msg("Added to rate limit whitelist")
	return nil
}

func (l *Limiter) isWhitelisted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.whitelist {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// cleanup forgets clients idle for longer than the cleanup interval
func (l *Limiter) cleanup() {
	cutoff := l.now().Add(-l.config.CleanupInterval)

	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}

	log.Debug().Int("active_clients", len(l.clients)).Msg("Rate limiter cleanup completed")
}

// Stats is a snapshot of the limiter state
type Stats struct {
	ActiveClients  int `json:"active_clients"`
	WhitelistSize  int `json:"whitelist_size"`
	RequestsPerMin int `json:"requests_per_min"`
	BurstSize      int `json:"burst_size"`
}

// GetStats returns current rate limiting statistics
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		ActiveClients:  len(l.clients),
		WhitelistSize:  len(l.whitelist),
		RequestsPerMin: l.config.RequestsPerMin,
		BurstSize:      l.config.BurstSize,
	}
}

// extractIP extracts the client IP from the request
func extractIP(r *http.Request) string {
	// Check X-Real-IP first (set by the fronting proxy)
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	// Take the first IP in the X-Forwarded-For chain
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
