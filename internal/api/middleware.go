// Package api implements the local REST API and websocket event feed that
// UI collaborators use to observe and drive the Guild Hall client.
package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxTrackedClients bounds the rate limiter's per-address state.
const MaxTrackedClients = 4096

// AllowList restricts access to the listed addresses and CIDR ranges.
// Loopback is always admitted so the local UI keeps working; an empty list
// admits everyone. Unparseable entries are logged and skipped.
func AllowList(entries []string) gin.HandlerFunc {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if _, cidr, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, cidr)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		log.Warn().Str("component", "api").Str("entry", entry).Msg("ignoring invalid allow list entry")
	}

	return func(c *gin.Context) {
		if len(entries) == 0 {
			c.Next()
			return
		}
		ip := net.ParseIP(c.ClientIP())
		if ip != nil && (ip.IsLoopback() || containsIP(nets, ip)) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied: address not allowed"})
	}
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// RateLimiter is a per-address token bucket. Only the most recently seen
// MaxTrackedClients addresses are tracked; an evicted address starts over
// with a full bucket.
type RateLimiter struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *bucket]
	rate    float64
	burst   float64
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter allows rps requests per second per address with bursts
// of twice that. rps <= 0 disables limiting.
func NewRateLimiter(rps int) *RateLimiter {
	cache, _ := lru.New[string, *bucket](MaxTrackedClients)
	return &RateLimiter{
		buckets: cache,
		rate:    float64(rps),
		burst:   float64(rps * 2),
	}
}

// Middleware returns a Gin middleware that rate limits by client address.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 {
			c.Next()
			return
		}
		if wait := rl.reserve(c.ClientIP(), time.Now()); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(clientIP string, now time.Time) bool {
	return rl.reserve(clientIP, now) == 0
}

// reserve takes a token for clientIP, or returns how long until one is
// available.
func (rl *RateLimiter) reserve(clientIP string, now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets.Get(clientIP)
	if !ok {
		b = &bucket{tokens: rl.burst, last: now}
		rl.buckets.Add(clientIP, b)
	}

	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.last).Seconds()*rl.rate)
	b.last = now

	if b.tokens < 1 {
		return time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
	}
	b.tokens--
	return 0
}

// SecurityHeaders adds security-related HTTP headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Server", "GuildHall")
		c.Next()
	}
}

// RequestLogger logs each request once it completes. Liveness probes log
// at trace level.
func RequestLogger() gin.HandlerFunc {
	logger := log.With().Str("component", "api").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := zerolog.DebugLevel
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			level = zerolog.WarnLevel
		case c.Request.URL.Path == "/api/public/ping":
			level = zerolog.TraceLevel
		}
		logger.WithLevel(level).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}
