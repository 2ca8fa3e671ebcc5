package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps a token bucket per client IP
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	requestsPerMinute int
	burstSize         int

	cleanupInterval time.Duration
	lastCleanup     time.Time
}

type visitor struct {
	limiter      *rate.Limiter
	lastRequest  time.Time
	requestCount int
}

// NewRateLimiter creates a limiter allowing requestsPerMinute per IP with
// bursts of up to burstSize
func NewRateLimiter(requestsPerMinute, burstSize int) *RateLimiter {
	return &RateLimiter{
		visitors:          make(map[string]*visitor),
		requestsPerMinute: requestsPerMinute,
		burstSize:         burstSize,
		cleanupInterval:   5 * time.Minute,
		lastCleanup:       time.Now(),
	}
}

// Allow reports whether a request from ip may proceed now
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastCleanup) > rl.cleanupInterval {
		rl.cleanup(now)
	}

	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.requestsPerMinute)/60.0), rl.burstSize),
		}
		rl.visitors[ip] = v
	}
	v.lastRequest = now

	if !v.limiter.AllowN(now, 1) {
		return false
	}
	v.requestCount++
	return true
}

// cleanup drops visitors idle for ten minutes. Callers hold mu.
func (rl *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-10 * time.Minute)
	for ip, v := range rl.visitors {
		if v.lastRequest.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
	rl.lastCleanup = now
}

// RateLimitStats is a snapshot for the health endpoint
type RateLimitStats struct {
	ActiveIPs         int `json:"active_ips"`
	TotalRequests     int `json:"total_requests"`
	RequestsPerMinute int `json:"requests_per_min"`
	BurstSize         int `json:"burst_size"`
}

func (rl *RateLimiter) Stats() RateLimitStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	st := RateLimitStats{
		ActiveIPs:         len(rl.visitors),
		RequestsPerMinute: rl.requestsPerMinute,
		BurstSize:         rl.burstSize,
	}
	for _, v := range rl.visitors {
		st.TotalRequests += v.requestCount
	}
	return st
}

// RateLimitMiddleware rejects requests over the per-IP budget with 429
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(getClientIP(r)) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.requestsPerMinute))
			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP, preferring proxy headers
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// first hop is the original client
		for _, ip := range strings.Split(xff, ",") {
			if ip = strings.TrimSpace(ip); ip != "" {
				return ip
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
