package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit allows each client IP rps requests per second with the given
// burst. Idle clients are forgotten after ten minutes.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	limiters := newClientLimiters(rate.Limit(rps), burst, 10*time.Minute)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(clientIP(r), time.Now()) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

type clientLimiters struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	idle    time.Duration
	swept   time.Time
}

func newClientLimiters(limit rate.Limit, burst int, idle time.Duration) *clientLimiters {
	return &clientLimiters{
		clients: make(map[string]*clientLimiter),
		limit:   limit,
		burst:   burst,
		idle:    idle,
	}
}

func (c *clientLimiters) allow(ip string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.swept) > c.idle {
		for k, cl := range c.clients {
			if now.Sub(cl.seen) > c.idle {
				delete(c.clients, k)
			}
		}
		c.swept = now
	}

	cl, ok := c.clients[ip]
	if !ok {
		cl = &clientLimiter{lim: rate.NewLimiter(c.limit, c.burst)}
		c.clients[ip] = cl
	}
	cl.seen = now
	return cl.lim.AllowN(now, 1)
}

// clientIP trusts X-Forwarded-For and X-Real-IP before RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
