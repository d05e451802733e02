package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"
)

type RateLimit interface {
	Allow(addr string) bool
}

type window struct {
	count int
	start time.Time
}

// FixedWindowLimiter counts requests per address in fixed windows. Plenty
// for the public license endpoints; no distributed state needed.
type FixedWindowLimiter struct {
	maxRequests int
	interval    time.Duration
	windows     map[string]*window
	mutex       sync.Mutex
}

func New(maxRequests int, interval time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		maxRequests: maxRequests,
		interval:    interval,
		windows:     make(map[string]*window),
	}
}

func (rl *FixedWindowLimiter) Allow(addr string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	w := rl.windows[addr]

	if w == nil || now.Sub(w.start) > rl.interval {
		if rl.maxRequests == 0 {
			return false
		}
		rl.windows[addr] = &window{count: 1, start: now}
		return true
	}

	if w.count >= rl.maxRequests {
		return false
	}
	w.count++
	return true
}

// Middleware rejects over-limit clients with 429, keyed by remote IP.
func Middleware(rl RateLimit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !rl.Allow(host) {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
