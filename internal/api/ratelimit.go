package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerMinute = 600
	bucketIdleTTL            = 10 * time.Minute
)

type bucket struct {
	*rate.Limiter
	touched time.Time
}

// ipLimiters keeps one token bucket per client address.
type ipLimiters struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*bucket
}

// newIPLimiters sizes buckets from a per-minute allowance. Without an
// explicit burst a client may spend ten seconds of allowance at once.
func newIPLimiters(perMinute, burst int) *ipLimiters {
	if perMinute <= 0 {
		perMinute = defaultRequestsPerMinute
	}
	if burst <= 0 {
		burst = max(perMinute/6, 1)
	}
	return &ipLimiters{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		clients: make(map[string]*bucket),
	}
}

func (l *ipLimiters) allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	b := l.clients[ip]
	if b == nil {
		b = &bucket{Limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = b
	}
	b.touched = now
	l.mu.Unlock()

	return b.AllowN(now, 1)
}

// evictIdle forgets buckets untouched since before.
func (l *ipLimiters) evictIdle(before time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, b := range l.clients {
		if b.touched.Before(before) {
			delete(l.clients, ip)
		}
	}
}

func (l *ipLimiters) cleanupLoop(ctx context.Context) {
	t := time.NewTicker(bucketIdleTTL)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.evictIdle(now.Add(-bucketIdleTTL))
		}
	}
}

// rateLimitMiddleware answers 429 once a client's bucket is empty.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiters == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiters.allow(clientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
	})
}
