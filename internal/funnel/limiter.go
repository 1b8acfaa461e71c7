package funnel

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/leadline-labs/leadline/internal/platform/httpserver"
)

const defaultLimiterIdle = 10 * time.Minute

// Limiter keeps one token bucket per client IP and forgets clients that
// stayed idle for longer than Idle.
type Limiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu         sync.Mutex
	clients    map[string]*rate.Limiter
	lastAccess map[string]time.Time
	lastSweep  time.Time
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limit:      rate.Limit(perSecond),
		burst:      burst,
		idle:       defaultLimiterIdle,
		now:        time.Now,
		clients:    make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
	}
}

// Allow spends one token for key.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweepLocked(now)
	}
	limiter, ok := l.clients[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.clients[key] = limiter
	}
	l.lastAccess[key] = now
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// Len reports the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) sweepLocked(now time.Time) {
	for key, last := range l.lastAccess {
		if now.Sub(last) > l.idle {
			delete(l.clients, key)
			delete(l.lastAccess, key)
		}
	}
	l.lastSweep = now
}

// Middleware rejects requests over the client's budget with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "unknown"
		if ip := httpserver.ClientIP(r); ip != nil {
			key = ip.String()
		}
		if !l.Allow(key) {
			w.Header().Set("Retry-After", "1")
			httpserver.WriteError(w, r, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}
