package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	visitorIdleTTL       = 3 * time.Minute
	visitorSweepInterval = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitors holds one token bucket per client address.
type visitors struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	byKey map[string]*visitor
}

func (v *visitors) limiter(key string, now time.Time) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.byKey[key]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(v.rps, v.burst)}
		v.byKey[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (v *visitors) sweep(now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, entry := range v.byKey {
		if now.Sub(entry.lastSeen) > visitorIdleTTL {
			delete(v.byKey, key)
		}
	}
}

// RateLimit applies a per-client token bucket. Idle clients are forgotten
// until ctx is done.
func RateLimit(ctx context.Context, rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}

	state := &visitors{rps: rate.Limit(rps), burst: burst, byKey: make(map[string]*visitor)}
	go func() {
		ticker := time.NewTicker(visitorSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				state.sweep(now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !state.limiter(clientIP(r.RemoteAddr), time.Now()).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
