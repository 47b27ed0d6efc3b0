package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the sliding window length.
	Window time.Duration
	// KeyFunc derives the limiter key from a request. Defaults to the
	// client IP (X-Forwarded-For, then X-Real-IP, then RemoteAddr).
	KeyFunc func(*http.Request) string
}

// bucket tracks the current and previous window counts for one key. The
// previous count is weighted by overlap, which smooths the limit across the
// window boundary instead of resetting it.
type bucket struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

type rateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	return &rateLimiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// take consumes one request slot for key, returning the remaining budget,
// the reset time, and whether the request is allowed.
func (rl *rateLimiter) take(key string, now time.Time) (remaining int, resetAt time.Time, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{currStart: now}
		rl.buckets[key] = b
	}

	if now.Sub(b.currStart) >= rl.cfg.Window {
		b.prevCount, b.prevStart = b.currCount, b.currStart
		b.currCount = 0
		b.currStart = now.Truncate(rl.cfg.Window)
		if now.Sub(b.prevStart) >= 2*rl.cfg.Window {
			b.prevCount = 0
		}
	}

	overlap := 1.0 - now.Sub(b.currStart).Seconds()/rl.cfg.Window.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	effective := b.prevCount*overlap + b.currCount
	resetAt = b.currStart.Add(rl.cfg.Window)

	if effective >= float64(rl.cfg.Max) {
		return 0, resetAt, false
	}

	b.currCount++
	remaining = int(float64(rl.cfg.Max) - effective - 1)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, resetAt, true
}

// evict drops buckets idle for two full windows.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if now.Sub(b.currStart) >= 2*rl.cfg.Window {
			delete(rl.buckets, key)
		}
	}
}

// RateLimit returns a sliding window rate limiting middleware. Limited
// requests get 429 with a JSON body; every response carries
// X-RateLimit-Limit, X-RateLimit-Remaining, and X-RateLimit-Reset.
//
// This variant never evicts idle keys. Long-lived servers should use
// RateLimitWithCleanup.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware()
}

// RateLimitWithCleanup is RateLimit plus a background goroutine that evicts
// idle keys every two windows until ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go func() {
		ticker := time.NewTicker(2 * rl.cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.evict(now)
			}
		}
	}()
	return rl.middleware()
}

func (rl *rateLimiter) middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, resetAt, allowed := rl.take(rl.cfg.KeyFunc(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				retryAfter := math.Ceil(time.Until(resetAt).Seconds())
				if retryAfter < 0 {
					retryAfter = 0
				}
				h.Set("Retry-After", strconv.Itoa(int(retryAfter)))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				var e jx.Encoder
				e.ObjStart()
				e.FieldStart("code")
				e.Int(http.StatusTooManyRequests)
				e.FieldStart("message")
				e.Str("rate limit exceeded")
				e.ObjEnd()
				_, _ = w.Write(e.Bytes())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the default limiter key: the first X-Forwarded-For hop, then
// X-Real-IP, then the connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
