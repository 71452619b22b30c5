package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window. Zero disables limiting.
	Max int
	// Window is the sliding window length.
	Window time.Duration
	// Methods restricts limiting to these HTTP methods. Requests with other
	// methods pass through without being counted. Empty means all methods.
	Methods []string
	// KeyFunc extracts the rate limit key from a request. ClientIP when nil.
	KeyFunc func(*http.Request) string
}

// MutatingMethods are the methods that change key state.
var MutatingMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// counter holds request counts for the current and previous windows.
type counter struct {
	prev      float64
	curr      float64
	currStart time.Time
}

type rateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	entries map[string]*counter
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &rateLimiter{
		cfg:     cfg,
		entries: make(map[string]*counter),
	}
}

func (rl *rateLimiter) applies(r *http.Request) bool {
	return rl.cfg.Max > 0 && (len(rl.cfg.Methods) == 0 || slices.Contains(rl.cfg.Methods, r.Method))
}

// allow counts a request for key and reports whether it fits in the window,
// along with the remaining budget and the reset time.
func (rl *rateLimiter) allow(key string, now time.Time) (remaining int, resetAt time.Time, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	win := rl.cfg.Window
	c, ok := rl.entries[key]
	if !ok {
		c = &counter{currStart: now.Truncate(win)}
		rl.entries[key] = c
	}

	switch since := now.Sub(c.currStart); {
	case since >= 2*win:
		c.prev, c.curr = 0, 0
		c.currStart = now.Truncate(win)
	case since >= win:
		c.prev, c.curr = c.curr, 0
		c.currStart = c.currStart.Add(win)
	}

	// The previous window counts in proportion to its overlap with the
	// sliding window ending now.
	weight := max(0, 1-now.Sub(c.currStart).Seconds()/win.Seconds())
	used := c.prev*weight + c.curr
	resetAt = c.currStart.Add(win)

	if used >= float64(rl.cfg.Max) {
		return 0, resetAt, false
	}
	c.curr++
	return max(0, int(float64(rl.cfg.Max)-used-1)), resetAt, true
}

// cleanup drops keys with no requests in the last two windows.
func (rl *rateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, c := range rl.entries {
		if now.Sub(c.currStart) >= 2*rl.cfg.Window {
			delete(rl.entries, key)
		}
	}
}

func (rl *rateLimiter) runCleanup(ctx context.Context) {
	ticker := time.NewTicker(2 * rl.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.cleanup(now)
		}
	}
}

// RateLimit returns a middleware enforcing a per-key sliding window limit.
// Limited requests get 429 with an error body; counted requests carry the
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware()
}

// RateLimitWithCleanup is like RateLimit and also evicts stale keys every
// two windows until ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go rl.runCleanup(ctx)
	return rl.middleware()
}

func (rl *rateLimiter) middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.applies(r) {
				next.ServeHTTP(w, r)
				return
			}

			remaining, resetAt, allowed := rl.allow(rl.cfg.KeyFunc(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				wait := max(0, time.Until(resetAt))
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the client address of r, preferring the first
// X-Forwarded-For entry, then X-Real-IP, then RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
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
