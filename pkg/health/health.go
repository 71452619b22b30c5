// Package health serves liveness and readiness endpoints backed by background
// checks.
//
// Every check runs on its own ticker. A check turns unhealthy only after
// FailureThreshold consecutive failures and healthy again after
// SuccessThreshold consecutive successes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// CheckOptions tunes one check. Zero values select the defaults.
type CheckOptions struct {
	// Timeout bounds one run of the check. Defaults to 5s.
	Timeout time.Duration
	// FailureThreshold defaults to 3.
	FailureThreshold int
	// SuccessThreshold defaults to 1.
	SuccessThreshold int
}

func (o CheckOptions) withDefaults() CheckOptions {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = 1
	}
	return o
}

// check is one registered check. The streak counters belong to the single
// goroutine running the check; healthy and lastErr are read concurrently.
type check struct {
	name string
	fn   CheckFunc
	opts CheckOptions

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func newCheck(name string, fn CheckFunc, opts CheckOptions) *check {
	c := &check{name: name, fn: fn, opts: opts.withDefaults()}
	c.healthy.Store(true)
	return c
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)
	if err != nil {
		c.oks = 0
		if c.fails++; c.fails >= c.opts.FailureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	if c.oks++; c.oks >= c.opts.SuccessThreshold {
		c.healthy.Store(true)
	}
}

// failure returns the reason c is unhealthy, or "" when it is healthy.
func (c *check) failure() string {
	if c.healthy.Load() {
		return ""
	}
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error()
	}
	return "check is unhealthy"
}

func (c *check) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.run(ctx)
		}
	}
}

// Health holds the registered checks and the manual readiness switch. The
// service starts not ready.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*check
	readiness []*check
	cancel    context.CancelFunc
}

// New returns a Health with no checks.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that decides whether the process
// should be restarted.
func (h *Health) AddLivenessCheck(name string, fn CheckFunc, opts CheckOptions) {
	h.mu.Lock()
	h.liveness = append(h.liveness, newCheck(name, fn, opts))
	h.mu.Unlock()
}

// AddReadinessCheck registers a check that decides whether the service
// receives traffic.
func (h *Health) AddReadinessCheck(name string, fn CheckFunc, opts CheckOptions) {
	h.mu.Lock()
	h.readiness = append(h.readiness, newCheck(name, fn, opts))
	h.mu.Unlock()
}

// Start runs every registered check at interval until Stop or ctx ends.
// Register checks before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	all := append(append([]*check(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, c := range all {
		go c.loop(ctx, interval)
	}
}

// Stop ends all check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness switch. It is set after start-up and
// cleared at the beginning of a graceful shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the switch is on and every readiness check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(failures(h.snapshot(&h.readiness))) == 0
}

func (h *Health) snapshot(list *[]*check) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*check(nil), (*list)...)
}

// Routes mounts /livez and /readyz on r.
func (h *Health) Routes(r chi.Router) {
	r.Get("/livez", h.LiveEndpoint)
	r.Get("/readyz", h.ReadyEndpoint)
}

// LiveEndpoint answers 200 while all liveness checks pass, 503 otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	write(w, failures(h.snapshot(&h.liveness)))
}

// ReadyEndpoint answers 200 while the service is ready, 503 otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(&h.readiness))
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	write(w, failed)
}

func failures(checks []*check) map[string]string {
	out := make(map[string]string)
	for _, c := range checks {
		if msg := c.failure(); msg != "" {
			out[c.name] = msg
		}
	}
	return out
}

type status struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func write(w http.ResponseWriter, failed map[string]string) {
	body := status{Status: "ok"}
	code := http.StatusOK
	if len(failed) > 0 {
		body = status{Status: "unhealthy", Checks: failed}
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
