// Package keyset owns the in-memory list of API keys for one dashboard
// session and keeps it consistent with the record store.
//
// Local state changes only after the store confirms a mutation. Every
// mutating call returns an Outcome; store failures are converted to a single
// display message and never returned as errors.
package keyset

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/keydash/internal/domain/apikey"
	"github.com/xenking/keydash/internal/storage/schema"
)

// DefaultValidationDelay is the artificial wait before a validation result.
const DefaultValidationDelay = 800 * time.Millisecond

// Store is the record store the controller syncs with.
type Store interface {
	ListAll(ctx context.Context) ([]schema.Row, error)
	Create(ctx context.Context, draft apikey.Draft, secret string) (schema.Row, error)
	Update(ctx context.Context, id string, patch apikey.Patch) (schema.Row, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// State is the load state of the key list.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Outcome reports the result of one operation. Record is set by successful
// creates and updates.
type Outcome struct {
	OK      bool
	Message string
	Record  *apikey.KeyRecord
}

// Snapshot is a copy of the controller state.
type Snapshot struct {
	State State
	Error string
	Keys  []apikey.KeyRecord
}

// Options configures a Controller. Zero values select defaults.
type Options struct {
	Generator       *apikey.Generator
	ValidationDelay time.Duration
	Metrics         *Metrics
	TracerProvider  trace.TracerProvider
}

// Controller is the key-set state machine of one session. It is safe for
// concurrent use; the lock is never held across a store call, and
// overlapping calls are not de-duplicated.
type Controller struct {
	store   Store
	gen     *apikey.Generator
	delay   time.Duration
	metrics *Metrics
	tracer  trace.Tracer

	mu    sync.Mutex
	state State
	err   string
	keys  []apikey.KeyRecord
	index *bloom.BloomFilter
	// indexCap is the number of keys index was sized for.
	indexCap uint
	// loaded is closed when the most recently started load finishes.
	loaded chan struct{}
}

// New returns an idle Controller backed by store.
func New(store Store, opts Options) *Controller {
	if opts.Generator == nil {
		opts.Generator = apikey.NewGenerator(apikey.DefaultPrefix)
	}
	if opts.ValidationDelay < 0 {
		opts.ValidationDelay = 0
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = noop.NewTracerProvider()
	}
	return &Controller{
		store:   store,
		gen:     opts.Generator,
		delay:   opts.ValidationDelay,
		metrics: opts.Metrics,
		tracer:  opts.TracerProvider.Tracer("github.com/xenking/keydash/internal/domain/keyset"),
	}
}

// State returns the current load state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the current error message, empty when there is none.
func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Snapshot returns a copy of the state, error and keys, newest first.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State: c.state,
		Error: c.err,
		Keys:  slices.Clone(c.keys),
	}
}

// Find returns the loaded key with the given id.
func (c *Controller) Find(id string) (apikey.KeyRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(id)
	if i < 0 {
		return apikey.KeyRecord{}, false
	}
	return c.keys[i], true
}

// DismissError clears the current error message.
func (c *Controller) DismissError() {
	c.mu.Lock()
	c.err = ""
	c.mu.Unlock()
}

func (c *Controller) setErr(msg string) {
	c.mu.Lock()
	c.err = msg
	c.mu.Unlock()
}

// indexOf must be called with mu held.
func (c *Controller) indexOf(id string) int {
	return slices.IndexFunc(c.keys, func(k apikey.KeyRecord) bool { return k.ID == id })
}

// reindex rebuilds the secret filter with room for twice the current keys.
// It must be called with mu held.
func (c *Controller) reindex() {
	c.indexCap = uint(max(2*len(c.keys), 16))
	f := bloom.NewWithEstimates(c.indexCap, 0.01)
	for _, k := range c.keys {
		f.AddString(k.Secret)
	}
	c.index = f
}

// indexAdd records a new secret in the filter, rebuilding it only once the
// keys outgrow the size it was built for. It must be called with mu held.
func (c *Controller) indexAdd(secret string) {
	if c.index == nil || uint(len(c.keys)) > c.indexCap {
		c.reindex()
		return
	}
	c.index.AddString(secret)
}
