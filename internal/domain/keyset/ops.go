package keyset

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/keydash/internal/domain/apikey"
	"github.com/xenking/keydash/internal/storage/schema"
)

// Load replaces the key list with the store's contents. On failure the
// controller enters StateFailed and keeps the previous list.
func (c *Controller) Load(ctx context.Context) Outcome {
	c.mu.Lock()
	done := c.startLoad()
	c.mu.Unlock()

	return c.load(ctx, done)
}

// EnsureLoaded loads the key list unless a load has already been started.
func (c *Controller) EnsureLoaded(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	done := c.startLoad()
	c.mu.Unlock()

	c.load(ctx, done)
}

// WaitLoaded blocks while a load is in flight. It returns ctx's error when
// ctx ends first.
func (c *Controller) WaitLoaded(ctx context.Context) error {
	c.mu.Lock()
	done := c.loaded
	loading := c.state == StateLoading
	c.mu.Unlock()
	if !loading || done == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// startLoad enters StateLoading and returns the channel the load closes.
// c.mu must be held.
func (c *Controller) startLoad() chan struct{} {
	c.state = StateLoading
	c.err = ""
	c.loaded = make(chan struct{})
	return c.loaded
}

func (c *Controller) load(ctx context.Context, done chan struct{}) Outcome {
	defer close(done)
	ctx, end := c.begin(ctx, "load")

	rows, err := c.store.ListAll(ctx)
	if err != nil {
		msg := failure("load API keys", err)
		c.mu.Lock()
		c.state = StateFailed
		c.err = msg
		c.mu.Unlock()
		end(err)
		return Outcome{Message: msg}
	}

	keys := make([]apikey.KeyRecord, len(rows))
	for i, row := range rows {
		keys[i] = schema.ToRecord(row)
	}

	c.mu.Lock()
	c.keys = keys
	c.state = StateReady
	c.reindex()
	c.mu.Unlock()

	zctx.From(ctx).Debug("Keys loaded", zap.Int("count", len(keys)))
	end(nil)
	return Outcome{OK: true, Message: msgLoaded}
}

// Create generates a secret, stores a new key and prepends it to the list
// once the store confirms.
func (c *Controller) Create(ctx context.Context, draft apikey.Draft) Outcome {
	c.DismissError()

	draft = draft.Normalize()
	if err := draft.Validate(); err != nil {
		return Outcome{Message: err.Error()}
	}

	ctx, end := c.begin(ctx, "create")
	row, err := c.store.Create(ctx, draft, c.gen.Generate())
	if err != nil {
		msg := failure("save API key", err)
		c.setErr(msg)
		end(err)
		return Outcome{Message: msg}
	}

	rec := schema.ToRecord(row)
	c.mu.Lock()
	c.keys = append([]apikey.KeyRecord{rec}, c.keys...)
	c.indexAdd(rec.Secret)
	c.mu.Unlock()

	zctx.From(ctx).Info("Key created", zap.String("key_id", rec.ID), zap.String("permissions", string(rec.Permissions)))
	end(nil)
	return Outcome{OK: true, Message: msgCreated, Record: &rec}
}

// Update renames or re-permissions the key id and replaces it in the list.
func (c *Controller) Update(ctx context.Context, id string, patch apikey.Patch) Outcome {
	c.DismissError()

	patch = patch.Normalize()
	if err := patch.Validate(); err != nil {
		return Outcome{Message: err.Error()}
	}

	ctx, end := c.begin(ctx, "update", attribute.String("key.id", id))
	row, err := c.store.Update(ctx, id, patch)
	if err != nil {
		msg := failure("update API key", err)
		c.setErr(msg)
		end(err)
		return Outcome{Message: msg}
	}

	rec := schema.ToRecord(row)
	c.mu.Lock()
	if i := c.indexOf(id); i >= 0 {
		if rec.Secret == "" {
			rec.Secret = c.keys[i].Secret
		}
		c.keys[i] = rec
		c.reindex()
	}
	c.mu.Unlock()

	zctx.From(ctx).Info("Key updated", zap.String("key_id", id))
	end(nil)
	return Outcome{OK: true, Message: msgUpdated, Record: &rec}
}

// Delete removes the key id from the store and then from the list. Callers
// must have obtained confirmation; deletion is irreversible.
func (c *Controller) Delete(ctx context.Context, id string) Outcome {
	c.DismissError()

	ctx, end := c.begin(ctx, "delete", attribute.String("key.id", id))
	if err := c.store.Delete(ctx, id); err != nil {
		msg := failure("delete API key", err)
		c.setErr(msg)
		end(err)
		return Outcome{Message: msg}
	}

	c.mu.Lock()
	if i := c.indexOf(id); i >= 0 {
		c.keys = append(c.keys[:i:i], c.keys[i+1:]...)
		c.reindex()
	}
	c.mu.Unlock()

	zctx.From(ctx).Info("Key deleted", zap.String("key_id", id))
	end(nil)
	return Outcome{OK: true, Message: msgDeleted}
}

// TestConnection pings the store. It never changes the key list.
func (c *Controller) TestConnection(ctx context.Context) Outcome {
	c.DismissError()

	ctx, end := c.begin(ctx, "ping")
	if err := c.store.Ping(ctx); err != nil {
		msg := msgConnFailed + apikey.MessageOf(err)
		c.setErr(msg)
		end(err)
		return Outcome{Message: msg}
	}
	end(nil)
	return Outcome{OK: true, Message: msgConnected}
}

// begin starts a span for op and returns a func that ends it and records
// the operation metrics.
func (c *Controller) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "keyset."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apikey.KindOf(err).String())
			zctx.From(ctx).Warn("Key-set operation failed",
				zap.String("op", op),
				zap.Stringer("kind", apikey.KindOf(err)),
				zap.Error(err),
			)
		}
		span.End()
		c.metrics.record(ctx, op, err == nil, start)
	}
}

// failure builds the display message for a failed store call.
func failure(action string, err error) string {
	msg := apikey.MessageOf(err)
	switch apikey.KindOf(err) {
	case apikey.KindAuth:
		msg = "credentials rejected: " + msg
	case apikey.KindConnectivity:
		if !errors.Is(err, context.Canceled) {
			msg = "store unreachable: " + msg
		}
	}
	return "Failed to " + action + ": " + msg + ". Please try again."
}
