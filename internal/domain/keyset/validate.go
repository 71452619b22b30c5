package keyset

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/keydash/internal/domain/apikey"
)

// Result is the outcome of a validation request.
type Result struct {
	Valid   bool
	Message string
	Record  *apikey.KeyRecord
}

// Validate reports whether candidate is the secret of a loaded key. The
// answer depends only on what this session has loaded; nothing is checked
// against the store. A load started by another request is awaited. The
// result is delayed by the configured validation delay, and the only error
// returned is ctx's when it ends first.
func (c *Controller) Validate(ctx context.Context, candidate string) (Result, error) {
	if candidate == "" {
		return Result{Message: MsgNoKey}, nil
	}

	start := time.Now()
	c.EnsureLoaded(ctx)
	if err := c.WaitLoaded(ctx); err != nil {
		return Result{}, err
	}

	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return Result{}, ctx.Err()
		case <-t.C:
		}
	}

	rec, ok := c.lookup(candidate)
	c.metrics.record(ctx, "validate", ok, start)
	if !ok {
		zctx.From(ctx).Debug("Validation miss", zap.String("candidate", apikey.Mask(candidate)))
		return Result{Message: MsgNotFound}, nil
	}
	return Result{Valid: true, Message: MsgValid, Record: &rec}, nil
}

func (c *Controller) lookup(secret string) (apikey.KeyRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.index != nil && !c.index.TestString(secret) {
		return apikey.KeyRecord{}, false
	}
	for _, k := range c.keys {
		if k.Secret == secret {
			return k, true
		}
	}
	return apikey.KeyRecord{}, false
}
