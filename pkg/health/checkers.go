package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// PingCheck adapts a store ping into a CheckFunc, wrapping failures with
// name so the readiness body identifies the dependency.
func PingCheck(name string, ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return errors.Wrap(err, name)
		}
		return nil
	}
}

// CountCheck fails when count reports more than limit items. It guards
// in-memory registries such as the session table.
func CountCheck(what string, limit int, count func() int) CheckFunc {
	return func(context.Context) error {
		if n := count(); n > limit {
			return errors.Errorf("%s count %d exceeds limit %d", what, n, limit)
		}
		return nil
	}
}
