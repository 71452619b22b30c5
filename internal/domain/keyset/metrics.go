package keyset

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the instruments shared by every session's controller.
type Metrics struct {
	ops      metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics creates the controller instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("github.com/xenking/keydash/internal/domain/keyset")

	ops, err := meter.Int64Counter("keydash.keyset.operations",
		metric.WithDescription("Key-set operations by name and result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "operations counter")
	}
	duration, err := meter.Float64Histogram("keydash.keyset.duration",
		metric.WithDescription("Key-set operation latency including store round trips"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}
	return &Metrics{ops: ops, duration: duration}, nil
}

// NopMetrics returns instruments that record nothing.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *Metrics) record(ctx context.Context, op string, ok bool, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("ok", ok),
	)
	m.ops.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}
