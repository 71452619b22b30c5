package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/keydash/internal/domain/keyset"
	"github.com/xenking/keydash/internal/storage/postgres"
	"github.com/xenking/keydash/internal/storage/rest"
	"github.com/xenking/keydash/internal/storage/schema"
)

// Telemetry carries the providers handed to the store transports. Nil
// providers fall back to the global ones.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// OpenStore builds the record store selected by cfg. The returned close
// function releases its resources and must be called once.
func OpenStore(ctx context.Context, lg *zap.Logger, cfg StoreConfig, tel Telemetry) (keyset.Store, func(), error) {
	variant, err := schema.ParseVariant(cfg.Schema)
	if err != nil {
		return nil, nil, errors.Wrap(err, "store schema")
	}
	mapper := schema.NewMapper(variant, cfg.Columns)

	switch cfg.Backend {
	case BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		if cfg.Migrate {
			if err := postgres.RunMigrations(ctx, pool, variant); err != nil {
				pool.Close()
				return nil, nil, errors.Wrap(err, "run migrations")
			}
			lg.Info("Migrations applied", zap.Stringer("schema", variant))
		}
		store := postgres.New(pool, postgres.Options{
			Table:   cfg.Table,
			Timeout: cfg.Timeout,
			Mapper:  mapper,
		})
		return store, pool.Close, nil
	case BackendREST:
		store, err := rest.New(rest.Options{
			URL:            cfg.URL,
			AnonKey:        cfg.AnonKey,
			Table:          cfg.Table,
			Timeout:        cfg.Timeout,
			Mapper:         mapper,
			TracerProvider: tel.TracerProvider,
			MeterProvider:  tel.MeterProvider,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "create rest store")
		}
		return store, func() {}, nil
	default:
		return nil, nil, errors.Errorf("unknown store backend %q", cfg.Backend)
	}
}
