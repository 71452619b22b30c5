package postgres

import (
	"context"
	"fmt"
	"net"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/keydash/internal/domain/apikey"
)

// classify maps a pgx failure onto the error taxonomy.
func (s *Store) classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01", "42703":
			return apikey.NewStoreError(apikey.KindSchema, op,
				fmt.Sprintf("table %q or its columns do not exist: %s", s.table, pgErr.Message), err)
		case "28P01", "28000", "42501":
			return apikey.NewStoreError(apikey.KindAuth, op, pgErr.Message, err)
		default:
			return apikey.NewStoreError(apikey.KindStore, op, pgErr.Message, err)
		}
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		return apikey.NewStoreError(apikey.KindConnectivity, op,
			fmt.Sprintf("request timeout after %s", s.timeout), err)
	case errors.Is(err, context.Canceled):
		return apikey.NewStoreError(apikey.KindConnectivity, op, "request cancelled", err)
	case errors.As(err, &netErr):
		return apikey.NewStoreError(apikey.KindConnectivity, op, "record store unreachable", err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return apikey.NewStoreError(apikey.KindConnectivity, op, "record store unreachable", err)
	}
	return apikey.NewStoreError(apikey.KindStore, op, err.Error(), err)
}
