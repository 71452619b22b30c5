package rest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/keydash/internal/domain/apikey"
	"github.com/xenking/keydash/internal/storage/schema"
)

// schemaCodes are PostgREST and PostgreSQL codes reported when the table or
// one of its columns is absent. PGRST116 is included because older gateways
// report an unknown relation through it.
var schemaCodes = map[string]struct{}{
	"42P01":    {},
	"42703":    {},
	"PGRST116": {},
	"PGRST204": {},
	"PGRST205": {},
}

// columnCodes are the schemaCodes that name a single missing column rather
// than a missing table.
var columnCodes = map[string]struct{}{
	"42703":    {},
	"PGRST204": {},
}

// errMissingColumn marks a write rejected because one of its columns does
// not exist.
var errMissingColumn = errors.New("missing column")

// authCodes are reported when credentials are rejected or row level
// security denies access.
var authCodes = map[string]struct{}{
	"42501":    {},
	"28P01":    {},
	"PGRST301": {},
	"PGRST302": {},
}

// remoteError is the error body returned by the REST gateway.
type remoteError struct {
	Code    string
	Message string
	Details string
	Hint    string
}

func parseRemoteError(body []byte) remoteError {
	fields, err := schema.DecodeObject(body)
	if err != nil {
		return remoteError{Message: strings.TrimSpace(string(body))}
	}
	str := func(k string) string {
		s, _ := fields[k].(string)
		return s
	}
	return remoteError{
		Code:    str("code"),
		Message: str("message"),
		Details: str("details"),
		Hint:    str("hint"),
	}
}

// classifyTransport maps a failed round trip onto a connectivity error.
func (s *Store) classifyTransport(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apikey.NewStoreError(apikey.KindConnectivity, op,
			fmt.Sprintf("request timeout after %s", s.timeout), err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return apikey.NewStoreError(apikey.KindConnectivity, op,
			fmt.Sprintf("request timeout after %s", s.timeout), err)
	case errors.Is(err, context.Canceled):
		return apikey.NewStoreError(apikey.KindConnectivity, op, "request cancelled", err)
	default:
		return apikey.NewStoreError(apikey.KindConnectivity, op, "record store unreachable", err)
	}
}

// classifyResponse maps an unsuccessful HTTP response onto the error taxonomy.
func (s *Store) classifyResponse(op string, status int, body []byte) error {
	re := parseRemoteError(body)
	msg := re.Message
	if msg == "" {
		msg = re.Hint
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	cause := errors.Errorf("status %d code %q", status, re.Code)
	if _, ok := columnCodes[re.Code]; ok {
		cause = errors.Wrapf(errMissingColumn, "status %d code %q", status, re.Code)
	}

	if _, ok := schemaCodes[re.Code]; ok {
		return apikey.NewStoreError(apikey.KindSchema, op,
			fmt.Sprintf("table %q or its columns do not exist: %s", s.table, msg), cause)
	}
	if _, ok := authCodes[re.Code]; ok || status == http.StatusUnauthorized || strings.Contains(msg, "JWT") {
		return apikey.NewStoreError(apikey.KindAuth, op, msg, cause)
	}
	if status == http.StatusNotFound && re.Code == "" {
		return apikey.NewStoreError(apikey.KindSchema, op,
			fmt.Sprintf("table %q does not exist", s.table), cause)
	}
	if status == http.StatusForbidden {
		return apikey.NewStoreError(apikey.KindAuth, op, msg, cause)
	}
	return apikey.NewStoreError(apikey.KindStore, op, msg, cause)
}
