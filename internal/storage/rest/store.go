// Package rest implements the record store over the hosted table's REST
// gateway (PostgREST dialect). Requests authenticate with the project's
// anonymous key, sent both as the apikey header and as a bearer token.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/keydash/internal/domain/apikey"
	"github.com/xenking/keydash/internal/storage/schema"
)

// DefaultTimeout bounds ListAll and Ping.
const DefaultTimeout = 10 * time.Second

// maxBodySize caps how much of a response is read.
const maxBodySize = 8 << 20

// Options configures a Store.
type Options struct {
	// URL is the project base URL, e.g. https://xyz.supabase.co.
	URL string
	// AnonKey is the project's anonymous API key.
	AnonKey string
	// Table defaults to "api_keys".
	Table string
	// Timeout bounds ListAll and Ping. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Mapper resolves rows. Defaults to auto detection with default columns.
	Mapper *schema.Mapper

	// Transport is the base round tripper, http.DefaultTransport when nil.
	Transport      http.RoundTripper
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Store talks to the REST gateway of the hosted table.
type Store struct {
	client   *http.Client
	endpoint string
	anonKey  string
	table    string
	timeout  time.Duration
	mapper   *schema.Mapper
	now      func() time.Time
}

// New validates opts and returns a Store. It performs no network calls.
func New(opts Options) (*Store, error) {
	if opts.URL == "" {
		return nil, errors.New("store URL is required")
	}
	if opts.AnonKey == "" {
		return nil, errors.New("store anon key is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.URL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse store URL")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("store URL %q must be absolute", opts.URL)
	}
	if opts.Table == "" {
		opts.Table = "api_keys"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Mapper == nil {
		opts.Mapper = schema.NewMapper(schema.VariantAuto, schema.Columns{})
	}

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	var otelOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	if opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}

	return &Store{
		client:   &http.Client{Transport: otelhttp.NewTransport(transport, otelOpts...)},
		endpoint: base.String() + "/rest/v1/" + url.PathEscape(opts.Table),
		anonKey:  opts.AnonKey,
		table:    opts.Table,
		timeout:  opts.Timeout,
		mapper:   opts.Mapper,
		now:      time.Now,
	}, nil
}

// ListAll returns every row, newest first.
func (s *Store) ListAll(ctx context.Context) ([]schema.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q := s.selectQuery()
	q.Set("order", s.mapper.Columns().CreatedAt+".desc")

	body, err := s.do(ctx, "list", http.MethodGet, q, nil)
	if err != nil {
		return nil, err
	}
	return s.rows("list", body)
}

// Create inserts a key with the given secret and returns the stored row.
func (s *Store) Create(ctx context.Context, draft apikey.Draft, secret string) (schema.Row, error) {
	draft = draft.Normalize()
	if err := draft.Validate(); err != nil {
		return nil, apikey.NewStoreError(apikey.KindStore, "create", err.Error(), err)
	}
	if secret == "" {
		return nil, apikey.NewStoreError(apikey.KindStore, "create", apikey.ErrNoSecret.Error(), apikey.ErrNoSecret)
	}

	return s.retryLayout(func() (schema.Row, error) {
		payload := schema.EncodeFields(s.mapper.InsertFields(draft, secret))
		body, err := s.do(ctx, "create", http.MethodPost, s.selectQuery(), payload)
		if err != nil {
			return nil, err
		}
		return s.single("create", body, "no data returned from record store")
	})
}

// Update writes the name and permissions of the key id.
func (s *Store) Update(ctx context.Context, id string, patch apikey.Patch) (schema.Row, error) {
	patch = patch.Normalize()
	if err := patch.Validate(); err != nil {
		return nil, apikey.NewStoreError(apikey.KindStore, "update", err.Error(), err)
	}

	return s.retryLayout(func() (schema.Row, error) {
		q := s.selectQuery()
		q.Set(s.mapper.Columns().ID, "eq."+id)

		payload := schema.EncodeFields(s.mapper.PatchFields(patch, s.now()))
		body, err := s.do(ctx, "update", http.MethodPatch, q, payload)
		if err != nil {
			return nil, err
		}
		return s.single("update", body, fmt.Sprintf("no API key with id %q", id))
	})
}

// retryLayout runs write once more when an undetected layout guessed wrong
// and the gateway rejected one of the written columns. An empty table gives
// no row to detect the layout from, so the first write settles it.
func (s *Store) retryLayout(write func() (schema.Row, error)) (schema.Row, error) {
	used := s.mapper.Variant()
	settled := s.mapper.Settled()
	row, err := write()
	if err == nil || settled || !errors.Is(err, errMissingColumn) {
		return row, err
	}
	if !s.mapper.SwitchLayout(used) {
		return nil, err
	}
	return write()
}

// Delete removes the key id. Deleting an unknown id is an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	cols := s.mapper.Columns()
	q := url.Values{}
	q.Set("select", cols.ID)
	q.Set(cols.ID, "eq."+id)

	body, err := s.do(ctx, "delete", http.MethodDelete, q, nil)
	if err != nil {
		return err
	}
	rows, err := schema.DecodeRows(body)
	if err != nil {
		return apikey.NewStoreError(apikey.KindStore, "delete", "malformed response from record store", err)
	}
	if len(rows) == 0 {
		return apikey.NewStoreError(apikey.KindStore, "delete", fmt.Sprintf("no API key with id %q", id), nil)
	}
	return nil
}

// Ping checks that the table is reachable and readable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("select", s.mapper.Columns().ID)
	q.Set("limit", "1")

	_, err := s.do(ctx, "ping", http.MethodGet, q, nil)
	return err
}

func (s *Store) selectQuery() url.Values {
	q := url.Values{}
	if cols := s.mapper.SelectColumns(); cols != nil {
		q.Set("select", strings.Join(cols, ","))
	} else {
		q.Set("select", "*")
	}
	return q
}

func (s *Store) do(ctx context.Context, op, method string, q url.Values, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+"?"+q.Encode(), body)
	if err != nil {
		return nil, apikey.NewStoreError(apikey.KindStore, op, "build request", err)
	}
	req.Header.Set("apikey", s.anonKey)
	req.Header.Set("Authorization", "Bearer "+s.anonKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.classifyTransport(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, s.classifyTransport(op, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, s.classifyResponse(op, resp.StatusCode, data)
	}
	return data, nil
}

func (s *Store) rows(op string, body []byte) ([]schema.Row, error) {
	raw, err := schema.DecodeRows(body)
	if err != nil {
		return nil, apikey.NewStoreError(apikey.KindStore, op, "malformed response from record store", err)
	}
	out := make([]schema.Row, len(raw))
	for i, fields := range raw {
		out[i] = s.mapper.Resolve(fields)
	}
	return out, nil
}

func (s *Store) single(op string, body []byte, emptyMsg string) (schema.Row, error) {
	rows, err := s.rows(op, body)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apikey.NewStoreError(apikey.KindStore, op, emptyMsg, nil)
	}
	return rows[0], nil
}
