// Package postgres implements the record store directly against a
// PostgreSQL database holding the api_keys table.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/keydash/db"
	"github.com/xenking/keydash/internal/domain/apikey"
	"github.com/xenking/keydash/internal/storage/schema"
)

// DefaultTimeout bounds ListAll and Ping.
const DefaultTimeout = 10 * time.Second

// NewPool creates a pgxpool.Pool for databaseURL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// RunMigrations creates the api_keys table in the given layout. Auto
// detection has nothing to detect on an empty database, so it creates the
// slim layout.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, v schema.Variant) error {
	ddl := db.Slim
	if v == schema.VariantRich {
		ddl = db.Rich
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("running %s migrations: %w", v, err)
	}
	return nil
}

// Options configures a Store.
type Options struct {
	// Table defaults to "api_keys".
	Table   string
	Timeout time.Duration
	Mapper  *schema.Mapper
}

// Store runs the record store operations as SQL statements over a pool.
type Store struct {
	pool    *pgxpool.Pool
	table   string
	timeout time.Duration
	mapper  *schema.Mapper
	now     func() time.Time
}

// New returns a Store that uses the given pool.
func New(pool *pgxpool.Pool, opts Options) *Store {
	if opts.Table == "" {
		opts.Table = "api_keys"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Mapper == nil {
		opts.Mapper = schema.NewMapper(schema.VariantAuto, schema.Columns{})
	}
	return &Store{
		pool:    pool,
		table:   opts.Table,
		timeout: opts.Timeout,
		mapper:  opts.Mapper,
		now:     time.Now,
	}
}

// ListAll returns every row, newest first.
func (s *Store) ListAll(ctx context.Context) ([]schema.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.query(ctx, "list", s.listSQL())
	if err != nil {
		return nil, err
	}
	return rows, nil
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

	if err := s.settleLayout(ctx, "create"); err != nil {
		return nil, err
	}
	sql, args := s.insertSQL(s.mapper.InsertFields(draft, secret))
	rows, err := s.query(ctx, "create", sql, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apikey.NewStoreError(apikey.KindStore, "create", "no data returned from record store", nil)
	}
	return rows[0], nil
}

// Update writes the name and permissions of the key id.
func (s *Store) Update(ctx context.Context, id string, patch apikey.Patch) (schema.Row, error) {
	patch = patch.Normalize()
	if err := patch.Validate(); err != nil {
		return nil, apikey.NewStoreError(apikey.KindStore, "update", err.Error(), err)
	}

	if err := s.settleLayout(ctx, "update"); err != nil {
		return nil, err
	}
	sql, args := s.updateSQL(id, s.mapper.PatchFields(patch, s.now()))
	rows, err := s.query(ctx, "update", sql, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apikey.NewStoreError(apikey.KindStore, "update", fmt.Sprintf("no API key with id %q", id), nil)
	}
	return rows[0], nil
}

// Delete removes the key id. Deleting an unknown id is an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, s.deleteSQL(), id)
	if err != nil {
		return s.classify("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return apikey.NewStoreError(apikey.KindStore, "delete", fmt.Sprintf("no API key with id %q", id), nil)
	}
	return nil
}

// Ping checks that the table is reachable and readable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sql := fmt.Sprintf("SELECT %s FROM %s LIMIT 1", ident(s.mapper.Columns().ID), ident(s.table))
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return s.classify("ping", err)
	}
	return nil
}

// settleLayout reads the table's column names when the layout is still
// undetected, so the first write into an empty table uses the right columns.
func (s *Store) settleLayout(ctx context.Context, op string) error {
	if s.mapper.Settled() {
		return nil
	}
	rows, err := s.pool.Query(ctx, s.columnsSQL())
	if err != nil {
		return s.classify(op, err)
	}
	fds := rows.FieldDescriptions()
	names := make([]string, len(fds))
	for i, fd := range fds {
		names[i] = fd.Name
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return s.classify(op, err)
	}
	s.mapper.Observe(names)
	return nil
}

func (s *Store) query(ctx context.Context, op, sql string, args ...any) ([]schema.Row, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, s.classify(op, err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, s.classify(op, err)
	}
	out := make([]schema.Row, len(raw))
	for i, fields := range raw {
		out[i] = s.mapper.Resolve(fields)
	}
	return out, nil
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// returning is the projection used by reads and RETURNING clauses.
func (s *Store) returning() string {
	cols := s.mapper.SelectColumns()
	if cols == nil {
		return "*"
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ident(c)
	}
	return strings.Join(quoted, ", ")
}

func (s *Store) columnsSQL() string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT 0", ident(s.table))
}

func (s *Store) listSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s DESC",
		s.returning(), ident(s.table), ident(s.mapper.Columns().CreatedAt))
}

func (s *Store) insertSQL(fields []schema.Field) (string, []any) {
	cols := make([]string, len(fields))
	params := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		cols[i] = ident(f.Column)
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = f.Value
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		ident(s.table), strings.Join(cols, ", "), strings.Join(params, ", "), s.returning())
	return sql, args
}

// updateSQL compares ids as text so that uuid and integer keys both work
// and a malformed id matches nothing instead of failing the cast.
func (s *Store) updateSQL(id string, fields []schema.Field) (string, []any) {
	sets := make([]string, len(fields))
	args := make([]any, 0, len(fields)+1)
	for i, f := range fields {
		sets[i] = fmt.Sprintf("%s = $%d", ident(f.Column), i+1)
		args = append(args, f.Value)
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s::text = $%d RETURNING %s",
		ident(s.table), strings.Join(sets, ", "), ident(s.mapper.Columns().ID), len(args), s.returning())
	return sql, args
}

func (s *Store) deleteSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s::text = $1", ident(s.table), ident(s.mapper.Columns().ID))
}
