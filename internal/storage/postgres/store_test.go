package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/keydash/internal/domain/apikey"
	"github.com/xenking/keydash/internal/storage/schema"
)

func TestStore_SQL(t *testing.T) {
	slim := New(nil, Options{Mapper: schema.NewMapper(schema.VariantSlim, schema.Columns{})})
	auto := New(nil, Options{Table: "keys"})

	t.Run("list", func(t *testing.T) {
		assert.Equal(t,
			`SELECT "id", "name", "key", "type", "usage", "created_at" FROM "api_keys" ORDER BY "created_at" DESC`,
			slim.listSQL())
		assert.Equal(t, `SELECT * FROM "keys" ORDER BY "created_at" DESC`, auto.listSQL())
	})

	t.Run("insert", func(t *testing.T) {
		sql, args := auto.insertSQL([]schema.Field{
			{Column: "name", Value: "prod"},
			{Column: "key", Value: "tvly-1"},
		})
		assert.Equal(t, `INSERT INTO "keys" ("name", "key") VALUES ($1, $2) RETURNING *`, sql)
		assert.Equal(t, []any{"prod", "tvly-1"}, args)
	})

	t.Run("update", func(t *testing.T) {
		sql, args := slim.updateSQL("42", []schema.Field{
			{Column: "name", Value: "renamed"},
			{Column: "type", Value: "admin"},
		})
		assert.Equal(t,
			`UPDATE "api_keys" SET "name" = $1, "type" = $2 WHERE "id"::text = $3 RETURNING "id", "name", "key", "type", "usage", "created_at"`,
			sql)
		assert.Equal(t, []any{"renamed", "admin", "42"}, args)
	})

	t.Run("column listing", func(t *testing.T) {
		assert.Equal(t, `SELECT * FROM "keys" LIMIT 0`, auto.columnsSQL())
	})

	t.Run("delete", func(t *testing.T) {
		assert.Equal(t, `DELETE FROM "keys" WHERE "id"::text = $1`, auto.deleteSQL())
	})

	t.Run("identifiers are quoted", func(t *testing.T) {
		odd := New(nil, Options{Table: `api"keys`})
		assert.Equal(t, `DELETE FROM "api""keys" WHERE "id"::text = $1`, odd.deleteSQL())
	})
}

func TestStore_Classify(t *testing.T) {
	s := New(nil, Options{Timeout: 3 * time.Second})

	tests := []struct {
		name string
		err  error
		want apikey.Kind
	}{
		{"undefined table", &pgconn.PgError{Code: "42P01", Message: `relation "api_keys" does not exist`}, apikey.KindSchema},
		{"undefined column", &pgconn.PgError{Code: "42703"}, apikey.KindSchema},
		{"bad password", &pgconn.PgError{Code: "28P01"}, apikey.KindAuth},
		{"insufficient privilege", &pgconn.PgError{Code: "42501"}, apikey.KindAuth},
		{"unique violation", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, apikey.KindStore},
		{"deadline", context.DeadlineExceeded, apikey.KindConnectivity},
		{"cancelled", errors.Wrap(context.Canceled, "query"), apikey.KindConnectivity},
		{"other", errors.New("boom"), apikey.KindStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.classify("list", tt.err)
			assert.Equal(t, tt.want, apikey.KindOf(err))
		})
	}

	err := s.classify("list", context.DeadlineExceeded)
	assert.Equal(t, "request timeout after 3s", apikey.MessageOf(err))

	err = s.classify("list", &pgconn.PgError{Code: "42P01", Message: "missing"})
	assert.Contains(t, apikey.MessageOf(err), `"api_keys"`)
}

func TestStore_RejectsInvalidInput(t *testing.T) {
	s := New(nil, Options{})

	_, err := s.Create(context.Background(), apikey.Draft{}, "tvly-x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apikey.ErrInvalidDraft))

	_, err = s.Create(context.Background(), apikey.Draft{Name: "x"}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apikey.ErrNoSecret))

	_, err = s.Update(context.Background(), "1", apikey.Patch{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apikey.ErrEmptyPatch))
}
