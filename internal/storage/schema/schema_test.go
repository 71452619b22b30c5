package schema

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/keydash/internal/domain/apikey"
)

var created = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func slimFields() map[string]any {
	return map[string]any{
		"id":         "7",
		"name":       "prod",
		"key":        "tvly-abc",
		"type":       "write",
		"usage":      int64(12),
		"created_at": "2025-06-15T12:00:00Z",
	}
}

func richFields() map[string]any {
	return map[string]any{
		"id":            "9",
		"name":          "staging",
		"description":   "ci runner",
		"key":           "tvly-def",
		"permissions":   "admin",
		"limit_usage":   true,
		"monthly_limit": int64(500),
		"usage":         int64(3),
		"last_used":     nil,
		"created_at":    "2025-06-15T12:00:00Z",
		"updated_at":    "2025-06-16T08:30:00.5+00:00",
	}
}

func TestParseVariant(t *testing.T) {
	for in, want := range map[string]Variant{"": VariantAuto, "auto": VariantAuto, "SLIM": VariantSlim, "rich": VariantRich} {
		got, err := ParseVariant(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseVariant("wide")
	require.Error(t, err)
}

func TestMapper_Resolve(t *testing.T) {
	t.Run("slim row", func(t *testing.T) {
		m := NewMapper(VariantSlim, Columns{})
		row := m.Resolve(slimFields())

		slim, ok := row.(SlimRow)
		require.True(t, ok, "expected SlimRow, got %T", row)
		assert.Equal(t, "7", slim.ID)
		assert.Equal(t, "write", slim.Type)
		assert.Equal(t, int64(12), slim.Usage)
		assert.True(t, created.Equal(slim.CreatedAt))

		rec := ToRecord(row)
		assert.Equal(t, apikey.PermissionWrite, rec.Permissions)
		assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
		assert.Equal(t, int64(apikey.DefaultMonthlyLimit), rec.MonthlyLimit)
		assert.Empty(t, rec.Description)
		assert.Nil(t, rec.LastUsed)
	})

	t.Run("rich row", func(t *testing.T) {
		m := NewMapper(VariantRich, Columns{})
		rec := ToRecord(m.Resolve(richFields()))

		assert.Equal(t, "staging", rec.Name)
		assert.Equal(t, "ci runner", rec.Description)
		assert.Equal(t, apikey.PermissionAdmin, rec.Permissions)
		assert.True(t, rec.LimitUsage)
		assert.Equal(t, int64(500), rec.MonthlyLimit)
		assert.Nil(t, rec.LastUsed)
		assert.True(t, rec.UpdatedAt.After(rec.CreatedAt))
	})

	t.Run("missing and invalid fields take defaults", func(t *testing.T) {
		m := NewMapper(VariantRich, Columns{})
		rec := ToRecord(m.Resolve(map[string]any{
			"id":          "1",
			"permissions": "superuser",
			"usage":       int64(-4),
		}))

		assert.Equal(t, apikey.PermissionRead, rec.Permissions)
		assert.Equal(t, int64(0), rec.UsageCount)
		assert.Equal(t, int64(apikey.DefaultMonthlyLimit), rec.MonthlyLimit)
		assert.True(t, rec.CreatedAt.IsZero())
		assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
	})

	t.Run("custom column names", func(t *testing.T) {
		m := NewMapper(VariantSlim, Columns{Secret: "secret_value", Usage: "usage_count"})
		rec := ToRecord(m.Resolve(map[string]any{
			"id":           "2",
			"name":         "x",
			"secret_value": "tvly-zzz",
			"usage_count":  int64(8),
		}))

		assert.Equal(t, "tvly-zzz", rec.Secret)
		assert.Equal(t, int64(8), rec.UsageCount)
	})

	t.Run("postgres value types", func(t *testing.T) {
		id := uuid.MustParse("6f1c1f0e-3d0a-4f57-9a51-3c7d3f7a0b11")
		m := NewMapper(VariantSlim, Columns{})
		rec := ToRecord(m.Resolve(map[string]any{
			"id":         [16]byte(id),
			"name":       "pg",
			"key":        "tvly-pg",
			"type":       "admin",
			"usage":      int32(5),
			"created_at": created,
		}))

		assert.Equal(t, id.String(), rec.ID)
		assert.Equal(t, int64(5), rec.UsageCount)
		assert.True(t, created.Equal(rec.CreatedAt))
	})
}

func TestMapper_AutoDetect(t *testing.T) {
	m := NewMapper(VariantAuto, Columns{})
	assert.Nil(t, m.SelectColumns())
	assert.Equal(t, VariantSlim, m.Variant(), "undetected layout writes slim")

	_, isSlim := m.Resolve(slimFields()).(SlimRow)
	assert.True(t, isSlim)
	assert.Equal(t, VariantSlim, m.Variant())

	_, isRich := m.Resolve(richFields()).(RichRow)
	assert.True(t, isRich)
	assert.Equal(t, VariantRich, m.Variant())
	assert.Equal(t, VariantAuto, m.Configured())
}

func TestMapper_SettleLayout(t *testing.T) {
	t.Run("observe rich columns of an empty table", func(t *testing.T) {
		m := NewMapper(VariantAuto, Columns{})
		assert.False(t, m.Settled())
		assert.Equal(t, VariantRich, m.Observe([]string{"id", "name", "key", "permissions", "monthly_limit"}))
		assert.True(t, m.Settled())
		assert.Contains(t, m.InsertFields(apikey.Draft{Name: "a"}.Normalize(), "tvly-1"), Field{Column: "permissions", Value: "read"})
	})

	t.Run("observe slim columns", func(t *testing.T) {
		m := NewMapper(VariantAuto, Columns{})
		assert.Equal(t, VariantSlim, m.Observe([]string{"id", "name", "key", "type", "usage", "created_at"}))
		assert.True(t, m.Settled())
	})

	t.Run("configured layout ignores observations", func(t *testing.T) {
		m := NewMapper(VariantSlim, Columns{})
		assert.True(t, m.Settled())
		assert.Equal(t, VariantSlim, m.Observe([]string{"permissions"}))
		assert.False(t, m.SwitchLayout(VariantSlim))
	})

	t.Run("switch after a rejected write", func(t *testing.T) {
		m := NewMapper(VariantAuto, Columns{})
		require.True(t, m.SwitchLayout(m.Variant()))
		assert.Equal(t, VariantRich, m.Variant())
		require.True(t, m.SwitchLayout(VariantRich))
		assert.Equal(t, VariantSlim, m.Variant())
	})
}

func TestRoundTrip(t *testing.T) {
	m := NewMapper(VariantRich, Columns{})
	rec := ToRecord(m.Resolve(richFields()))

	t.Run("rich preserves name and permissions", func(t *testing.T) {
		back, ok := FromRecord(rec, VariantRich).(RichRow)
		require.True(t, ok)
		assert.Equal(t, "staging", back.Name)
		assert.Equal(t, "admin", back.Permissions)
		assert.Equal(t, "ci runner", back.Description)
		assert.Equal(t, rec, ToRecord(back))
	})

	t.Run("slim drops rich-only fields", func(t *testing.T) {
		back, ok := FromRecord(rec, VariantSlim).(SlimRow)
		require.True(t, ok)
		assert.Equal(t, "staging", back.Name)
		assert.Equal(t, "admin", back.Type)

		again := ToRecord(back)
		assert.Equal(t, rec.Name, again.Name)
		assert.Equal(t, rec.Permissions, again.Permissions)
		assert.Empty(t, again.Description)
		assert.False(t, again.LimitUsage)
	})
}

func TestMapper_WriteFields(t *testing.T) {
	draft := apikey.Draft{Name: "prod"}.Normalize()
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	name := "renamed"
	perm := apikey.PermissionWrite

	t.Run("slim insert", func(t *testing.T) {
		m := NewMapper(VariantSlim, Columns{})
		assert.Equal(t, []Field{
			{Column: "name", Value: "prod"},
			{Column: "key", Value: "tvly-1"},
			{Column: "type", Value: "read"},
			{Column: "usage", Value: int64(0)},
		}, m.InsertFields(draft, "tvly-1"))
	})

	t.Run("rich insert", func(t *testing.T) {
		m := NewMapper(VariantRich, Columns{})
		fields := m.InsertFields(draft, "tvly-1")
		assert.Contains(t, fields, Field{Column: "permissions", Value: "read"})
		assert.Contains(t, fields, Field{Column: "monthly_limit", Value: int64(apikey.DefaultMonthlyLimit)})
		assert.NotContains(t, fields, Field{Column: "type", Value: "read"})
	})

	t.Run("slim patch", func(t *testing.T) {
		m := NewMapper(VariantSlim, Columns{})
		assert.Equal(t, []Field{
			{Column: "name", Value: "renamed"},
			{Column: "type", Value: "write"},
		}, m.PatchFields(apikey.Patch{Name: &name, Permissions: &perm}, now))
	})

	t.Run("rich patch stamps updated_at", func(t *testing.T) {
		m := NewMapper(VariantRich, Columns{})
		assert.Equal(t, []Field{
			{Column: "name", Value: "renamed"},
			{Column: "updated_at", Value: now},
		}, m.PatchFields(apikey.Patch{Name: &name}, now))
	})

	t.Run("empty patch writes nothing", func(t *testing.T) {
		m := NewMapper(VariantRich, Columns{})
		assert.Empty(t, m.PatchFields(apikey.Patch{}, now))
	})
}

func TestDecodeRows(t *testing.T) {
	data := []byte(`[
		{"id": 1, "name": "a", "key": "tvly-a", "type": "read", "usage": 0, "created_at": "2025-06-15T12:00:00+00:00"},
		{"id": 2, "name": "b", "key": "tvly-b", "type": null, "usage": 1.5, "meta": {"x": [1, 2]}}
	]`)

	rows, err := DecodeRows(data)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "tvly-a", rows[0]["key"])
	assert.Nil(t, rows[1]["type"])
	assert.Equal(t, 1.5, rows[1]["usage"])

	m := NewMapper(VariantSlim, Columns{})
	rec := ToRecord(m.Resolve(rows[1]))
	assert.Equal(t, "2", rec.ID)
	assert.Equal(t, apikey.PermissionRead, rec.Permissions)
	assert.Equal(t, int64(1), rec.UsageCount)

	empty, err := DecodeRows([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = DecodeRows([]byte(`{"code":"42P01"}`))
	require.Error(t, err)
}

func TestEncodeFields(t *testing.T) {
	got := EncodeFields([]Field{
		{Column: "name", Value: "prod"},
		{Column: "usage", Value: int64(0)},
		{Column: "limit_usage", Value: false},
		{Column: "updated_at", Value: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
	})

	assert.JSONEq(t, `{"name":"prod","usage":0,"limit_usage":false,"updated_at":"2025-07-01T00:00:00Z"}`, string(got))
}
