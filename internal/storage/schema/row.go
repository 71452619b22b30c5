package schema

import (
	"time"

	"github.com/xenking/keydash/internal/domain/apikey"
)

// Row is a decoded remote row: either a SlimRow or a RichRow.
type Row interface {
	RowID() string
	Variant() Variant
	isRow()
}

// SlimRow is a row of the slim layout.
type SlimRow struct {
	ID        string
	Name      string
	Secret    string
	Type      string
	Usage     int64
	CreatedAt time.Time
}

func (r SlimRow) RowID() string { return r.ID }
func (r SlimRow) Variant() Variant { return VariantSlim }
func (SlimRow) isRow() {}

// RichRow is a row of the rich layout. UpdatedAt and LastUsed are nil when
// the store left them unset.
type RichRow struct {
	ID           string
	Name         string
	Description  string
	Secret       string
	Permissions  string
	LimitUsage   bool
	MonthlyLimit int64
	Usage        int64
	LastUsed     *time.Time
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

func (r RichRow) RowID() string { return r.ID }
func (r RichRow) Variant() Variant { return VariantRich }
func (RichRow) isRow() {}

// ToRecord maps a row onto the canonical record, applying the per-field
// defaults: permissions fall back to read, usage is clamped at zero and
// UpdatedAt falls back to CreatedAt.
func ToRecord(row Row) apikey.KeyRecord {
	switch r := row.(type) {
	case SlimRow:
		return apikey.KeyRecord{
			ID:           r.ID,
			Name:         r.Name,
			Secret:       r.Secret,
			Permissions:  apikey.ParsePermission(r.Type),
			UsageCount:   max(r.Usage, 0),
			CreatedAt:    r.CreatedAt,
			UpdatedAt:    r.CreatedAt,
			MonthlyLimit: apikey.DefaultMonthlyLimit,
		}
	case RichRow:
		rec := apikey.KeyRecord{
			ID:           r.ID,
			Name:         r.Name,
			Secret:       r.Secret,
			Permissions:  apikey.ParsePermission(r.Permissions),
			UsageCount:   max(r.Usage, 0),
			CreatedAt:    r.CreatedAt,
			UpdatedAt:    r.CreatedAt,
			Description:  r.Description,
			LimitUsage:   r.LimitUsage,
			MonthlyLimit: r.MonthlyLimit,
			LastUsed:     r.LastUsed,
		}
		if r.UpdatedAt != nil {
			rec.UpdatedAt = *r.UpdatedAt
		}
		return rec
	default:
		return apikey.KeyRecord{Permissions: apikey.PermissionRead}
	}
}

// FromRecord maps a canonical record back onto a row of the given layout.
// The slim layout drops Description, LimitUsage, MonthlyLimit, LastUsed and
// UpdatedAt. VariantAuto is treated as slim.
func FromRecord(rec apikey.KeyRecord, v Variant) Row {
	if v == VariantRich {
		updated := rec.UpdatedAt
		return RichRow{
			ID:           rec.ID,
			Name:         rec.Name,
			Description:  rec.Description,
			Secret:       rec.Secret,
			Permissions:  string(apikey.ParsePermission(string(rec.Permissions))),
			LimitUsage:   rec.LimitUsage,
			MonthlyLimit: rec.MonthlyLimit,
			Usage:        rec.UsageCount,
			LastUsed:     rec.LastUsed,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    &updated,
		}
	}
	return SlimRow{
		ID:        rec.ID,
		Name:      rec.Name,
		Secret:    rec.Secret,
		Type:      string(apikey.ParsePermission(string(rec.Permissions))),
		Usage:     rec.UsageCount,
		CreatedAt: rec.CreatedAt,
	}
}
