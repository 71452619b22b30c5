package schema

import (
	"sync/atomic"
	"time"

	"github.com/xenking/keydash/internal/domain/apikey"
)

// Mapper resolves raw rows into the Row union and builds write payloads for
// the configured layout.
//
// With VariantAuto the layout is settled by the first row read, by the
// table's column names when a transport can list them (Observe), or by a
// write the store rejected for a missing column (SwitchLayout). Until then
// writes use the slim layout.
type Mapper struct {
	variant  Variant
	cols     Columns
	detected atomic.Int32
}

// NewMapper returns a Mapper for the given layout and column names.
func NewMapper(v Variant, cols Columns) *Mapper {
	return &Mapper{variant: v, cols: cols.withDefaults()}
}

// Columns returns the effective column names.
func (m *Mapper) Columns() Columns { return m.cols }

// Configured returns the layout the mapper was created with.
func (m *Mapper) Configured() Variant { return m.variant }

// Variant returns the layout used for writes.
func (m *Mapper) Variant() Variant {
	if m.variant != VariantAuto {
		return m.variant
	}
	if v := Variant(m.detected.Load()); v != VariantAuto {
		return v
	}
	return VariantSlim
}

// Settled reports whether the write layout is known rather than assumed.
func (m *Mapper) Settled() bool {
	return m.variant != VariantAuto || Variant(m.detected.Load()) != VariantAuto
}

// Observe settles an auto layout from the column names of the table and
// returns the resulting write layout.
func (m *Mapper) Observe(columns []string) Variant {
	if m.variant != VariantAuto {
		return m.variant
	}
	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[c] = struct{}{}
	}
	v := VariantSlim
	for _, col := range m.cols.richOnly() {
		if _, ok := present[col]; ok {
			v = VariantRich
			break
		}
	}
	m.detected.Store(int32(v))
	return v
}

// SwitchLayout moves an auto layout away from failed, the layout of a write
// the store rejected for a missing column. It reports false when the layout
// is configured, in which case the write must not be retried.
func (m *Mapper) SwitchLayout(failed Variant) bool {
	if m.variant != VariantAuto {
		return false
	}
	next := VariantRich
	if failed == VariantRich {
		next = VariantSlim
	}
	m.detected.Store(int32(next))
	return true
}

// SelectColumns returns the explicit column list for reads, or nil when the
// layout is detected and every column must be requested.
func (m *Mapper) SelectColumns() []string {
	switch m.variant {
	case VariantSlim:
		return m.cols.Slim()
	case VariantRich:
		return m.cols.Rich()
	default:
		return nil
	}
}

// Resolve decodes one raw row. Absent fields take their defaults; values of
// unexpected types are treated as absent.
func (m *Mapper) Resolve(fields map[string]any) Row {
	v := m.variant
	if v == VariantAuto {
		v = m.detect(fields)
	}

	c := m.cols
	if v == VariantRich {
		row := RichRow{
			ID:           asString(fields[c.ID]),
			Name:         asString(fields[c.Name]),
			Description:  asString(fields[c.Description]),
			Secret:       asString(fields[c.Secret]),
			Permissions:  asString(fields[c.Permissions]),
			LimitUsage:   asBool(fields[c.LimitUsage]),
			MonthlyLimit: apikey.DefaultMonthlyLimit,
			Usage:        asInt64(fields[c.Usage]),
			LastUsed:     asTimePtr(fields[c.LastUsed]),
			CreatedAt:    asTime(fields[c.CreatedAt]),
			UpdatedAt:    asTimePtr(fields[c.UpdatedAt]),
		}
		if raw, ok := fields[c.MonthlyLimit]; ok && raw != nil {
			row.MonthlyLimit = asInt64(raw)
		}
		return row
	}

	return SlimRow{
		ID:        asString(fields[c.ID]),
		Name:      asString(fields[c.Name]),
		Secret:    asString(fields[c.Secret]),
		Type:      asString(fields[c.Type]),
		Usage:     asInt64(fields[c.Usage]),
		CreatedAt: asTime(fields[c.CreatedAt]),
	}
}

func (m *Mapper) detect(fields map[string]any) Variant {
	for _, col := range m.cols.richOnly() {
		if _, ok := fields[col]; ok {
			m.detected.Store(int32(VariantRich))
			return VariantRich
		}
	}
	m.detected.CompareAndSwap(int32(VariantAuto), int32(VariantSlim))
	return VariantSlim
}

// InsertFields returns the columns written when creating a key. The draft
// must already be normalized.
func (m *Mapper) InsertFields(d apikey.Draft, secret string) []Field {
	perm := string(apikey.ParsePermission(string(d.Permissions)))
	c := m.cols
	if m.Variant() == VariantRich {
		return []Field{
			{Column: c.Name, Value: d.Name},
			{Column: c.Description, Value: ""},
			{Column: c.Secret, Value: secret},
			{Column: c.Permissions, Value: perm},
			{Column: c.LimitUsage, Value: false},
			{Column: c.MonthlyLimit, Value: int64(apikey.DefaultMonthlyLimit)},
			{Column: c.Usage, Value: int64(0)},
		}
	}
	return []Field{
		{Column: c.Name, Value: d.Name},
		{Column: c.Secret, Value: secret},
		{Column: c.Type, Value: perm},
		{Column: c.Usage, Value: int64(0)},
	}
}

// PatchFields returns the columns written by an update. Only the name and
// the permission column are ever touched; the rich layout also stamps
// updated_at with now.
func (m *Mapper) PatchFields(p apikey.Patch, now time.Time) []Field {
	c := m.cols
	rich := m.Variant() == VariantRich

	var out []Field
	if p.Name != nil {
		out = append(out, Field{Column: c.Name, Value: *p.Name})
	}
	if p.Permissions != nil {
		col := c.Type
		if rich {
			col = c.Permissions
		}
		out = append(out, Field{Column: col, Value: string(apikey.ParsePermission(string(*p.Permissions)))})
	}
	if rich && len(out) > 0 {
		out = append(out, Field{Column: c.UpdatedAt, Value: now.UTC()})
	}
	return out
}
