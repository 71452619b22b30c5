// Package schema maps rows of the remote api_keys table onto the canonical
// apikey.KeyRecord.
//
// Two table layouts are deployed in the wild. The slim layout stores only
// id, name, key, type, usage and created_at. The rich layout replaces type
// with permissions and adds description, limit flags, a monthly limit,
// last-used and updated-at columns. A row is resolved into exactly one of
// SlimRow or RichRow at the decode boundary; nothing outside the storage
// layer sees column names.
package schema

import (
	"strings"

	"github.com/go-faster/errors"
)

// Variant selects the table layout.
type Variant int

const (
	// VariantAuto detects the layout from the columns present in each row.
	VariantAuto Variant = iota
	// VariantSlim is the id/name/key/type/usage/created_at layout.
	VariantSlim
	// VariantRich is the layout with permissions, description and limits.
	VariantRich
)

func (v Variant) String() string {
	switch v {
	case VariantSlim:
		return "slim"
	case VariantRich:
		return "rich"
	default:
		return "auto"
	}
}

// ParseVariant parses "slim", "rich" or "auto" (also the empty string).
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return VariantAuto, nil
	case "slim":
		return VariantSlim, nil
	case "rich":
		return VariantRich, nil
	default:
		return VariantAuto, errors.Errorf("unknown schema variant %q", s)
	}
}

// Columns names the remote columns. Empty entries fall back to the defaults
// returned by DefaultColumns.
type Columns struct {
	ID           string `default:"id" usage:"Primary key column"`
	Name         string `default:"name" usage:"Display name column"`
	Secret       string `default:"key" usage:"Secret value column"`
	Type         string `default:"type" usage:"Permission column of the slim layout"`
	Permissions  string `default:"permissions" usage:"Permission column of the rich layout"`
	Usage        string `default:"usage" usage:"Usage counter column"`
	Description  string `default:"description" usage:"Description column (rich layout)"`
	LimitUsage   string `default:"limit_usage" usage:"Usage limit flag column (rich layout)"`
	MonthlyLimit string `default:"monthly_limit" usage:"Monthly limit column (rich layout)"`
	LastUsed     string `default:"last_used" usage:"Last used timestamp column (rich layout)"`
	CreatedAt    string `default:"created_at" usage:"Creation timestamp column"`
	UpdatedAt    string `default:"updated_at" usage:"Update timestamp column (rich layout)"`
}

// DefaultColumns returns the column names used by both published layouts.
func DefaultColumns() Columns {
	return Columns{
		ID:           "id",
		Name:         "name",
		Secret:       "key",
		Type:         "type",
		Permissions:  "permissions",
		Usage:        "usage",
		Description:  "description",
		LimitUsage:   "limit_usage",
		MonthlyLimit: "monthly_limit",
		LastUsed:     "last_used",
		CreatedAt:    "created_at",
		UpdatedAt:    "updated_at",
	}
}

func (c Columns) withDefaults() Columns {
	d := DefaultColumns()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&c.ID, d.ID)
	fill(&c.Name, d.Name)
	fill(&c.Secret, d.Secret)
	fill(&c.Type, d.Type)
	fill(&c.Permissions, d.Permissions)
	fill(&c.Usage, d.Usage)
	fill(&c.Description, d.Description)
	fill(&c.LimitUsage, d.LimitUsage)
	fill(&c.MonthlyLimit, d.MonthlyLimit)
	fill(&c.LastUsed, d.LastUsed)
	fill(&c.CreatedAt, d.CreatedAt)
	fill(&c.UpdatedAt, d.UpdatedAt)
	return c
}

// Slim returns the columns of the slim layout in select order.
func (c Columns) Slim() []string {
	return []string{c.ID, c.Name, c.Secret, c.Type, c.Usage, c.CreatedAt}
}

// Rich returns the columns of the rich layout in select order.
func (c Columns) Rich() []string {
	return []string{
		c.ID, c.Name, c.Description, c.Secret, c.Permissions,
		c.LimitUsage, c.MonthlyLimit, c.Usage, c.LastUsed, c.CreatedAt, c.UpdatedAt,
	}
}

// richOnly are the columns whose presence identifies the rich layout.
func (c Columns) richOnly() []string {
	return []string{c.Permissions, c.Description, c.LimitUsage, c.MonthlyLimit, c.LastUsed}
}

// Field is one column/value pair of an insert or update payload.
type Field struct {
	Column string
	Value  any
}
