package apikey

import (
	"strings"
	"time"
)

// Permission enumerates the access levels a key may carry.
type Permission string

const (
	// PermissionRead allows read-only access. It is the default for any
	// missing or unrecognized value.
	PermissionRead Permission = "read"
	// PermissionWrite allows read and write access.
	PermissionWrite Permission = "write"
	// PermissionAdmin allows full access.
	PermissionAdmin Permission = "admin"
)

// DefaultMonthlyLimit is reported for keys stored without a monthly limit.
const DefaultMonthlyLimit = 1000

const (
	maskPrefixLen = 5
	maskLen       = 32
	maskRune      = "•"
)

// ParsePermission maps s onto the enumerated set, defaulting to
// PermissionRead for empty or unknown input.
func ParsePermission(s string) Permission {
	switch p := Permission(strings.ToLower(strings.TrimSpace(s))); p {
	case PermissionRead, PermissionWrite, PermissionAdmin:
		return p
	default:
		return PermissionRead
	}
}

// Valid reports whether p is one of the enumerated permissions.
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionAdmin:
		return true
	}
	return false
}

// KeyRecord is the canonical representation of one API key and its metadata.
//
// Description, LimitUsage, MonthlyLimit and LastUsed only exist in the rich
// table layout. When the slim layout is deployed they hold their defaults and
// are not written back.
type KeyRecord struct {
	ID          string
	Name        string
	Secret      string
	Permissions Permission
	UsageCount  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Description  string
	LimitUsage   bool
	MonthlyLimit int64
	LastUsed     *time.Time
}

// MaskedSecret returns the display form of the record's secret.
func (r KeyRecord) MaskedSecret() string {
	return Mask(r.Secret)
}

// Mask shows the first five characters of secret followed by a fixed run of
// mask characters. Secrets shorter than the prefix are masked entirely.
func Mask(secret string) string {
	mask := strings.Repeat(maskRune, maskLen)
	runes := []rune(secret)
	if len(runes) < maskPrefixLen {
		return mask
	}
	return string(runes[:maskPrefixLen]) + mask
}

// Draft holds the user-supplied fields for a new key.
type Draft struct {
	Name        string     `validate:"required,max=128"`
	Permissions Permission `validate:"omitempty,oneof=read write admin"`
}

// Normalize trims the name and fills in the default permission.
func (d Draft) Normalize() Draft {
	d.Name = strings.TrimSpace(d.Name)
	if d.Permissions == "" {
		d.Permissions = PermissionRead
	}
	return d
}

// Patch holds the mutable fields of a key. Nil fields are left unchanged.
type Patch struct {
	Name        *string     `validate:"omitnil,min=1,max=128"`
	Permissions *Permission `validate:"omitnil,oneof=read write admin"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Permissions == nil
}

// Normalize trims the name.
func (p Patch) Normalize() Patch {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		p.Name = &name
	}
	return p
}
