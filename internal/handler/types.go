package handler

import (
	"time"

	"github.com/xenking/keydash/internal/domain/apikey"
	"github.com/xenking/keydash/internal/domain/keyset"
)

// keyView is the JSON form of a key. Secret is masked unless the view is
// built for the response that reveals it.
type keyView struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Secret       string     `json:"secret"`
	Permissions  string     `json:"permissions"`
	Usage        int64      `json:"usage"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	Description  string     `json:"description"`
	LimitUsage   bool       `json:"limitUsage"`
	MonthlyLimit int64      `json:"monthlyLimit"`
	LastUsed     *time.Time `json:"lastUsed"`
}

func newKeyView(rec apikey.KeyRecord, reveal bool) keyView {
	secret := rec.MaskedSecret()
	if reveal {
		secret = rec.Secret
	}
	return keyView{
		ID:           rec.ID,
		Name:         rec.Name,
		Secret:       secret,
		Permissions:  string(rec.Permissions),
		Usage:        rec.UsageCount,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		Description:  rec.Description,
		LimitUsage:   rec.LimitUsage,
		MonthlyLimit: rec.MonthlyLimit,
		LastUsed:     rec.LastUsed,
	}
}

type listResponse struct {
	State string    `json:"state"`
	Error *string   `json:"error"`
	Keys  []keyView `json:"keys"`
}

func newListResponse(s keyset.Snapshot) listResponse {
	resp := listResponse{
		State: s.State.String(),
		Keys:  make([]keyView, len(s.Keys)),
	}
	if s.Error != "" {
		resp.Error = &s.Error
	}
	for i, k := range s.Keys {
		resp.Keys[i] = newKeyView(k, false)
	}
	return resp
}

type createRequest struct {
	Name        string `json:"name"`
	Permissions string `json:"permissions"`
}

// updateRequest accepts only the mutable fields; anything else in the body
// is ignored.
type updateRequest struct {
	Name        *string `json:"name"`
	Permissions *string `json:"permissions"`
}

type keyResponse struct {
	Message string   `json:"message"`
	Key     *keyView `json:"key,omitempty"`
}

type secretResponse struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

type connectionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type validateResponse struct {
	Valid   bool     `json:"valid"`
	Message string   `json:"message"`
	Key     *keyView `json:"key,omitempty"`
}

type preferences struct {
	DarkMode bool `json:"darkMode"`
}
