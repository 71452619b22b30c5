package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/keydash/internal/domain/apikey"
	"github.com/xenking/keydash/pkg/httpmiddleware"
)

// ListKeys loads the session's keys on first use and returns the list with
// masked secrets.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	s, ok := current(w, r)
	if !ok {
		return
	}
	s.Keys.EnsureLoaded(r.Context())
	writeJSON(w, http.StatusOK, newListResponse(s.Keys.Snapshot()))
}

// RefreshKeys reloads the list from the store.
func (h *Handler) RefreshKeys(w http.ResponseWriter, r *http.Request) {
	s, ok := current(w, r)
	if !ok {
		return
	}
	s.Keys.Load(r.Context())
	writeJSON(w, http.StatusOK, newListResponse(s.Keys.Snapshot()))
}

// CreateKey stores a new key. The response is the only one that carries the
// full secret of a new key.
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	s, ok := current(w, r)
	if !ok {
		return
	}
	var req createRequest
	if !decode(w, r, &req) {
		return
	}

	draft := apikey.Draft{Name: req.Name, Permissions: apikey.ParsePermission(req.Permissions)}.Normalize()
	if err := draft.Validate(); err != nil {
		writeInvalid(w, err.Error())
		return
	}

	out := s.Keys.Create(r.Context(), draft)
	if !out.OK {
		writeStoreFailure(w, out.Message)
		return
	}
	view := newKeyView(*out.Record, true)
	writeJSON(w, http.StatusCreated, keyResponse{Message: out.Message, Key: &view})
}

// UpdateKey applies a name or permission change.
func (h *Handler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	s, ok := current(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !decode(w, r, &req) {
		return
	}

	patch := apikey.Patch{Name: req.Name}
	if req.Permissions != nil {
		p := apikey.ParsePermission(*req.Permissions)
		patch.Permissions = &p
	}
	patch = patch.Normalize()
	if err := patch.Validate(); err != nil {
		if errors.Is(err, apikey.ErrEmptyPatch) {
			writeInvalid(w, "nothing to update: provide name or permissions")
			return
		}
		writeInvalid(w, err.Error())
		return
	}

	out := s.Keys.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if !out.OK {
		writeStoreFailure(w, out.Message)
		return
	}
	view := newKeyView(*out.Record, false)
	writeJSON(w, http.StatusOK, keyResponse{Message: out.Message, Key: &view})
}

// DeleteKey removes a key. The caller must pass confirm=true.
func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	s, ok := current(w, r)
	if !ok {
		return
	}
	if confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !confirmed {
		httpmiddleware.WriteError(w, http.StatusBadRequest, codeConfirmationRequired,
			"deleting a key cannot be undone; repeat the request with confirm=true")
		return
	}

	out := s.Keys.Delete(r.Context(), chi.URLParam(r, "id"))
	if !out.OK {
		writeStoreFailure(w, out.Message)
		return
	}
	writeJSON(w, http.StatusOK, keyResponse{Message: out.Message})
}

// RevealSecret returns the unmasked secret of a loaded key.
func (h *Handler) RevealSecret(w http.ResponseWriter, r *http.Request) {
	s, ok := current(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	rec, found := s.Keys.Find(id)
	if !found {
		writeNotFound(w, "API key")
		return
	}
	writeJSON(w, http.StatusOK, secretResponse{ID: rec.ID, Secret: rec.Secret})
}

// TestConnection checks the record store.
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	s, ok := current(w, r)
	if !ok {
		return
	}
	out := s.Keys.TestConnection(r.Context())
	status := http.StatusOK
	if !out.OK {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, connectionResponse{OK: out.OK, Message: out.Message})
}

// DismissError clears the session's error banner.
func (h *Handler) DismissError(w http.ResponseWriter, r *http.Request) {
	s, ok := current(w, r)
	if !ok {
		return
	}
	s.Keys.DismissError()
	w.WriteHeader(http.StatusNoContent)
}

// Validate checks the apikey query parameter against the session's keys.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	s, ok := current(w, r)
	if !ok {
		return
	}
	res, err := s.Keys.Validate(r.Context(), r.URL.Query().Get("apikey"))
	if err != nil {
		// The client went away during the validation delay.
		return
	}
	resp := validateResponse{Valid: res.Valid, Message: res.Message}
	if res.Record != nil {
		view := newKeyView(*res.Record, false)
		resp.Key = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPreferences returns the session's display preferences.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	s, ok := current(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, preferences{DarkMode: s.DarkMode()})
}

// PutPreferences stores the display preferences and mirrors them into the
// session cookie.
func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	s, ok := current(w, r)
	if !ok {
		return
	}
	var req preferences
	if !decode(w, r, &req) {
		return
	}
	s.SetDarkMode(req.DarkMode)
	h.cookies.Save(w, s)
	writeJSON(w, http.StatusOK, preferences{DarkMode: s.DarkMode()})
}
