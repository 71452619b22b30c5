// Package handler exposes the key-set controller of each session as a JSON
// API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/keydash/internal/session"
	"github.com/xenking/keydash/pkg/httpmiddleware"
)

const maxBodyBytes = 64 << 10

// CookieSaver persists a session's preferences into its cookie.
type CookieSaver interface {
	Save(w http.ResponseWriter, s *session.Session)
}

// Handler serves the /api routes. Every route expects the session
// middleware to have run.
type Handler struct {
	cookies CookieSaver
}

// New returns a Handler that writes preference cookies through cookies.
func New(cookies CookieSaver) *Handler {
	return &Handler{cookies: cookies}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/keys", func(r chi.Router) {
			r.Get("/", h.ListKeys)
			r.Post("/", h.CreateKey)
			r.Post("/refresh", h.RefreshKeys)
			r.Patch("/{id}", h.UpdateKey)
			r.Delete("/{id}", h.DeleteKey)
			r.Get("/{id}/secret", h.RevealSecret)
		})
		r.Post("/connection/test", h.TestConnection)
		r.Delete("/error", h.DismissError)
		r.Get("/validate", h.Validate)
		r.Get("/preferences", h.GetPreferences)
		r.Put("/preferences", h.PutPreferences)
	})
}

// current returns the request's session or answers 500 when the session
// middleware is missing.
func current(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		zctx.From(r.Context()).Error("No session in request context", zap.String("path", r.URL.Path))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, codeInternal, "session unavailable")
		return nil, false
	}
	return s, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeInvalid(w, errors.Wrap(err, "decode body").Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
