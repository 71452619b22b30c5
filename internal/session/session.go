// Package session keeps one key-set controller and the display preferences
// for each dashboard session. Sessions are identified by a signed cookie and
// live in memory until they have been idle for longer than the TTL.
package session

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"

	"github.com/xenking/keydash/internal/domain/keyset"
)

// DefaultCookieName is the session cookie name.
const DefaultCookieName = "keydash_session"

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 12 * time.Hour

// Session is the state of one dashboard session.
type Session struct {
	ID   string
	Keys *keyset.Controller

	darkMode atomic.Bool
	lastSeen atomic.Int64
}

// DarkMode reports the display preference.
func (s *Session) DarkMode() bool { return s.darkMode.Load() }

// SetDarkMode stores the display preference. Call Registry.Save to mirror it
// into the cookie.
func (s *Session) SetDarkMode(v bool) { s.darkMode.Store(v) }

func (s *Session) touch(now time.Time) { s.lastSeen.Store(now.UnixNano()) }

func (s *Session) idle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// cookieValue is the signed cookie payload.
type cookieValue struct {
	ID       string `json:"id"`
	DarkMode bool   `json:"dark_mode"`
}

// Config configures a Registry.
type Config struct {
	// HashKey signs the cookie. A random key is generated when empty, which
	// invalidates cookies on restart.
	HashKey string `usage:"cookie signing key, at least 32 bytes"`
	// BlockKey optionally encrypts the cookie; 16, 24 or 32 bytes.
	BlockKey   string        `usage:"cookie encryption key (optional)"`
	CookieName string        `default:"keydash_session"`
	TTL        time.Duration `default:"12h"`
	Secure     bool          `default:"false" usage:"set the Secure cookie attribute"`
}

// Registry creates, finds and evicts sessions.
type Registry struct {
	codec      *securecookie.SecureCookie
	cookieName string
	ttl        time.Duration
	secure     bool
	newKeys    func() *keyset.Controller
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns a Registry that builds each session's controller with
// newKeys.
func NewRegistry(cfg Config, newKeys func() *keyset.Controller) (*Registry, error) {
	if newKeys == nil {
		return nil, errors.New("controller factory is required")
	}
	hashKey := []byte(cfg.HashKey)
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(32)
	}
	var blockKey []byte
	if cfg.BlockKey != "" {
		blockKey = []byte(cfg.BlockKey)
		switch len(blockKey) {
		case 16, 24, 32:
		default:
			return nil, errors.Errorf("block key must be 16, 24 or 32 bytes, got %d", len(blockKey))
		}
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.TTL.Seconds()))

	return &Registry{
		codec:      codec,
		cookieName: cfg.CookieName,
		ttl:        cfg.TTL,
		secure:     cfg.Secure,
		newKeys:    newKeys,
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Get returns the live session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Resolve returns the session of req, creating one when the cookie is absent,
// invalid or refers to an evicted session. A new session inherits the
// preferences carried by a valid cookie. The cookie is (re)issued on w
// whenever a session is created.
func (r *Registry) Resolve(w http.ResponseWriter, req *http.Request) *Session {
	now := r.now()

	var val cookieValue
	if c, err := req.Cookie(r.cookieName); err == nil {
		if err := r.codec.Decode(r.cookieName, c.Value, &val); err != nil {
			val = cookieValue{}
		}
	}
	if _, err := uuid.Parse(val.ID); err != nil {
		val = cookieValue{ID: uuid.NewString()}
	}

	r.mu.Lock()
	s, ok := r.sessions[val.ID]
	if !ok {
		s = &Session{ID: val.ID, Keys: r.newKeys()}
		s.SetDarkMode(val.DarkMode)
		r.sessions[val.ID] = s
	}
	s.touch(now)
	r.mu.Unlock()

	if !ok {
		zctx.From(req.Context()).Debug("Session started", zap.String("session_id", s.ID))
		r.Save(w, s)
	}
	return s
}

// Save writes the session cookie carrying the current preferences.
func (r *Registry) Save(w http.ResponseWriter, s *Session) {
	encoded, err := r.codec.Encode(r.cookieName, cookieValue{ID: s.ID, DarkMode: s.DarkMode()})
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     r.cookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(r.ttl.Seconds()),
		HttpOnly: true,
		Secure:   r.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionID returns the id carried by a valid session cookie on req.
func (r *Registry) SessionID(req *http.Request) (string, bool) {
	c, err := req.Cookie(r.cookieName)
	if err != nil {
		return "", false
	}
	var val cookieValue
	if err := r.codec.Decode(r.cookieName, c.Value, &val); err != nil || val.ID == "" {
		return "", false
	}
	return val.ID, true
}

// Remove tears down the session id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Sweep evicts sessions idle for longer than the TTL and returns how many
// were removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.sessions {
		if s.idle(now) > r.ttl {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps idle sessions until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	interval := max(r.ttl/4, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lg := zctx.From(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				lg.Info("Evicted idle sessions", zap.Int("count", n), zap.Int("live", r.Len()))
			}
		}
	}
}

type sessionKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session stored in ctx.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok
}

// Middleware resolves the session of every request and stores it in the
// request context.
func (r *Registry) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			s := r.Resolve(w, req)
			ctx := WithSession(req.Context(), s)
			ctx = zctx.With(ctx, zap.String("session_id", s.ID))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}
