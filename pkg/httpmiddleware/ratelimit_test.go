package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSessionCookie = "keydash_session"

// sessionKey limits browsers by session and falls back to the client
// address before a session exists.
func sessionKey(r *http.Request) string {
	if c, err := r.Cookie(testSessionCookie); err == nil && c.Value != "" {
		return "session:" + c.Value
	}
	return "ip:" + ClientIP(r)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type dashboardCall struct {
	method  string
	session string
	remote  string
	xff     string
	want    int
}

func (c dashboardCall) serve(h http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(c.method, "/api/keys", nil)
	req.RemoteAddr = "10.0.0.1:1000"
	if c.remote != "" {
		req.RemoteAddr = c.remote
	}
	if c.xff != "" {
		req.Header.Set("X-Forwarded-For", c.xff)
	}
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: testSessionCookie, Value: c.session})
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_Dashboard(t *testing.T) {
	const (
		get    = http.MethodGet
		post   = http.MethodPost
		patch  = http.MethodPatch
		del    = http.MethodDelete
		ok     = http.StatusOK
		denied = http.StatusTooManyRequests
	)
	tests := []struct {
		name  string
		max   int
		calls []dashboardCall
	}{
		{
			name: "listing is never counted",
			max:  1,
			calls: []dashboardCall{
				{method: get, session: "s1", want: ok},
				{method: get, session: "s1", want: ok},
				{method: get, session: "s1", want: ok},
				{method: post, session: "s1", want: ok},
				{method: del, session: "s1", want: denied},
				{method: get, session: "s1", want: ok},
			},
		},
		{
			name: "sessions have separate budgets",
			max:  2,
			calls: []dashboardCall{
				{method: post, session: "s1", want: ok},
				{method: patch, session: "s1", want: ok},
				{method: post, session: "s2", want: ok},
				{method: del, session: "s1", want: denied},
				{method: del, session: "s2", want: ok},
				{method: post, session: "s2", want: denied},
			},
		},
		{
			name: "session survives an address change",
			max:  1,
			calls: []dashboardCall{
				{method: post, session: "s1", remote: "10.0.0.1:1000", want: ok},
				{method: post, session: "s1", remote: "10.0.0.2:2000", want: denied},
			},
		},
		{
			name: "requests without a session fall back to the client address",
			max:  1,
			calls: []dashboardCall{
				{method: post, remote: "10.0.0.1:1000", want: ok},
				{method: post, remote: "10.0.0.1:1001", want: denied},
				{method: post, remote: "10.0.0.2:1000", want: ok},
				{method: post, session: "s1", remote: "10.0.0.1:1000", want: ok},
			},
		},
		{
			name: "forwarded address wins over the proxy address",
			max:  1,
			calls: []dashboardCall{
				{method: post, remote: "192.168.1.1:4444", xff: "203.0.113.50, 70.41.3.18", want: ok},
				{method: post, remote: "192.168.1.2:5555", xff: "203.0.113.50", want: denied},
				{method: post, remote: "192.168.1.1:4444", xff: "203.0.113.51", want: ok},
			},
		},
		{
			name: "zero max disables limiting",
			max:  0,
			calls: []dashboardCall{
				{method: del, session: "s1", want: ok},
				{method: del, session: "s1", want: ok},
				{method: del, session: "s1", want: ok},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimit(RateLimitConfig{
				Max:     tt.max,
				Window:  time.Hour,
				Methods: MutatingMethods,
				KeyFunc: sessionKey,
			})(okHandler())
			for i, c := range tt.calls {
				w := c.serve(h)
				assert.Equal(t, c.want, w.Code, "call %d: %s session=%q", i, c.method, c.session)
			}
		})
	}
}

func TestRateLimit_Headers(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:     3,
		Window:  time.Hour,
		Methods: MutatingMethods,
		KeyFunc: sessionKey,
	})(okHandler())

	w := dashboardCall{method: http.MethodGet, session: "s1"}.serve(h)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))

	for _, want := range []string{"2", "1", "0"} {
		w := dashboardCall{method: http.MethodPost, session: "s1"}.serve(h)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, want, w.Header().Get("X-RateLimit-Remaining"))

		reset, err := strconv.ParseInt(w.Header().Get("X-RateLimit-Reset"), 10, 64)
		require.NoError(t, err)
		assert.Greater(t, reset, time.Now().Add(-time.Second).Unix())
	}
}

func TestRateLimit_Rejected(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:     1,
		Window:  time.Hour,
		Methods: MutatingMethods,
		KeyFunc: sessionKey,
	})(okHandler())

	require.Equal(t, http.StatusOK, dashboardCall{method: http.MethodPost, session: "s1"}.serve(h).Code)
	w := dashboardCall{method: http.MethodPatch, session: "s1"}.serve(h)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, retry)
	assert.LessOrEqual(t, retry, int(time.Hour.Seconds()))

	var body ErrorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "rate_limited", body.Error.Code)
	assert.Equal(t, "rate limit exceeded", body.Error.Message)
}

func TestRateLimit_WindowSlides(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 2, Window: time.Minute})
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	const key = "session:s1"

	_, _, ok := rl.allow(key, start)
	require.True(t, ok)
	_, _, ok = rl.allow(key, start.Add(time.Second))
	require.True(t, ok)
	_, _, ok = rl.allow(key, start.Add(2*time.Second))
	require.False(t, ok)

	// Half way through the next window half of the previous count remains.
	remaining, _, ok := rl.allow(key, start.Add(90*time.Second))
	require.True(t, ok)
	assert.Equal(t, 0, remaining)

	// Two idle windows reset the key.
	remaining, _, ok = rl.allow(key, start.Add(5*time.Minute))
	require.True(t, ok)
	assert.Equal(t, 1, remaining)

	rl.cleanup(start.Add(time.Hour))
	assert.Empty(t, rl.entries)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{name: "remote addr", remote: "10.0.0.1:1234", want: "10.0.0.1"},
		{name: "remote without port", remote: "10.0.0.1", want: "10.0.0.1"},
		{name: "first forwarded entry", remote: "10.0.0.1:1234", header: map[string]string{"X-Forwarded-For": " 203.0.113.50 , 70.41.3.18"}, want: "203.0.113.50"},
		{name: "real ip", remote: "10.0.0.1:1234", header: map[string]string{"X-Real-IP": "198.51.100.7"}, want: "198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/keys", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
