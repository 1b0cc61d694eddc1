package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestLimiterAllowSlidingWindow(t *testing.T) {
	l := NewLimiter(RateLimitConfig{Max: 4, Window: time.Minute})
	base := time.Date(2026, 3, 19, 12, 0, 0, 0, time.UTC)

	for i := range 4 {
		_, _, ok := l.Allow("rider-1", base.Add(time.Duration(i)*time.Second))
		require.True(t, ok, "request %d", i+1)
	}
	remaining, reset, ok := l.Allow("rider-1", base.Add(5*time.Second))
	assert.False(t, ok)
	assert.Zero(t, remaining)
	assert.Equal(t, base.Add(time.Minute), reset)

	// Halfway into the next window the previous four weigh about two.
	_, _, ok = l.Allow("rider-1", base.Add(90*time.Second))
	assert.True(t, ok)
	_, _, ok = l.Allow("rider-1", base.Add(91*time.Second))
	assert.True(t, ok)
	_, _, ok = l.Allow("rider-1", base.Add(92*time.Second))
	assert.True(t, ok)
	_, _, ok = l.Allow("rider-1", base.Add(93*time.Second))
	assert.False(t, ok)

	// Two idle windows forget everything.
	remaining, _, ok = l.Allow("rider-1", base.Add(5*time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 3, remaining)
}

func TestLimiterEvict(t *testing.T) {
	l := NewLimiter(RateLimitConfig{Max: 1, Window: time.Second})
	now := time.Now()
	l.Allow("a", now)
	l.Allow("b", now.Add(3*time.Second))

	l.Evict(now.Add(3 * time.Second))
	assert.NotContains(t, l.callers, "a")
	assert.Contains(t, l.callers, "b")
}

func TestLimiterMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		first    func(*http.Request)
		second   func(*http.Request)
		wantCode int
	}{
		{
			name:     "same address",
			first:    func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1234" },
			second:   func(r *http.Request) { r.RemoteAddr = "10.0.0.1:5678" },
			wantCode: http.StatusTooManyRequests,
		},
		{
			name:     "different addresses",
			first:    func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1234" },
			second:   func(r *http.Request) { r.RemoteAddr = "10.0.0.2:1234" },
			wantCode: http.StatusOK,
		},
		{
			name:     "same forwarded client",
			first:    func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18") },
			second:   func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.50") },
			wantCode: http.StatusTooManyRequests,
		},
		{
			name: "users behind one gateway",
			first: func(r *http.Request) {
				r.RemoteAddr = "10.0.0.9:1"
				r.Header.Set("X-User-ID", "cust-1")
			},
			second: func(r *http.Request) {
				r.RemoteAddr = "10.0.0.9:1"
				r.Header.Set("X-User-ID", "cust-2")
			},
			wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewLimiter(RateLimitConfig{Max: 1, Window: time.Minute}).Middleware(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.first(req)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
			assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
			assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

			req = httptest.NewRequest(http.MethodGet, "/", nil)
			tt.second(req)
			w = httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestLimiterRejectionBody(t *testing.T) {
	h := NewLimiter(RateLimitConfig{Max: 1, Window: time.Minute}).Middleware(okHandler())
	for range 2 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "capacity_exceeded", body["kind"])
	assert.Equal(t, "rate_limited", body["code"])
}

func TestLimiterDisabled(t *testing.T) {
	h := NewLimiter(RateLimitConfig{}).Middleware(okHandler())
	for range 10 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}
