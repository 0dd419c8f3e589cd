package httpmiddleware

import (
	"context"
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

func serve(h http.Handler, method string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/sales", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func till(id string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set(TillHeader, id) }
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := RateLimit(t.Context(), RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	for i := range 2 {
		rec := serve(h, http.MethodPost, till("caja-1"))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := serve(h, http.MethodPost, till("caja-1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, rec.Body.String())

	// Another till behind the same address has its own budget.
	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, till("caja-2")).Code)
}

func TestRateLimit_Methods(t *testing.T) {
	h := RateLimit(t.Context(), RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		Methods: []string{http.MethodPost},
	})(okHandler())

	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodPost, nil).Code)
	for range 3 {
		rec := serve(h, http.MethodGet, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(context.Background(), RateLimitConfig{})(okHandler())
	for range 5 {
		assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, nil).Code)
	}
}

func TestLimiter_SlidingWindow(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 2, Window: time.Minute})
	start := time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)

	_, _, ok := l.allow("k", start)
	require.True(t, ok)
	_, _, ok = l.allow("k", start.Add(time.Second))
	require.True(t, ok)
	_, _, ok = l.allow("k", start.Add(2*time.Second))
	require.False(t, ok)

	// Half into the next window, the previous one still weighs 1 request.
	remaining, _, ok := l.allow("k", start.Add(90*time.Second))
	require.True(t, ok)
	assert.Equal(t, 0, remaining)

	l.evict(start.Add(5 * time.Minute))
	assert.Empty(t, l.windows)
}

func TestClientIP(t *testing.T) {
	for _, tt := range []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"Forwarded", map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}, "192.168.1.1:1", "203.0.113.50"},
		{"RealIP", map[string]string{"X-Real-IP": "198.51.100.7"}, "192.168.1.1:1", "198.51.100.7"},
		{"Remote", nil, "192.168.1.1:4444", "192.168.1.1"},
		{"RemoteNoPort", nil, "pipe", "pipe"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:80"
	assert.Equal(t, "ip:10.1.1.1", TillKey(req))
	req.Header.Set(TillHeader, " caja-3 ")
	assert.Equal(t, "till:caja-3", TillKey(req))
}
