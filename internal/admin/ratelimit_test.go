package admin

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_AllowsNormalRequests(t *testing.T) {
	rl := NewRateLimitMiddleware(slog.Default())

	rec := httptest.NewRecorder()
	rl.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_BlocksExcessiveCrawls(t *testing.T) {
	rl := NewRateLimitMiddleware(slog.Default())
	handler := rl.Wrap(okHandler())

	// Crawl trigger: burst of 2.
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/crawl", nil))
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/crawl", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimitMiddleware_EndpointsIndependent(t *testing.T) {
	rl := NewRateLimitMiddleware(slog.Default())
	handler := rl.Wrap(okHandler())

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/admin/v1/crawl", nil))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_ClientsIndependent(t *testing.T) {
	rl := NewRateLimitMiddleware(slog.Default())
	handler := rl.Wrap(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/admin/v1/crawl", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.254")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/crawl", nil)
	req.Header.Set("X-Real-IP", "10.0.0.2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, rl.LimiterCount())
}

func TestRateLimitMiddleware_EvictsStaleLimiters(t *testing.T) {
	rl := NewRateLimitMiddleware(slog.Default())
	now := time.Now()
	rl.nowFunc = func() time.Time { return now }

	rl.Wrap(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin/v1/status", nil))
	assert.Equal(t, 1, rl.LimiterCount())

	now = now.Add(staleLimiterTTL + time.Second)
	rl.evictStale()
	assert.Equal(t, 0, rl.LimiterCount())
}

func TestRateLimitMiddleware_RetryAfterReflectsRefill(t *testing.T) {
	rl := NewRateLimitMiddleware(slog.Default(), RateLimitRule{Limit: rate.Every(30 * time.Second), Burst: 1})
	now := time.Now()
	rl.nowFunc = func() time.Time { return now }
	handler := rl.Wrap(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/status", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	// A rejected request does not consume the next token.
	now = now.Add(30 * time.Second)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_UnmatchedPassesThrough(t *testing.T) {
	rl := NewRateLimitMiddleware(slog.Default(), RateLimitRule{Method: http.MethodPost, Prefix: "/admin/v1/crawl", Limit: 0, Burst: 0})
	handler := rl.Wrap(okHandler())

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/status", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 0, rl.LimiterCount())
}

func TestMatchRule(t *testing.T) {
	rl := NewRateLimitMiddleware(slog.Default())

	idx, ok := rl.matchRule(http.MethodPost, "/admin/v1/crawl")
	assert.True(t, ok)
	assert.Equal(t, 0, idx)

	idx, ok = rl.matchRule(http.MethodGet, "/admin/v1/crawl")
	assert.True(t, ok)
	assert.Equal(t, 1, idx, "GET falls through to the catch-all rule")
}
