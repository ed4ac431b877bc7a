package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/medledger/medledger/internal/platform/auth"
)

func limitedHandler(cfg RateLimitConfig) echo.HandlerFunc {
	return RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func hit(e *echo.Echo, h echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	rec := httptest.NewRecorder()
	err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	return rec, err
}

func TestRateLimit_BurstThenLimited(t *testing.T) {
	e := echo.New()
	h := limitedHandler(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		rec, err := hit(e, h)
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit 10, got %q", i+1, got)
		}
	}

	_, err := hit(e, h)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}
}

func TestRateLimit_LimitedResponseHeaders(t *testing.T) {
	e := echo.New()
	h := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := hit(e, h); err != nil {
		t.Fatalf("first request: %v", err)
	}
	rec, err := hit(e, h)
	if err == nil {
		t.Fatal("expected second request to be limited")
	}

	retryAfter, convErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if convErr != nil || retryAfter < 1 {
		t.Errorf("expected Retry-After >= 1, got %q", rec.Header().Get("Retry-After"))
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", got)
	}
}

func TestRateLimit_PerCallerIsolation(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	call := func(caller string) error {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me", nil)
		if caller != "" {
			req = req.WithContext(auth.WithCaller(req.Context(), caller))
		}
		return handler(e.NewContext(req, httptest.NewRecorder()))
	}

	if err := call("0xa11ce"); err != nil {
		t.Fatalf("first request for 0xa11ce: %v", err)
	}
	if err := call("0xa11ce"); err == nil {
		t.Error("expected second request for 0xa11ce to be limited")
	}
	if err := call("0xb0b"); err != nil {
		t.Errorf("expected 0xb0b to have its own bucket, got %v", err)
	}
	// Anonymous requests share the IP bucket, which is separate from callers.
	if err := call(""); err != nil {
		t.Errorf("expected anonymous request to pass, got %v", err)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 {
		t.Errorf("expected RequestsPerSecond 100, got %f", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize != 200 {
		t.Errorf("expected BurstSize 200, got %d", cfg.BurstSize)
	}
}

func TestTokenBucket_RetryAfterWithZeroRate(t *testing.T) {
	b := newTokenBucket(0, 1)
	// Exhaust the single token
	b.allow()
	// With zero refill rate, retryAfter should return 1
	ra := b.retryAfter()
	if ra != 1 {
		t.Errorf("expected retryAfter 1 for zero rate, got %d", ra)
	}
}

func TestRateLimiterStore_DoubleCheck(t *testing.T) {
	cfg := RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         5,
	}
	store := newRateLimiterStore(cfg)

	// Get a bucket - creates it
	b1 := store.getBucket("key1")
	if b1 == nil {
		t.Fatal("expected non-nil bucket")
	}

	// Get the same bucket again - returns existing
	b2 := store.getBucket("key1")
	if b1 != b2 {
		t.Error("expected same bucket instance for same key")
	}

	// Different key gets different bucket
	b3 := store.getBucket("key2")
	if b1 == b3 {
		t.Error("expected different bucket for different key")
	}
}

type fakeShared struct {
	allowed    bool
	retryAfter int
	err        error
	keys       []string
}

func (f *fakeShared) Allow(_ context.Context, key string) (bool, int, error) {
	f.keys = append(f.keys, key)
	return f.allowed, f.retryAfter, f.err
}

func TestRateLimit_SharedLimiterDenies(t *testing.T) {
	shared := &fakeShared{allowed: false, retryAfter: 7}
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 100, BurstSize: 100, Shared: shared})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/grants", nil)
	req = req.WithContext(auth.WithCaller(req.Context(), "0xa11ce"))
	rec := httptest.NewRecorder()
	err := handler(e.NewContext(req, rec))

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") != "7" {
		t.Errorf("expected Retry-After 7, got %q", rec.Header().Get("Retry-After"))
	}
	if len(shared.keys) != 1 || shared.keys[0] != "caller:0xa11ce" {
		t.Errorf("unexpected shared keys %v", shared.keys)
	}
}

func TestRateLimit_SharedLimiterErrorFallsBack(t *testing.T) {
	shared := &fakeShared{err: errors.New("connection refused")}
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, Shared: shared})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	call := func() error {
		return handler(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder()))
	}
	if err := call(); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := call(); err == nil {
		t.Error("expected local bucket to limit the second request")
	}
}
