package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"mutations": {RequestsPerMinute: 1, Burst: 1},
	})
	defer limiter.Stop()

	handler := limiter.Middleware("mutations")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/rewards/mint", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesKeys(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"mutations": {RequestsPerMinute: 1, Burst: 1},
		"queries":   {RequestsPerMinute: 1, Burst: 1},
	})
	defer limiter.Stop()

	mutations := limiter.Middleware("mutations")(okHandler())
	queries := limiter.Middleware("queries")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/rewards/mint", nil)
	res := httptest.NewRecorder()
	mutations.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected mutation to succeed, got %d", res.Code)
	}

	// Exhausting the mutations bucket must not consume the queries bucket.
	queryReq := httptest.NewRequest(http.MethodGet, "/v1/rewards/1", nil)
	res = httptest.NewRecorder()
	queries.ServeHTTP(res, queryReq)
	if res.Code != http.StatusOK {
		t.Fatalf("expected query to succeed, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"mutations": {RequestsPerMinute: 1, Burst: 1},
	})
	defer limiter.Stop()

	handler := limiter.Middleware("mutations")(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/v1/rewards/mint", nil)
	first.Header.Set("X-Real-IP", "10.0.0.1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, first)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first client to succeed, got %d", res.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/v1/rewards/mint", nil)
	second.Header.Set("X-Real-IP", "10.0.0.2")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, second)
	if res.Code != http.StatusOK {
		t.Fatalf("expected second client to succeed, got %d", res.Code)
	}
}

func TestRateLimiterIgnoresUnknownKey(t *testing.T) {
	limiter := NewRateLimiter(nil)
	defer limiter.Stop()

	handler := limiter.Middleware("unconfigured")(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/v1/rewards", nil)
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected unlimited key to pass, got %d", res.Code)
		}
	}
}
