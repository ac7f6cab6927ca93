package idempotency

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "idem.db"), ttl)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestMiddlewareReplaysCachedResponse(t *testing.T) {
	store := newTestStore(t, time.Hour)

	var calls atomic.Int64
	handler := store.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/rewards/mint", nil)
	req.Header.Set(HeaderKey, "abc-123")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK || res.Body.String() != `{"id":1}` {
		t.Fatalf("unexpected first response: %d %s", res.Code, res.Body.String())
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK || res.Body.String() != `{"id":1}` {
		t.Fatalf("unexpected replayed response: %d %s", res.Code, res.Body.String())
	}
	if res.Header().Get("X-Idempotency-Cache") != "hit" {
		t.Fatalf("expected cache hit marker")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls.Load())
	}
}

func TestMiddlewareDistinguishesKeysAndPaths(t *testing.T) {
	store := newTestStore(t, time.Hour)

	var calls atomic.Int64
	handler := store.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRequest(http.MethodPost, "/v1/rewards/mint", nil)
	first.Header.Set(HeaderKey, "key-1")
	handler.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/v1/rewards/mint", nil)
	second.Header.Set(HeaderKey, "key-2")
	handler.ServeHTTP(httptest.NewRecorder(), second)

	third := httptest.NewRequest(http.MethodPost, "/v1/rewards/burn", nil)
	third.Header.Set(HeaderKey, "key-1")
	handler.ServeHTTP(httptest.NewRecorder(), third)

	if calls.Load() != 3 {
		t.Fatalf("expected three handler runs, got %d", calls.Load())
	}
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	store := newTestStore(t, time.Hour)

	var calls atomic.Int64
	handler := store.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/rewards/mint", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if calls.Load() != 2 {
		t.Fatalf("expected handler to run twice without key, ran %d times", calls.Load())
	}
}

func TestMiddlewareDoesNotCacheServerErrors(t *testing.T) {
	store := newTestStore(t, time.Hour)

	var calls atomic.Int64
	handler := store.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/rewards/mint", nil)
	req.Header.Set(HeaderKey, "retry-me")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if calls.Load() != 2 {
		t.Fatalf("expected server errors to be retried, handler ran %d times", calls.Load())
	}
}

func TestStoreExpiresRecords(t *testing.T) {
	store := newTestStore(t, time.Hour)
	base := time.Now()
	store.now = func() time.Time { return base }

	if err := store.Put("k", http.StatusOK, []byte("body")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, found, err := store.Get("k"); err != nil || !found {
		t.Fatalf("expected fresh record, found=%v err=%v", found, err)
	}

	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, found, err := store.Get("k"); err != nil || found {
		t.Fatalf("expected expired record to vanish, found=%v err=%v", found, err)
	}
}
