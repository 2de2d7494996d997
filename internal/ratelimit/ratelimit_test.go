package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	limiter := New(1000, 10)

	for i := 0; i < 10; i++ {
		if !limiter.Allow("test-key") {
			t.Errorf("Allow() should return true for request %d (within burst)", i)
		}
	}
}

func TestLimiter_BlocksOverLimit(t *testing.T) {
	limiter := New(0.1, 2)

	if !limiter.Allow("test-key") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("test-key") {
		t.Error("Second request should be allowed (burst)")
	}
	if limiter.Allow("test-key") {
		t.Error("Third request should be blocked (over limit)")
	}
}

func TestLimiter_PerKeyIsolation(t *testing.T) {
	limiter := New(0.1, 2)

	limiter.Allow("key1")
	limiter.Allow("key1")

	if !limiter.Allow("key2") {
		t.Error("key2's first request should be allowed")
	}
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	limiter := New(0.01, 1)
	limiter.Allow("k")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "k"); err == nil {
		t.Error("Wait() error = nil, want error once the burst is spent")
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	limiter := New(10, 1)
	limiter.Allow("a")
	limiter.Allow("b")

	if removed := limiter.Cleanup(time.Hour); removed != 0 {
		t.Errorf("Cleanup(1h) removed = %d, want 0", removed)
	}
	if removed := limiter.Cleanup(0); removed != 2 {
		t.Errorf("Cleanup(0) removed = %d, want 2", removed)
	}
	if got := limiter.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	limiter := New(10000, 100)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			limiter.Allow("key-" + string(rune('0'+i%10)))
		}(i)
	}
	wg.Wait()

	if got := limiter.Len(); got != 10 {
		t.Errorf("Len() = %d, want 10", got)
	}
}

func TestMiddleware(t *testing.T) {
	limiter := New(0.1, 1)
	handler := Middleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want %q", got, "1")
	}
}
