package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterDeniesOverLimit(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 5; i++ {
		if !rl.Allow("child-pin", 5, time.Minute) {
			t.Fatalf("attempt %d denied, want allowed", i+1)
		}
	}
	if rl.Allow("child-pin", 5, time.Minute) {
		t.Error("attempt 6 allowed, want denied")
	}

	// A different key has its own budget.
	if !rl.Allow("other", 5, time.Minute) {
		t.Error("unrelated key denied")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter()
	window := 10 * time.Millisecond

	for i := 0; i < 3; i++ {
		rl.Allow("child-pin", 3, window)
	}
	if rl.Allow("child-pin", 3, window) {
		t.Error("allowed inside exhausted window")
	}

	time.Sleep(window + 5*time.Millisecond)

	if !rl.Allow("child-pin", 3, window) {
		t.Error("denied after window expired")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter()

	rl.Allow("stale", 5, 10*time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	rl.Allow("fresh", 5, time.Minute)

	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.entries["stale"]; ok {
		t.Error("stale entry survived cleanup")
	}
	if _, ok := rl.entries["fresh"]; !ok {
		t.Error("fresh entry removed by cleanup")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter()
	keyFunc := func(r *http.Request) string { return "login" }

	handler := RateLimit(rl, keyFunc, 2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/login/child", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/login/child", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}
