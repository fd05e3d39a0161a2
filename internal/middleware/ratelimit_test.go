package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestRateLimiter_AllowAndDeny(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiterWithNow(2, time.Minute, func() time.Time { return clock })
	defer rl.Close()

	if !rl.Allow("ip") || !rl.Allow("ip") {
		t.Fatalf("expected the first two attempts to pass")
	}
	if rl.Allow("ip") {
		t.Fatalf("expected deny")
	}
	if !rl.Allow("other") {
		t.Fatalf("expected keys to be limited independently")
	}

	clock = clock.Add(time.Minute + time.Second)
	if !rl.Allow("ip") {
		t.Fatalf("expected allow after window")
	}
}

func TestRateLimiter_ExpireForgetsIdleKeys(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiterWithNow(1, time.Minute, func() time.Time { return clock })
	defer rl.Close()

	rl.Allow("a")
	rl.Allow("b")
	if rl.Tracked() != 2 {
		t.Fatalf("expected 2 tracked keys, got %d", rl.Tracked())
	}
	clock = clock.Add(2 * time.Minute)
	rl.expire()
	if rl.Tracked() != 0 {
		t.Fatalf("expected idle keys to be forgotten, got %d", rl.Tracked())
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Close()

	r := gin.New()
	r.GET("/ws", RateLimitMiddleware(rl, zerolog.Nop()), func(c *gin.Context) { c.Status(http.StatusOK) })

	want := []int{http.StatusOK, http.StatusTooManyRequests}
	for i, code := range want {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
		if w.Code != code {
			t.Fatalf("request %d: expected %d, got %d", i, code, w.Code)
		}
	}
}

func TestRateLimiter_CloseStopsSweep(t *testing.T) {
	rl := NewRateLimiterWithNow(1, time.Millisecond, time.Now)
	rl.Close()
	select {
	case <-rl.sweepDone:
	default:
		t.Fatalf("expected the sweep to have exited when Close returns")
	}

	rl.Allow("a")
	time.Sleep(10 * time.Millisecond)
	if rl.Tracked() != 1 {
		t.Fatalf("expected no sweep after Close, got %d tracked keys", rl.Tracked())
	}
	rl.Close()
}

func TestRateLimiter_CloseWithoutSweep(t *testing.T) {
	rl := NewRateLimiter(1, 0)
	rl.Close()
}
