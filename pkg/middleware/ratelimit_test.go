package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/quotagate/pkg/contextkeys"
	"github.com/platinummonkey/quotagate/pkg/observability"
)

func newTestLimiter(requests int, window time.Duration) (*RateLimiter, *time.Time) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: requests, WindowDuration: window})
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, _ := newTestLimiter(5, time.Minute)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 8; i++ {
		ok, err := rl.Allow(ctx, "ip:1.2.3.4")
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("allowed %d requests, want 5", allowed)
	}

	// a different key has its own bucket
	if ok, _ := rl.Allow(ctx, "ip:5.6.7.8"); !ok {
		t.Error("second key should not share the first key's bucket")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl, now := newTestLimiter(6, time.Minute)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		rl.Allow(ctx, "k")
	}
	if ok, _ := rl.Allow(ctx, "k"); ok {
		t.Fatal("bucket should be empty")
	}

	// one token every 10s
	*now = now.Add(10 * time.Second)
	if ok, _ := rl.Allow(ctx, "k"); !ok {
		t.Error("expected one token after 10s")
	}
	if ok, _ := rl.Allow(ctx, "k"); ok {
		t.Error("expected only one token after 10s")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, now := newTestLimiter(5, time.Minute)
	ctx := context.Background()

	rl.Allow(ctx, "old")
	*now = now.Add(90 * time.Second)
	rl.Allow(ctx, "recent")
	*now = now.Add(60 * time.Second)

	rl.Cleanup()
	if rl.Len() != 1 {
		t.Errorf("Len() = %d after cleanup, want 1", rl.Len())
	}
}

func TestNewRateLimiter_InvalidConfig(t *testing.T) {
	for _, cfg := range []*RateLimitConfig{nil, {RequestsPerWindow: 0, WindowDuration: time.Minute}, {RequestsPerWindow: 5}} {
		rl := NewRateLimiter(cfg)
		if rl.Config().RequestsPerWindow != DefaultRateLimitConfig().RequestsPerWindow {
			t.Errorf("NewRateLimiter(%+v) did not fall back to defaults", cfg)
		}
	}
}

func TestRateLimiter_Concurrency(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Hour})
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := rl.Allow(ctx, "shared"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 50 {
		t.Errorf("allowed %d concurrent requests, want 50", got)
	}
}

func TestRateLimiter_StartCleanup(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl.Allow(ctx, "k")
	rl.StartCleanup(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for rl.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("background cleanup never removed the idle bucket")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newRedisLimiter(t *testing.T, requests int) (*DistributedRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: requests, WindowDuration: time.Minute}, ""), mr
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	rl, mr := newRedisLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "ip:1.2.3.4")
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v, want allowed", i, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, "ip:1.2.3.4"); ok {
		t.Error("fourth request should be rejected")
	}

	remaining, err := rl.Remaining(ctx, "ip:1.2.3.4")
	if err != nil || remaining != 0 {
		t.Errorf("Remaining() = %d, %v, want 0", remaining, err)
	}
	if ttl := mr.TTL("quotagate:ratelimit:ip:1.2.3.4"); ttl != time.Minute {
		t.Errorf("key TTL = %v, want the window", ttl)
	}

	// the window does not slide with each request
	mr.FastForward(time.Minute)
	if ok, _ := rl.Allow(ctx, "ip:1.2.3.4"); !ok {
		t.Error("request in a new window should be allowed")
	}
}

func TestDistributedRateLimiter_SharedAcrossInstances(t *testing.T) {
	first, mr := newRedisLimiter(t, 2)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	second := NewDistributedRateLimiter(client, first.Config(), "")
	ctx := context.Background()

	first.Allow(ctx, "user:7")
	second.Allow(ctx, "user:7")
	if ok, _ := first.Allow(ctx, "user:7"); ok {
		t.Error("limit should be shared between limiter instances")
	}

	if err := second.Reset(ctx, "user:7"); err != nil {
		t.Fatal(err)
	}
	if remaining, _ := first.Remaining(ctx, "user:7"); remaining != 2 {
		t.Errorf("Remaining() after reset = %d, want 2", remaining)
	}
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	rl, mr := newRedisLimiter(t, 1)
	mr.Close()

	ok, err := rl.Allow(context.Background(), "k")
	if err == nil {
		t.Fatal("expected an error with Redis down")
	}
	if !ok {
		t.Error("Allow should fail open")
	}
}

// erroringLimiter always fails
type erroringLimiter struct{}

func (erroringLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func (erroringLimiter) Config() *RateLimitConfig { return DefaultRateLimitConfig() }

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_ByIP(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	h := NewRateLimitMiddleware(rl, "login", ByIP, observability.NopLogger(), nil).Handler(okHandler())

	req := func(ip string) *http.Request {
		r := httptest.NewRequest("POST", "/api/auth/login", nil)
		r.RemoteAddr = ip + ":40000"
		return r
	}

	for i := 0; i < 2; i++ {
		if w := serve(h, req("10.0.0.1")); w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, w.Code)
		}
	}

	w := serve(h, req("10.0.0.1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
	}
	if w.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("X-RateLimit-Limit = %q, want 2", w.Header().Get("X-RateLimit-Limit"))
	}

	if w := serve(h, req("10.0.0.2")); w.Code != http.StatusOK {
		t.Errorf("other IP status = %d, want 200", w.Code)
	}
}

func TestRateLimitMiddleware_ByUser(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	h := NewRateLimitMiddleware(rl, "topup", ByUser, observability.NopLogger(), nil).Handler(okHandler())

	asUser := func(id int64) *http.Request {
		r := httptest.NewRequest("POST", "/api/payment/topup", nil)
		return r.WithContext(contextkeys.WithUserID(r.Context(), id))
	}

	if w := serve(h, asUser(1)); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w := serve(h, asUser(1)); w.Code != http.StatusTooManyRequests {
		t.Errorf("second request for user 1: status %d, want 429", w.Code)
	}
	// same address, different user
	if w := serve(h, asUser(2)); w.Code != http.StatusOK {
		t.Errorf("user 2 status = %d, want 200", w.Code)
	}
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	h := NewRateLimitMiddleware(erroringLimiter{}, "login", ByIP, observability.NopLogger(), nil).Handler(okHandler())
	if w := serve(h, httptest.NewRequest("POST", "/", nil)); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when the limiter errors", w.Code)
	}
}

func TestRateLimitMiddleware_Redis(t *testing.T) {
	rl, _ := newRedisLimiter(t, 1)
	h := NewRateLimitMiddleware(rl, "login", ByIP, observability.NopLogger(), nil).Handler(okHandler())

	serve(h, httptest.NewRequest("POST", "/", nil))
	if w := serve(h, httptest.NewRequest("POST", "/", nil)); w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
}
