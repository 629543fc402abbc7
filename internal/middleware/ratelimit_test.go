package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// frozen returns a limiter whose clock only moves when advance is called.
func frozen(rps float64, burst int) (*RateLimiter, func(time.Duration)) {
	now := time.Now()
	rl := NewRateLimiter(rps, burst)
	rl.now = func() time.Time { return now }
	return rl, func(d time.Duration) { now = now.Add(d) }
}

func TestRateLimiterBurstThenReject(t *testing.T) {
	rl, _ := frozen(1, 5)
	h := rl.Handler(okHandler())

	for i := range 5 {
		rec := hit(h, "192.168.1.1:4000")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(4-i) {
			t.Errorf("request %d: remaining = %s", i+1, got)
		}
	}

	rec := hit(h, "192.168.1.1:4001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl, advance := frozen(2, 1)
	h := rl.Handler(okHandler())

	if hit(h, "10.0.0.1:1").Code != http.StatusOK {
		t.Fatal("first request rejected")
	}
	if hit(h, "10.0.0.1:1").Code != http.StatusTooManyRequests {
		t.Fatal("second request allowed")
	}
	advance(600 * time.Millisecond)
	if hit(h, "10.0.0.1:1").Code != http.StatusOK {
		t.Error("request after refill rejected")
	}
}

func TestRateLimiterIsPerIP(t *testing.T) {
	rl, _ := frozen(1, 1)
	h := rl.Handler(okHandler())

	if hit(h, "10.0.0.1:1").Code != http.StatusOK || hit(h, "10.0.0.2:1").Code != http.StatusOK {
		t.Fatal("distinct clients should have their own buckets")
	}
	if rl.Len() != 2 {
		t.Errorf("tracked clients = %d", rl.Len())
	}
}

func TestRateLimiterClientCap(t *testing.T) {
	rl, _ := frozen(1, 1)
	rl.maxClients = 1
	h := rl.Handler(okHandler())

	hit(h, "10.0.0.1:1")
	if hit(h, "10.0.0.2:1").Code != http.StatusTooManyRequests {
		t.Error("new client admitted past the cap")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, advance := frozen(1, 1)
	h := rl.Handler(okHandler())
	hit(h, "10.0.0.1:1")
	advance(time.Minute)
	hit(h, "10.0.0.2:1")

	rl.cleanup(30 * time.Second)

	if rl.Len() != 1 {
		t.Errorf("tracked clients after cleanup = %d, want 1", rl.Len())
	}
}

func TestClientIPWithoutPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "unix-socket"
	if clientIP(req) != "unix-socket" {
		t.Errorf("clientIP = %q", clientIP(req))
	}
}
