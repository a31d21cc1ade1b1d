package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimiter_PerTokenBuckets(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, QueryTokenKey("token"))
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(url string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, url, nil))
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := call("/tools/book-appointment?token=a"); code != http.StatusNoContent {
			t.Fatalf("call %d: expected 204, got %d", i, code)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tools/book-appointment?token=a", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for third call, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if !strings.Contains(rec.Body.String(), `"rate_limited"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if code := call("/tools/book-appointment?token=b"); code != http.StatusNoContent {
		t.Fatalf("expected separate bucket for other token, got %d", code)
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Minute, nil)
	rl.now = func() time.Time { return now }

	if ok, _ := rl.allow("k"); !ok {
		t.Fatal("first call should pass")
	}
	now = now.Add(20 * time.Second)
	ok, retry := rl.allow("k")
	if ok {
		t.Fatal("second call in window should be limited")
	}
	if retry != 40*time.Second {
		t.Fatalf("expected 40s until reset, got %s", retry)
	}
	now = now.Add(41 * time.Second)
	if ok, _ := rl.allow("k"); !ok {
		t.Fatal("call after window should pass")
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), mk("a"), mk("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "call-abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "call-abc" || rec.Header().Get(RequestIDHeader) != "call-abc" {
		t.Fatalf("expected caller id to be kept, got %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\n")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "bad id\n" || len(seen) != 36 {
		t.Fatalf("expected a minted uuid, got %q", seen)
	}
}
