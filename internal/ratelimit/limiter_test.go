package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/note-organizer/internal/clock"
)

// =============================================================================
// Generators for property-based testing
// =============================================================================

// clientKeyGenerator generates IP-like client keys.
func clientKeyGenerator() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		a := rapid.IntRange(1, 254).Draw(t, "a")
		b := rapid.IntRange(0, 255).Draw(t, "b")
		return "10.0." + strconv.Itoa(a) + "." + strconv.Itoa(b)
	})
}

// newTestLimiter builds a limiter on a frozen clock with no background goroutine.
func newTestLimiter(cfg Config) (*RateLimiter, *clock.Fake) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return newRateLimiter(cfg, clk, false), clk
}

// =============================================================================
// Property: exactly Burst requests pass on a frozen clock
// =============================================================================

func testRateLimiter_BurstThenBlocked(t *rapid.T) {
	cfg := Config{
		RPS:             rapid.Float64Range(0.1, 50).Draw(t, "rps"),
		Burst:           rapid.IntRange(1, 100).Draw(t, "burst"),
		CleanupInterval: time.Hour,
	}
	rl, _ := newTestLimiter(cfg)
	key := clientKeyGenerator().Draw(t, "key")

	for i := 0; i < cfg.Burst; i++ {
		if !rl.Allow(key) {
			t.Fatalf("request %d within burst %d was blocked", i+1, cfg.Burst)
		}
	}
	if rl.Allow(key) {
		t.Fatalf("request beyond burst %d was allowed", cfg.Burst)
	}
}

func TestRateLimiter_BurstThenBlocked(t *testing.T) {
	rapid.Check(t, testRateLimiter_BurstThenBlocked)
}

func FuzzRateLimiter_BurstThenBlocked(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testRateLimiter_BurstThenBlocked))
}

// =============================================================================
// Property: tokens refill at RPS
// =============================================================================

func testRateLimiter_Refill(t *rapid.T) {
	cfg := Config{RPS: 10, Burst: rapid.IntRange(1, 20).Draw(t, "burst"), CleanupInterval: time.Hour}
	rl, clk := newTestLimiter(cfg)
	key := clientKeyGenerator().Draw(t, "key")

	for rl.Allow(key) {
	}
	clk.Advance(100 * time.Millisecond)
	if !rl.Allow(key) {
		t.Fatal("one token should refill after 1/RPS seconds")
	}
	if rl.Allow(key) {
		t.Fatal("only one token should have refilled")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rapid.Check(t, testRateLimiter_Refill)
}

// =============================================================================
// Property: clients are independent
// =============================================================================

func testRateLimiter_ClientIndependence(t *rapid.T) {
	cfg := Config{RPS: 1, Burst: rapid.IntRange(1, 10).Draw(t, "burst"), CleanupInterval: time.Hour}
	rl, _ := newTestLimiter(cfg)

	a := clientKeyGenerator().Draw(t, "a")
	b := clientKeyGenerator().Filter(func(s string) bool { return s != a }).Draw(t, "b")

	for rl.Allow(a) {
	}
	if !rl.Allow(b) {
		t.Fatal("exhausting one client must not affect another")
	}
	if rl.Len() != 2 {
		t.Fatalf("Len = %d, want 2", rl.Len())
	}
}

func TestRateLimiter_ClientIndependence(t *testing.T) {
	rapid.Check(t, testRateLimiter_ClientIndependence)
}

func FuzzRateLimiter_ClientIndependence(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testRateLimiter_ClientIndependence))
}

// =============================================================================
// Property: idle limiters are cleaned up, active ones survive
// =============================================================================

func testRateLimiter_Cleanup(t *rapid.T) {
	interval := time.Duration(rapid.IntRange(1, 60).Draw(t, "intervalSec")) * time.Second
	rl, clk := newTestLimiter(Config{RPS: 100, Burst: 200, CleanupInterval: interval})

	idle := rapid.IntRange(1, 10).Draw(t, "idle")
	for i := 0; i < idle; i++ {
		rl.Allow("idle-" + strconv.Itoa(i))
	}
	clk.Advance(interval / 2)
	rl.Allow("active")
	clk.Advance(interval/2 + time.Millisecond)

	rl.Cleanup()
	if rl.Len() != 1 {
		t.Fatalf("Len after cleanup = %d, want 1", rl.Len())
	}
	rl.mu.Lock()
	_, ok := rl.limiters["active"]
	rl.mu.Unlock()
	if !ok {
		t.Fatal("active limiter was cleaned up")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rapid.Check(t, testRateLimiter_Cleanup)
}

func FuzzRateLimiter_Cleanup(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testRateLimiter_Cleanup))
}

// =============================================================================
// Property: thread-safe under concurrent access
// =============================================================================

func testRateLimiter_ConcurrentAccess(t *rapid.T) {
	rl := NewRateLimiter(Config{RPS: 1000, Burst: 2000, CleanupInterval: time.Hour})
	defer rl.Stop()

	numClients := rapid.IntRange(1, 10).Draw(t, "numClients")
	numGoroutines := rapid.IntRange(2, 16).Draw(t, "numGoroutines")
	perGoroutine := rapid.IntRange(1, 50).Draw(t, "perGoroutine")

	var wg sync.WaitGroup
	var allowed, denied atomic.Int64
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for r := 0; r < perGoroutine; r++ {
				if rl.Allow("client-" + strconv.Itoa((g+r)%numClients)) {
					allowed.Add(1)
				} else {
					denied.Add(1)
				}
			}
		}(g)
	}
	wg.Wait()

	if got := allowed.Load() + denied.Load(); got != int64(numGoroutines*perGoroutine) {
		t.Fatalf("lost requests: %d of %d", got, numGoroutines*perGoroutine)
	}
	if allowed.Load() == 0 {
		t.Fatal("expected some requests to pass")
	}
	if rl.Len() > numClients {
		t.Fatalf("Len = %d > clients %d", rl.Len(), numClients)
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rapid.Check(t, testRateLimiter_ConcurrentAccess)
}

// =============================================================================
// Unit tests
// =============================================================================

func TestRateLimiter_DisabledConfigAllowsEverything(t *testing.T) {
	rl, _ := newTestLimiter(Config{})
	for i := 0; i < 1000; i++ {
		require.True(t, rl.Allow("k"))
	}
	assert.Equal(t, 0, rl.Len())
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultConfig)
	rl.Stop()
	rl.Stop()
}

func TestMiddleware_Returns429JSON(t *testing.T) {
	rl, _ := newTestLimiter(Config{RPS: 1, Burst: 2, CleanupInterval: time.Hour})
	var served int
	h := Middleware(rl, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := do("192.0.2.1:1234")
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusNoContent, do("192.0.2.1:5555").Code)

	blocked := do("192.0.2.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "1", blocked.Header().Get("Retry-After"))
	assert.Equal(t, "0", blocked.Header().Get("X-RateLimit-Remaining"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(blocked.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["error"])

	assert.Equal(t, http.StatusNoContent, do("192.0.2.2:1234").Code, "other client unaffected")
	assert.Equal(t, 3, served)
}

func TestMiddleware_NilOrDisabledIsPassthrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := Middleware(nil, nil)(next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Remaining"))
}

func TestMiddleware_ForwardedForIgnoredByDefault(t *testing.T) {
	rl, _ := newTestLimiter(Config{RPS: 1, Burst: 1, CleanupInterval: time.Hour})
	h := Middleware(rl, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("198.51.100.2"), "rotating the header must not reset the budget")
	assert.Equal(t, 1, rl.Len())
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:4321"
	req.Header.Add("X-Forwarded-For", "6.6.6.6, 203.0.113.7")
	req.Header.Add("X-Forwarded-For", "198.51.100.9")

	assert.Equal(t, "10.0.0.5", ClientKey(false)(req))
	assert.Equal(t, "198.51.100.9", ClientKey(true)(req), "last hop is the proxy's")

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "10.0.0.5", ClientKey(true)(req))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", ClientKey(false)(req))
}

func testClientKey_SpoofedPrefixIgnored(t *rapid.T) {
	proxy := clientKeyGenerator().Draw(t, "proxyHop")
	spoofed := rapid.SliceOfN(clientKeyGenerator(), 0, 4).Draw(t, "spoofed")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", strings.Join(append(spoofed, proxy), ", "))
	if got := ClientKey(true)(req); got != proxy {
		t.Fatalf("key %q, want proxy hop %q", got, proxy)
	}
}

func TestClientKey_SpoofedPrefixIgnored(t *testing.T) {
	rapid.Check(t, testClientKey_SpoofedPrefixIgnored)
}

func FuzzClientKey_SpoofedPrefixIgnored(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testClientKey_SpoofedPrefixIgnored))
}
