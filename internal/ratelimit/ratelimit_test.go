package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *clock { return &clock{t: time.Unix(1_700_000_000, 0)} }

func TestAllow_BurstThenRefill(t *testing.T) {
	c := newClock()
	l := New(WithRate(1, 2), withClock(c.now))

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("burst of 2 not allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("third request allowed inside the burst window")
	}
	c.advance(time.Second)
	if !l.Allow("10.0.0.1") {
		t.Fatal("token did not refill after 1s")
	}
}

func TestAllow_PeersAreIndependent(t *testing.T) {
	c := newClock()
	l := New(WithRate(0.1, 1), withClock(c.now))

	if !l.Allow("10.0.0.1") {
		t.Fatal("first peer denied")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("first peer allowed twice")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatal("second peer limited by the first")
	}
}

func TestAllow_NonPositiveRateDisables(t *testing.T) {
	l := New(WithRate(0, 0))
	for i := 0; i < 100; i++ {
		if !l.Allow("127.0.0.1") {
			t.Fatalf("request %d denied with limiting disabled", i)
		}
	}
}

func TestAllow_DeniedHooks(t *testing.T) {
	c := newClock()
	var first, denied []string
	l := New(
		WithRate(0.1, 1),
		withClock(c.now),
		WithOnFirstDenied(func(a string) { first = append(first, a) }),
		WithOnDenied(func(a string) { denied = append(denied, a) }),
	)

	for i := 0; i < 4; i++ {
		l.Allow("10.0.0.9")
	}
	if len(first) != 1 || len(denied) != 3 {
		t.Fatalf("first=%v denied=%v", first, denied)
	}
}

func TestEviction(t *testing.T) {
	c := newClock()
	var first int
	l := New(
		WithRate(0.001, 1),
		WithTTL(time.Minute),
		withClock(c.now),
		WithOnFirstDenied(func(string) { first++ }),
	)

	l.Allow("10.0.0.1")
	l.Allow("10.0.0.1")
	if l.Len() != 1 || first != 1 {
		t.Fatalf("len=%d first=%d", l.Len(), first)
	}

	c.advance(2 * time.Minute)
	// sweep runs on this call; the old entry is gone so the peer starts fresh
	if !l.Allow("10.0.0.2") {
		t.Fatal("new peer denied")
	}
	if l.Len() != 1 {
		t.Fatalf("idle peer not evicted, len=%d", l.Len())
	}
	if !l.Allow("10.0.0.1") {
		t.Fatal("evicted peer did not get a fresh bucket")
	}
}

func TestMiddleware(t *testing.T) {
	c := newClock()
	l := New(WithRate(0.2, 1), withClock(c.now))
	var calls int
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/-/reload", http.NoBody)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("10.0.0.1:1111"); rec.Code != http.StatusOK {
		t.Fatalf("first = %d", rec.Code)
	}
	// another port from the same host shares the bucket
	rec := do("10.0.0.1:2222")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "5" {
		t.Fatalf("Retry-After = %q, want 5", got)
	}
	if calls != 1 {
		t.Fatalf("handler calls = %d", calls)
	}
}
