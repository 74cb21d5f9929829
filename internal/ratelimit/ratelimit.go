// Package ratelimit keeps one token bucket per peer address. The admin
// listener uses it to cap manual reloads, so one misbehaving client cannot
// keep the reload pipeline busy while others still get through.
//
// State is in memory and per process. Idle peers are evicted lazily on the
// next Allow after their TTL, so there is no background goroutine to stop.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// peer tracks one address's limiter and last activity.
type peer struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged is reset when the entry is evicted and re-created
	logged bool
}

// Limiter holds per-peer rate limiters.
type Limiter struct {
	mu    sync.Mutex
	peers map[string]*peer

	limit rate.Limit
	burst int
	ttl   time.Duration

	lastSweep time.Time
	now       func() time.Time

	onFirstDenied func(addr string)
	onDenied      func(addr string)
}

type Option func(*Limiter)

// WithRate sets the refill rate (tokens per second) and bucket size. A
// non-positive rate disables limiting.
func WithRate(perSecond float64, burst int) Option {
	return func(l *Limiter) {
		l.limit = rate.Limit(perSecond)
		if perSecond <= 0 {
			l.limit = rate.Inf
		}
		l.burst = max(burst, 1)
	}
}

// WithTTL controls how long an idle peer is remembered.
func WithTTL(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithOnFirstDenied is called once per remembered peer, for logging.
func WithOnFirstDenied(fn func(addr string)) Option {
	return func(l *Limiter) { l.onFirstDenied = fn }
}

// WithOnDenied is called on every denial, for counting.
func WithOnDenied(fn func(addr string)) Option {
	return func(l *Limiter) { l.onDenied = fn }
}

func withClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a Limiter allowing 0.2 requests per second with a burst of
// 2 unless configured otherwise.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		peers: make(map[string]*peer),
		limit: 0.2,
		burst: 2,
		ttl:   10 * time.Minute,
		now:   time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Allow reports whether addr may proceed now.
func (l *Limiter) Allow(addr string) bool {
	now := l.now()

	l.mu.Lock()
	l.sweepLocked(now)
	p, ok := l.peers[addr]
	if !ok {
		p = &peer{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.peers[addr] = p
	}
	p.lastSeen = now
	allowed := p.limiter.AllowN(now, 1)
	first := !allowed && !p.logged
	if first {
		p.logged = true
	}
	l.mu.Unlock()

	// hooks run unlocked; they may log or touch metrics
	if first && l.onFirstDenied != nil {
		l.onFirstDenied(addr)
	}
	if !allowed && l.onDenied != nil {
		l.onDenied(addr)
	}
	return allowed
}

// Len is the number of remembered peers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}

// sweepLocked evicts idle peers at most every ttl/2.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.ttl/2 {
		return
	}
	l.lastSweep = now
	for addr, p := range l.peers {
		if now.Sub(p.lastSeen) > l.ttl {
			delete(l.peers, addr)
		}
	}
}

// retryAfter is the whole seconds until one token refills.
func (l *Limiter) retryAfter() string {
	if l.limit == rate.Inf || l.limit <= 0 {
		return "1"
	}
	return strconv.Itoa(int(math.Max(1, math.Ceil(1/float64(l.limit)))))
}

// Middleware rejects requests over the peer's limit with 429. The peer is
// the host part of RemoteAddr; the admin listener refuses forwarded
// requests, so there is no header to trust.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := r.RemoteAddr
		if host, _, err := net.SplitHostPort(addr); err == nil {
			addr = host
		}
		if !l.Allow(addr) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", l.retryAfter())
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"reload rate limited"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
