package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ppiankov/rolcurve/internal/model"
)

// Limiter throttles work per client with one token bucket each. Clients
// without an override share the default rate.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      rate.Limit
	burst     int
	overrides map[string]model.RateLimit
	now       func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter with a default rate. burst <= 0 means 5.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}
	return &Limiter{
		buckets:   make(map[string]*bucket),
		rate:      rate.Limit(requestsPerSecond),
		burst:     burst,
		overrides: make(map[string]model.RateLimit),
		now:       time.Now,
	}
}

// LimiterFromConfig creates a limiter with the server's default and per-client rates
func LimiterFromConfig(cfg model.ServerConfig) *Limiter {
	l := NewLimiter(cfg.RequestsPerSecond, cfg.Burst)
	for client, rl := range cfg.ClientLimits {
		l.SetClientRate(client, rl.RequestsPerSecond, rl.Burst)
	}
	return l
}

// Wait blocks until client may proceed or ctx is done
func (l *Limiter) Wait(ctx context.Context, client string) error {
	return l.get(client).Wait(ctx)
}

// Allow reports whether client may proceed now. When it may not, the returned
// duration is how long until a token is available.
func (l *Limiter) Allow(client string) (bool, time.Duration) {
	lim := l.get(client)
	r := lim.ReserveN(l.now(), 1)
	if !r.OK() {
		return false, 0
	}
	delay := r.DelayFrom(l.now())
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(l.now())
	return false, delay
}

// SetClientRate overrides the rate of one client. burst <= 0 keeps the default burst.
func (l *Limiter) SetClientRate(client string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if burst <= 0 {
		burst = l.burst
	}
	l.overrides[client] = model.RateLimit{RequestsPerSecond: requestsPerSecond, Burst: burst}
	delete(l.buckets, client)
}

// Prune drops the buckets of clients not seen for idle and returns how many
// were dropped. A returning client starts with a full bucket.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	n := 0
	for client, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, client)
			n++
		}
	}
	return n
}

// Len returns the number of tracked clients
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) get(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[client]
	if !ok {
		r, burst := l.rate, l.burst
		if o, ok := l.overrides[client]; ok {
			r, burst = rate.Limit(o.RequestsPerSecond), o.Burst
		}
		b = &bucket{lim: rate.NewLimiter(r, burst)}
		l.buckets[client] = b
	}
	b.lastSeen = l.now()
	return b.lim
}
