// Package ratelimit implements per-domain cooldown tracking driven by
// back-off-worthy HTTP response codes, plus an optional request-rate
// baseline per domain.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/archivelab/linkmeta/internal/linkmeta"
)

// DefaultPenalties maps back-off-worthy status codes to cooldown durations.
var DefaultPenalties = map[int]time.Duration{
	429: 30 * time.Second,
	403: 10 * time.Second,
	405: 10 * time.Second,
}

// Config holds limiter configuration.
type Config struct {
	// Penalties maps response codes to cooldown durations. Codes absent
	// from the table never trigger a cooldown.
	Penalties map[int]time.Duration
	// DomainRPS caps request rate per domain; <= 0 disables the baseline.
	DomainRPS float64
	// DomainBurst is the token bucket burst for the baseline.
	DomainBurst int
}

// Limiter tracks cooldown expiry per normalized domain. In-memory and
// process-lifetime only; nothing persists across restarts.
type Limiter struct {
	mu        sync.Mutex
	cooldowns map[string]time.Time
	buckets   map[string]*rate.Limiter
	penalties map[int]time.Duration
	baseRate  rate.Limit
	burst     int
	clock     linkmeta.Clock
}

// New creates a Limiter. A nil penalty table falls back to DefaultPenalties.
func New(cfg Config, clock linkmeta.Clock) *Limiter {
	penalties := cfg.Penalties
	if penalties == nil {
		penalties = DefaultPenalties
	}
	baseRate := rate.Limit(cfg.DomainRPS)
	if cfg.DomainRPS <= 0 {
		baseRate = rate.Inf
	}
	burst := cfg.DomainBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		cooldowns: make(map[string]time.Time),
		buckets:   make(map[string]*rate.Limiter),
		penalties: penalties,
		baseRate:  baseRate,
		burst:     burst,
		clock:     clock,
	}
}

// Check reports whether the domain may be fetched now. When the domain is
// cooling down, remaining is the time left on the window.
func (l *Limiter) Check(domain string) (bool, time.Duration) {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.cooldowns[domain]
	if !ok {
		return true, 0
	}
	if !now.Before(until) {
		delete(l.cooldowns, domain)
		return true, 0
	}
	return false, until.Sub(now)
}

// Penalize starts or extends the domain's cooldown for the status code. The
// expiry only moves forward: a shorter penalty never truncates an active
// longer one.
func (l *Limiter) Penalize(domain string, statusCode int) {
	penalty, ok := l.penalties[statusCode]
	if !ok {
		return
	}
	until := l.clock.Now().Add(penalty)
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.cooldowns[domain]; ok && existing.After(until) {
		return
	}
	l.cooldowns[domain] = until
}

// Wait blocks until the domain's baseline token bucket allows a request,
// respecting the context. A no-op when the baseline is disabled.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	if l.baseRate == rate.Inf {
		return nil
	}
	l.mu.Lock()
	bucket, ok := l.buckets[domain]
	if !ok {
		bucket = rate.NewLimiter(l.baseRate, l.burst)
		l.buckets[domain] = bucket
	}
	l.mu.Unlock()

	if err := bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
