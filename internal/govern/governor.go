// Package govern implements the shared resource governor for a crawl run.
//
// The governor is the only mutable state shared between workers: a global
// request counter, the run start time, and a per-host limiter map. It cannot
// error, only saturate.
package govern

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

// Config bounds a crawl run.
type Config struct {
	// MaxRequests is the global request budget. Zero means unlimited.
	MaxRequests int
	// MaxRuntime is the global wall-clock budget. Zero means unlimited.
	MaxRuntime time.Duration
	// DomainDelay is the minimum spacing between requests to one host.
	DomainDelay time.Duration
}

// Governor tracks global and per-host budgets for one run.
type Governor struct {
	mu       sync.Mutex
	cfg      Config
	start    time.Time
	requests int
	lastSeen map[string]time.Time
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// New creates a Governor. The budget clock starts immediately.
func New(cfg Config) *Governor {
	return &Governor{
		cfg:      cfg,
		start:    time.Now(),
		lastSeen: make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Admit reports whether another network operation fits the global budget.
// It does not consume budget; Throttle does.
func (g *Governor) Admit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.admitLocked()
}

func (g *Governor) admitLocked() bool {
	if g.cfg.MaxRequests > 0 && g.requests >= g.cfg.MaxRequests {
		return false
	}
	if g.cfg.MaxRuntime > 0 && g.now().Sub(g.start) >= g.cfg.MaxRuntime {
		return false
	}
	return true
}

// Throttle reserves one unit of the global budget and blocks until the
// per-host delay since the previous request to host has elapsed. The budget
// check and counter increment share one critical section, so concurrent
// callers can never push the counter past MaxRequests. The lock is not held
// while waiting on the limiter; a wait aborted by the context refunds the
// reservation.
func (g *Governor) Throttle(ctx context.Context, host string) error {
	host = strings.ToLower(strings.TrimSpace(host))

	g.mu.Lock()
	if !g.admitLocked() {
		g.mu.Unlock()
		return crawl.ErrBudgetExhausted
	}
	g.requests++
	limiter, ok := g.limiters[host]
	if !ok {
		limit := rate.Inf
		if g.cfg.DomainDelay > 0 {
			limit = rate.Every(g.cfg.DomainDelay)
		}
		limiter = rate.NewLimiter(limit, 1)
		g.limiters[host] = limiter
	}
	g.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		g.mu.Lock()
		g.requests--
		g.mu.Unlock()
		return fmt.Errorf("throttle %s: %w", host, err)
	}

	g.mu.Lock()
	g.lastSeen[host] = g.now()
	g.mu.Unlock()
	return nil
}

// Snapshot reports the counters for logging and the run summary.
func (g *Governor) Snapshot() (requests int, elapsed time.Duration, hosts int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests, g.now().Sub(g.start), len(g.lastSeen)
}

// LastRequest returns the recorded timestamp of the most recent request to host.
func (g *Governor) LastRequest(host string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.lastSeen[strings.ToLower(host)]
	return t, ok
}
