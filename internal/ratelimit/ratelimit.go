// Package ratelimit enforces per-account request rates ahead of quota
// admission, with the per-minute limit taken from the account's tier.
// In-memory windows serve single instances; the Redis backend keeps
// replicas counting against the same window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter reports whether an account may make another request right now.
type Limiter interface {
	Allow(ctx context.Context, accountID string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)
}

// TierLimits maps tier names to requests per minute. Unknown tiers fall
// back to Default.
type TierLimits struct {
	PerTier map[string]int
	Default int
}

// DefaultTierLimits scales request rate with tier rank.
func DefaultTierLimits() TierLimits {
	return TierLimits{
		PerTier: map[string]int{
			"microbe": 5,
			"spore":   15,
			"seed":    30,
			"flower":  60,
			"nectar":  120,
			"router":  600,
		},
		Default: 15,
	}
}

// For returns the per-minute limit for a tier.
func (t TierLimits) For(tier string) int {
	if limit, ok := t.PerTier[tier]; ok {
		return limit
	}
	return t.Default
}

// InMemoryLimiter counts requests in fixed one-minute windows.
type InMemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemoryLimiter() *InMemoryLimiter {
	return &InMemoryLimiter{windows: make(map[string]*window)}
}

func (l *InMemoryLimiter) Allow(ctx context.Context, accountID string, limit int) (bool, int, time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[accountID]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(time.Minute)}
		l.windows[accountID] = w
	}

	if w.count >= limit {
		return false, 0, w.resetAt, nil
	}

	w.count++
	return true, limit - w.count, w.resetAt, nil
}
