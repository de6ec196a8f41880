package ratelimit

import (
	"context"
	"testing"
)

func TestInMemoryLimiterEnforcesLimit(t *testing.T) {
	limiter := NewInMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, _, err := limiter.Allow(ctx, "acct-1", 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if remaining != 3-(i+1) {
			t.Errorf("request %d: expected remaining %d, got %d", i+1, 3-(i+1), remaining)
		}
	}

	allowed, remaining, resetAt, err := limiter.Allow(ctx, "acct-1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("fourth request should be rejected")
	}
	if remaining != 0 {
		t.Errorf("expected 0 remaining, got %d", remaining)
	}
	if resetAt.IsZero() {
		t.Error("rejection must carry a reset time")
	}
}

func TestInMemoryLimiterIsolatesAccounts(t *testing.T) {
	limiter := NewInMemoryLimiter()
	ctx := context.Background()

	limiter.Allow(ctx, "acct-1", 1)
	if allowed, _, _, _ := limiter.Allow(ctx, "acct-1", 1); allowed {
		t.Error("acct-1 should be exhausted")
	}
	if allowed, _, _, _ := limiter.Allow(ctx, "acct-2", 1); !allowed {
		t.Error("acct-2 must have its own window")
	}
}

func TestTierLimits(t *testing.T) {
	limits := DefaultTierLimits()

	if got := limits.For("nectar"); got != 120 {
		t.Errorf("expected nectar limit 120, got %d", got)
	}
	if got := limits.For("unknown-tier"); got != limits.Default {
		t.Errorf("unknown tier should fall back to default, got %d", got)
	}
	if limits.For("microbe") >= limits.For("flower") {
		t.Error("limits should grow with tier rank")
	}
}
