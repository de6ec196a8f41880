package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hivegate/hivegate/internal/domain"
	"github.com/hivegate/hivegate/internal/events"
	"github.com/hivegate/hivegate/internal/repository"
)

// WeeklyDay is the UTC weekday on which weekly-cadence tiers refill.
const WeeklyDay = time.Monday

// Refiller runs the scheduled bulk refill. It is safe to re-run after a
// partial failure: the marker only advances once the balance updates have
// been applied.
type Refiller struct {
	accounts repository.AccountStore
	marker   MarkerStore
	tiers    *TierSet
	sink     events.Publisher
	now      func() time.Time
}

func NewRefiller(accounts repository.AccountStore, marker MarkerStore, tiers *TierSet, sink events.Publisher) *Refiller {
	if sink == nil {
		sink = events.NopPublisher{}
	}
	return &Refiller{
		accounts: accounts,
		marker:   marker,
		tiers:    tiers,
		sink:     sink,
		now:      time.Now,
	}
}

// WithClock overrides the refiller's time source, for tests.
func (r *Refiller) WithClock(now func() time.Time) *Refiller {
	r.now = now
	return r
}

// TierCount summarizes one tier in a refill result.
type TierCount struct {
	Count  int     `json:"count"`
	Pollen float64 `json:"pollenAmount"`
}

// Result reports what a refill run did.
type Result struct {
	Skipped       bool                 `json:"skipped"`
	LastRefill    time.Time            `json:"lastRefill,omitempty"`
	UsersRefilled int                  `json:"usersRefilled"`
	DailyCount    int                  `json:"dailyCount"`
	WeeklyCount   int                  `json:"weeklyCount"`
	IsWeeklyDay   bool                 `json:"isWeeklyDay"`
	TierBreakdown map[string]TierCount `json:"tierBreakdown,omitempty"`
	Timestamp     time.Time            `json:"timestamp"`
}

// Run executes one refill pass. Idempotent per UTC calendar day.
func (r *Refiller) Run(ctx context.Context) (*Result, error) {
	now := r.now().UTC()
	todayStart := now.Truncate(24 * time.Hour)

	last, err := r.marker.LastRefill(ctx)
	if err != nil {
		return nil, fmt.Errorf("read last refill: %w", err)
	}
	if !last.Before(todayStart) {
		slog.Info("tier refill skipped, already ran today", "last_refill", last)
		return &Result{Skipped: true, LastRefill: last, Timestamp: now}, nil
	}

	// Snapshot before the update so audit events can carry the balance
	// each account held going in.
	before, err := r.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	isWeeklyDay := now.Weekday() == WeeklyDay

	dailyCount, err := r.accounts.BulkRefill(ctx, r.tiers.WithCadence(domain.CadenceDaily), now)
	if err != nil {
		return nil, fmt.Errorf("daily refill: %w", err)
	}

	weeklyCount := 0
	if isWeeklyDay {
		weeklyCount, err = r.accounts.BulkRefill(ctx, r.tiers.WithCadence(domain.CadenceWeekly), now)
		if err != nil {
			return nil, fmt.Errorf("weekly refill: %w", err)
		}
	}

	// The marker advances only after the updates succeed, so a crash
	// above causes a repeated idempotent re-application, never a skipped
	// day.
	if err := r.marker.SetLastRefill(ctx, now); err != nil {
		return nil, fmt.Errorf("advance refill marker: %w", err)
	}

	refilled := r.refilledGrants(isWeeklyDay)
	r.emitAuditEvents(before, refilled, now)

	result := &Result{
		UsersRefilled: dailyCount + weeklyCount,
		DailyCount:    dailyCount,
		WeeklyCount:   weeklyCount,
		IsWeeklyDay:   isWeeklyDay,
		TierBreakdown: breakdown(before, refilled),
		Timestamp:     now,
	}

	slog.Info("tier refill complete",
		"users_refilled", result.UsersRefilled,
		"daily_count", dailyCount,
		"weekly_count", weeklyCount,
		"is_weekly_day", isWeeklyDay,
	)

	return result, nil
}

func (r *Refiller) refilledGrants(isWeeklyDay bool) map[string]float64 {
	grants := r.tiers.WithCadence(domain.CadenceDaily)
	if isWeeklyDay {
		for tier, pollen := range r.tiers.WithCadence(domain.CadenceWeekly) {
			grants[tier] = pollen
		}
	}
	return grants
}

func (r *Refiller) emitAuditEvents(before []*domain.Account, grants map[string]float64, at time.Time) {
	timestamp := at.Format(time.RFC3339)
	var batch []events.Event
	for _, account := range before {
		pollen, ok := grants[account.Tier]
		if !ok || !account.Enabled {
			continue
		}
		previous := account.TierBalance
		batch = append(batch, events.Event{
			Type:            events.TypeTierRefill,
			AccountID:       account.ID,
			Tier:            account.Tier,
			PollenAmount:    pollen,
			PreviousBalance: &previous,
			Timestamp:       timestamp,
		})
	}
	events.PublishAsync(r.sink, batch...)
}

func breakdown(before []*domain.Account, grants map[string]float64) map[string]TierCount {
	counts := make(map[string]TierCount)
	for _, account := range before {
		pollen, ok := grants[account.Tier]
		if !ok || !account.Enabled {
			continue
		}
		entry := counts[account.Tier]
		entry.Count++
		entry.Pollen = pollen
		counts[account.Tier] = entry
	}
	return counts
}
