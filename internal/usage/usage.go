// Package usage prices completed generations in pollen and settles the
// charge against the account's balances.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/hivegate/hivegate/internal/domain"
)

// Pricing is the pollen charge per thousand tokens for one model.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// DefaultPricing covers the built-in catalog, keyed by canonical model id.
var DefaultPricing = map[string]Pricing{
	"openai-fast":  {InputPer1K: 0.002, OutputPer1K: 0.008},
	"openai-large": {InputPer1K: 0.05, OutputPer1K: 0.15},
	"azure-grok":   {InputPer1K: 0.03, OutputPer1K: 0.12},
	"claude":       {InputPer1K: 0.04, OutputPer1K: 0.2},
	"bedrock-nova": {InputPer1K: 0.01, OutputPer1K: 0.04},
	"assistant":    {InputPer1K: 0.002, OutputPer1K: 0.008},
}

// fallback applies to models without an explicit price so nothing
// generates for free by omission.
var fallback = Pricing{InputPer1K: 0.01, OutputPer1K: 0.04}

type Pricer struct {
	mu      sync.RWMutex
	pricing map[string]Pricing
}

func NewPricer() *Pricer {
	pricing := make(map[string]Pricing, len(DefaultPricing))
	for model, p := range DefaultPricing {
		pricing[model] = p
	}
	return &Pricer{pricing: pricing}
}

// Pollen computes the charge for one generation.
func (p *Pricer) Pollen(model string, usage domain.Usage) float64 {
	p.mu.RLock()
	pricing, ok := p.pricing[model]
	p.mu.RUnlock()
	if !ok {
		pricing = fallback
	}

	input := float64(usage.PromptTokens) / 1000 * pricing.InputPer1K
	output := float64(usage.CompletionTokens) / 1000 * pricing.OutputPer1K
	return input + output
}

func (p *Pricer) SetPricing(model string, pricing Pricing) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pricing[model] = pricing
}

// Tracker persists usage records for reporting.
type Tracker interface {
	Record(ctx context.Context, record domain.UsageRecord) error
	AccountUsage(ctx context.Context, accountID string, since time.Time) ([]domain.UsageRecord, error)
	AccountTotalPollen(ctx context.Context, accountID string, since time.Time) (float64, error)
}

type InMemoryTracker struct {
	mu      sync.RWMutex
	records []domain.UsageRecord
}

func NewInMemoryTracker() *InMemoryTracker {
	return &InMemoryTracker{records: make([]domain.UsageRecord, 0)}
}

func (t *InMemoryTracker) Record(ctx context.Context, record domain.UsageRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, record)
	return nil
}

func (t *InMemoryTracker) AccountUsage(ctx context.Context, accountID string, since time.Time) ([]domain.UsageRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []domain.UsageRecord
	for _, r := range t.records {
		if r.AccountID == accountID && r.Timestamp.After(since) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (t *InMemoryTracker) AccountTotalPollen(ctx context.Context, accountID string, since time.Time) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total float64
	for _, r := range t.records {
		if r.AccountID == accountID && r.Timestamp.After(since) {
			total += r.Pollen
		}
	}
	return total, nil
}

func (t *InMemoryTracker) All() []domain.UsageRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]domain.UsageRecord, len(t.records))
	copy(result, t.records)
	return result
}
