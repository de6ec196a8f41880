package usage

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/hivegate/hivegate/internal/domain"
	"github.com/hivegate/hivegate/internal/repository"
)

func TestPricerPollen(t *testing.T) {
	p := NewPricer()
	p.SetPricing("test-model", Pricing{InputPer1K: 0.01, OutputPer1K: 0.04})

	got := p.Pollen("test-model", domain.Usage{PromptTokens: 2000, CompletionTokens: 500})
	want := 0.02 + 0.02
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %v pollen, got %v", want, got)
	}
}

func TestPricerUnknownModelUsesFallback(t *testing.T) {
	p := NewPricer()

	got := p.Pollen("never-heard-of-it", domain.Usage{PromptTokens: 1000, CompletionTokens: 1000})
	if got <= 0 {
		t.Error("unknown models must not generate for free")
	}
}

func TestBillerDrainsTierBeforePaid(t *testing.T) {
	store := repository.NewInMemoryAccountStore()
	store.Seed(&domain.Account{
		ID: "acct-1", Tier: "spore", TierBalance: 0.01,
		PackBalance: 5, CryptoBalance: 2, Enabled: true,
	}, "")

	pricer := NewPricer()
	pricer.SetPricing("m", Pricing{InputPer1K: 1, OutputPer1K: 1})
	tracker := NewInMemoryTracker()
	biller := NewBiller(store, pricer, tracker)

	// 20 + 20 tokens at 1/1K each side = 0.04 pollen.
	record, err := biller.Charge(context.Background(), "acct-1",
		&domain.ServiceDefinition{Name: "m"}, "req-1",
		domain.Usage{PromptTokens: 20, CompletionTokens: 20}, false, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(record.Pollen-0.04) > 1e-9 {
		t.Errorf("expected 0.04 pollen charged, got %v", record.Pollen)
	}

	account, _ := store.GetByID(context.Background(), "acct-1")
	if account.TierBalance != 0 {
		t.Errorf("tier balance should drain first, got %v", account.TierBalance)
	}
	if math.Abs(account.PackBalance-4.97) > 1e-9 {
		t.Errorf("expected pack balance 4.97, got %v", account.PackBalance)
	}
	if account.CryptoBalance != 2 {
		t.Errorf("crypto balance should be untouched, got %v", account.CryptoBalance)
	}

	if len(tracker.All()) != 1 {
		t.Fatal("expected one usage record")
	}
}

func TestBillerPaidOnlySkipsTier(t *testing.T) {
	store := repository.NewInMemoryAccountStore()
	store.Seed(&domain.Account{
		ID: "acct-2", TierBalance: 10, PackBalance: 1, Enabled: true,
	}, "")

	pricer := NewPricer()
	pricer.SetPricing("premium", Pricing{InputPer1K: 1, OutputPer1K: 1})
	biller := NewBiller(store, pricer, NewInMemoryTracker())

	_, err := biller.Charge(context.Background(), "acct-2",
		&domain.ServiceDefinition{Name: "premium", PaidOnly: true}, "req-2",
		domain.Usage{PromptTokens: 100, CompletionTokens: 100}, false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	account, _ := store.GetByID(context.Background(), "acct-2")
	if account.TierBalance != 10 {
		t.Errorf("paid-only charges must not touch tier balance, got %v", account.TierBalance)
	}
	if math.Abs(account.PackBalance-0.8) > 1e-9 {
		t.Errorf("expected pack balance 0.8, got %v", account.PackBalance)
	}
}

func TestBillerOverdraftsLastComponent(t *testing.T) {
	store := repository.NewInMemoryAccountStore()
	store.Seed(&domain.Account{ID: "acct-3", CryptoBalance: 0.01, Enabled: true}, "")

	pricer := NewPricer()
	pricer.SetPricing("m", Pricing{InputPer1K: 1, OutputPer1K: 1})
	biller := NewBiller(store, pricer, NewInMemoryTracker())

	_, err := biller.Charge(context.Background(), "acct-3",
		&domain.ServiceDefinition{Name: "m"}, "req-3",
		domain.Usage{PromptTokens: 100, CompletionTokens: 0}, false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	account, _ := store.GetByID(context.Background(), "acct-3")
	if account.CryptoBalance >= 0 {
		t.Errorf("expected overdraft below zero, got %v", account.CryptoBalance)
	}
}

func TestTrackerAccountTotals(t *testing.T) {
	tracker := NewInMemoryTracker()
	base := time.Now().UTC()

	for i, pollen := range []float64{1, 2, 4} {
		tracker.Record(context.Background(), domain.UsageRecord{
			AccountID: "acct-1",
			Pollen:    pollen,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	tracker.Record(context.Background(), domain.UsageRecord{
		AccountID: "acct-other", Pollen: 100, Timestamp: base.Add(time.Minute),
	})

	total, err := tracker.AccountTotalPollen(context.Background(), "acct-1", base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 7 {
		t.Errorf("expected total 7, got %v", total)
	}

	records, err := tracker.AccountUsage(context.Background(), "acct-1", base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records after cutoff, got %d", len(records))
	}
}
