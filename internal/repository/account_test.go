package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/hivegate/hivegate/internal/domain"
)

func TestGetByAPIKey(t *testing.T) {
	store := NewInMemoryAccountStore()
	store.Seed(&domain.Account{ID: "acct-1", Tier: "spore", Enabled: true}, "sk-hive")

	account, err := store.GetByAPIKey(t.Context(), "sk-hive")
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if account.ID != "acct-1" {
		t.Errorf("wrong account: %q", account.ID)
	}
	if account.APIKeyHash == "sk-hive" {
		t.Error("raw key must never be stored")
	}

	if _, err := store.GetByAPIKey(t.Context(), "sk-other"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("unknown key: %v", err)
	}
}

func TestReadsReturnCopies(t *testing.T) {
	store := NewInMemoryAccountStore()
	store.Seed(&domain.Account{ID: "acct-1", Tier: "spore", TierBalance: 1.5, Enabled: true}, "")

	account, err := store.GetByID(t.Context(), "acct-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	account.TierBalance = 0

	reread, _ := store.GetByID(t.Context(), "acct-1")
	if reread.TierBalance != 1.5 {
		t.Error("mutating a read result must not affect the store")
	}
}

func TestUpdate(t *testing.T) {
	store := NewInMemoryAccountStore()
	store.Seed(&domain.Account{ID: "acct-1", Tier: "spore", TierBalance: 1.5, Enabled: true}, "")

	account, _ := store.GetByID(t.Context(), "acct-1")
	account.TierBalance = 0.25
	account.CryptoBalance = -0.1
	if err := store.Update(t.Context(), account); err != nil {
		t.Fatalf("update: %v", err)
	}

	reread, _ := store.GetByID(t.Context(), "acct-1")
	if reread.TierBalance != 0.25 || reread.CryptoBalance != -0.1 {
		t.Errorf("update not applied: %+v", reread)
	}

	if err := store.Update(t.Context(), &domain.Account{ID: "ghost"}); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("updating a missing account: %v", err)
	}
}

func TestBulkRefill(t *testing.T) {
	store := NewInMemoryAccountStore()
	store.Seed(&domain.Account{ID: "a", Tier: "seed", TierBalance: 0.1, Enabled: true}, "")
	store.Seed(&domain.Account{ID: "b", Tier: "seed", Enabled: false}, "")
	store.Seed(&domain.Account{ID: "c", Tier: "flower", Enabled: true}, "")
	store.Seed(&domain.Account{ID: "d", Tier: "spore", Enabled: true}, "")

	grantedAt := time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)
	count, err := store.BulkRefill(t.Context(), map[string]float64{"seed": 3, "flower": 10}, grantedAt)
	if err != nil {
		t.Fatalf("bulk refill: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 accounts touched, got %d", count)
	}

	a, _ := store.GetByID(t.Context(), "a")
	if a.TierBalance != 3 || !a.LastTierGrant.Equal(grantedAt) {
		t.Errorf("refill must reset balance and grant time: %+v", a)
	}
	b, _ := store.GetByID(t.Context(), "b")
	if b.TierBalance != 0 {
		t.Error("disabled accounts must be skipped")
	}
	d, _ := store.GetByID(t.Context(), "d")
	if d.TierBalance != 0 {
		t.Error("tiers outside the grant map must be skipped")
	}
}

func TestSetTier(t *testing.T) {
	store := NewInMemoryAccountStore()
	store.Seed(&domain.Account{ID: "acct-1", Tier: "spore", TierBalance: 0.4, Enabled: true}, "")

	grantedAt := time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)
	if err := store.SetTier(t.Context(), "acct-1", "nectar", 20, grantedAt); err != nil {
		t.Fatalf("set tier: %v", err)
	}

	account, _ := store.GetByID(t.Context(), "acct-1")
	if account.Tier != "nectar" || account.TierBalance != 20 {
		t.Errorf("tier change not applied: %+v", account)
	}

	if err := store.SetTier(t.Context(), "ghost", "nectar", 20, grantedAt); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("missing account: %v", err)
	}
}
