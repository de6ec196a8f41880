// Package repository owns persistent account state. Accounts exist before
// they reach the gateway; this layer only reads them and applies quota
// grants.
package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hivegate/hivegate/internal/crypto"
	"github.com/hivegate/hivegate/internal/domain"
)

type AccountStore interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Account, error)
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	List(ctx context.Context) ([]*domain.Account, error)
	Update(ctx context.Context, account *domain.Account) error

	// BulkRefill sets tier_balance to the tier's pollen amount and
	// last_tier_grant to grantedAt for every enabled account whose tier
	// appears in pollenByTier, in one update. Returns the number of
	// accounts touched.
	BulkRefill(ctx context.Context, pollenByTier map[string]float64, grantedAt time.Time) (int, error)

	// SetTier moves an account to a new tier and resets its tier balance
	// to the tier's pollen amount.
	SetTier(ctx context.Context, id, tier string, balance float64, grantedAt time.Time) error
}

// InMemoryAccountStore backs tests and single-instance development runs.
type InMemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	byKey    map[string]string
}

func NewInMemoryAccountStore() *InMemoryAccountStore {
	return &InMemoryAccountStore{
		accounts: make(map[string]*domain.Account),
		byKey:    make(map[string]string),
	}
}

// Seed inserts an account, registering its API key when provided.
func (s *InMemoryAccountStore) Seed(account *domain.Account, apiKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if apiKey != "" {
		account.APIKeyHash = crypto.HashAPIKey(apiKey)
		s.byKey[account.APIKeyHash] = account.ID
	}
	s.accounts[account.ID] = account
}

func (s *InMemoryAccountStore) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[crypto.HashAPIKey(apiKey)]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return s.copyOf(id)
}

func (s *InMemoryAccountStore) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyOf(id)
}

func (s *InMemoryAccountStore) copyOf(id string) (*domain.Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *InMemoryAccountStore) List(ctx context.Context) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]*domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		copied := *a
		accounts = append(accounts, &copied)
	}
	return accounts, nil
}

func (s *InMemoryAccountStore) Update(ctx context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; !ok {
		return domain.ErrAccountNotFound
	}
	copied := *account
	copied.UpdatedAt = time.Now()
	s.accounts[account.ID] = &copied
	return nil
}

func (s *InMemoryAccountStore) BulkRefill(ctx context.Context, pollenByTier map[string]float64, grantedAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, a := range s.accounts {
		pollen, ok := pollenByTier[a.Tier]
		if !ok || !a.Enabled {
			continue
		}
		a.TierBalance = pollen
		a.LastTierGrant = grantedAt
		count++
	}
	return count, nil
}

func (s *InMemoryAccountStore) SetTier(ctx context.Context, id, tier string, balance float64, grantedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	account.Tier = tier
	account.TierBalance = balance
	account.LastTierGrant = grantedAt
	account.UpdatedAt = time.Now()
	return nil
}
