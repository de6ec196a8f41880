package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/hivegate/hivegate/internal/domain"
	"github.com/hivegate/hivegate/internal/repository"
)

// Biller settles a priced generation against the account. Draining order
// is tier, then pack, then crypto, so granted pollen is always consumed
// before purchased pollen. Paid-only models skip the tier component
// entirely, mirroring the admission rule.
type Biller struct {
	accounts repository.AccountStore
	pricer   *Pricer
	tracker  Tracker
}

func NewBiller(accounts repository.AccountStore, pricer *Pricer, tracker Tracker) *Biller {
	return &Biller{accounts: accounts, pricer: pricer, tracker: tracker}
}

// Charge prices the generation, debits the account and records usage.
// The account is re-read so concurrent charges do not settle against a
// stale snapshot. Returns the finished usage record.
func (b *Biller) Charge(ctx context.Context, accountID string, def *domain.ServiceDefinition, requestID string, u domain.Usage, streamed bool, latency time.Duration) (domain.UsageRecord, error) {
	pollen := b.pricer.Pollen(def.Name, u)

	account, err := b.accounts.GetByID(ctx, accountID)
	if err != nil {
		return domain.UsageRecord{}, err
	}

	remaining := pollen
	if !def.PaidOnly {
		account.TierBalance, remaining = drain(account.TierBalance, remaining)
	}
	account.PackBalance, remaining = drain(account.PackBalance, remaining)
	// The last component absorbs any overdraft: admission only requires a
	// positive balance, so the final request before exhaustion may cost
	// more than what is left.
	account.CryptoBalance -= remaining

	if err := b.accounts.Update(ctx, account); err != nil {
		return domain.UsageRecord{}, err
	}

	record := domain.UsageRecord{
		AccountID:    accountID,
		RequestID:    requestID,
		Model:        def.Name,
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		Pollen:       pollen,
		Streamed:     streamed,
		LatencyMs:    latency.Milliseconds(),
		Timestamp:    time.Now().UTC(),
	}

	if b.tracker != nil {
		if err := b.tracker.Record(ctx, record); err != nil {
			// The debit already happened; losing the report row is
			// preferable to double-charging on retry.
			slog.Warn("usage record write failed", "account_id", accountID, "request_id", requestID, "error", err)
		}
	}

	return record, nil
}

// drain subtracts as much of amount as balance can cover and returns
// what is still owed.
func drain(balance, amount float64) (newBalance, remaining float64) {
	if amount <= 0 {
		return balance, 0
	}
	if balance >= amount {
		return balance - amount, 0
	}
	if balance <= 0 {
		return balance, amount
	}
	return 0, amount - balance
}
