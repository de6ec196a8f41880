package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hivegate/hivegate/internal/crypto"
	"github.com/hivegate/hivegate/internal/domain"
)

const accountColumns = `
	id, tier, tier_balance, pack_balance, crypto_balance,
	last_tier_grant, api_key_hash, allowed_models, enabled, created_at, updated_at
`

// PostgresAccountStore is the production account store.
type PostgresAccountStore struct {
	db *sql.DB
}

func NewPostgresAccountStore(db *sql.DB) *PostgresAccountStore {
	return &PostgresAccountStore{db: db}
}

func (r *PostgresAccountStore) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE api_key_hash = $1 AND enabled = true`
	return r.queryOne(ctx, query, crypto.HashAPIKey(apiKey))
}

func (r *PostgresAccountStore) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.queryOne(ctx, query, id)
}

func (r *PostgresAccountStore) queryOne(ctx context.Context, query string, arg any) (*domain.Account, error) {
	var account domain.Account
	var allowedModels pq.StringArray
	var lastGrant sql.NullTime

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID,
		&account.Tier,
		&account.TierBalance,
		&account.PackBalance,
		&account.CryptoBalance,
		&lastGrant,
		&account.APIKeyHash,
		&allowedModels,
		&account.Enabled,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}

	account.AllowedModels = []string(allowedModels)
	if lastGrant.Valid {
		account.LastTierGrant = lastGrant.Time
	}
	return &account, nil
}

func (r *PostgresAccountStore) List(ctx context.Context) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		var account domain.Account
		var allowedModels pq.StringArray
		var lastGrant sql.NullTime

		err := rows.Scan(
			&account.ID,
			&account.Tier,
			&account.TierBalance,
			&account.PackBalance,
			&account.CryptoBalance,
			&lastGrant,
			&account.APIKeyHash,
			&allowedModels,
			&account.Enabled,
			&account.CreatedAt,
			&account.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}

		account.AllowedModels = []string(allowedModels)
		if lastGrant.Valid {
			account.LastTierGrant = lastGrant.Time
		}
		accounts = append(accounts, &account)
	}

	return accounts, rows.Err()
}

func (r *PostgresAccountStore) Update(ctx context.Context, account *domain.Account) error {
	query := `
		UPDATE accounts
		SET tier = $2, tier_balance = $3, pack_balance = $4, crypto_balance = $5,
		    last_tier_grant = $6, allowed_models = $7, enabled = $8, updated_at = $9
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Tier,
		account.TierBalance,
		account.PackBalance,
		account.CryptoBalance,
		account.LastTierGrant,
		pq.Array(account.AllowedModels),
		account.Enabled,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// BulkRefill applies every tier's grant in a single statement so a crash
// cannot leave half the accounts of one tier refilled.
func (r *PostgresAccountStore) BulkRefill(ctx context.Context, pollenByTier map[string]float64, grantedAt time.Time) (int, error) {
	if len(pollenByTier) == 0 {
		return 0, nil
	}

	tiers := make([]string, 0, len(pollenByTier))
	for tier := range pollenByTier {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)

	var cases strings.Builder
	args := []any{grantedAt, pq.Array(tiers)}
	for _, tier := range tiers {
		fmt.Fprintf(&cases, " WHEN %s THEN $%d::double precision", pq.QuoteLiteral(tier), len(args)+1)
		args = append(args, pollenByTier[tier])
	}

	query := fmt.Sprintf(`
		UPDATE accounts
		SET tier_balance = CASE tier%s ELSE tier_balance END,
		    last_tier_grant = $1
		WHERE tier = ANY($2) AND enabled = true
	`, cases.String())

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk refill: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk refill rows affected: %w", err)
	}
	return int(count), nil
}

func (r *PostgresAccountStore) SetTier(ctx context.Context, id, tier string, balance float64, grantedAt time.Time) error {
	query := `
		UPDATE accounts
		SET tier = $2, tier_balance = $3, last_tier_grant = $4, updated_at = $5
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, tier, balance, grantedAt, time.Now())
	if err != nil {
		return fmt.Errorf("set tier: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}
