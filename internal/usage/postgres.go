package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/hivegate/hivegate/internal/domain"
)

// PostgresTracker persists usage rows for billing reports.
type PostgresTracker struct {
	db *sql.DB
}

func NewPostgresTracker(dsn string) (*PostgresTracker, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresTracker{db: db}, nil
}

func NewPostgresTrackerWithDB(db *sql.DB) *PostgresTracker {
	return &PostgresTracker{db: db}
}

func (t *PostgresTracker) Migrate(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS usage_records (
			id BIGSERIAL PRIMARY KEY,
			account_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			pollen DOUBLE PRECISION NOT NULL,
			streamed BOOLEAN NOT NULL,
			latency_ms BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_usage_account_created
			ON usage_records (account_id, created_at);
	`)
	return err
}

func (t *PostgresTracker) Record(ctx context.Context, r domain.UsageRecord) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO usage_records
			(account_id, request_id, model, input_tokens, output_tokens, pollen, streamed, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.AccountID, r.RequestID, r.Model, r.InputTokens, r.OutputTokens,
		r.Pollen, r.Streamed, r.LatencyMs, r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (t *PostgresTracker) AccountUsage(ctx context.Context, accountID string, since time.Time) ([]domain.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT account_id, request_id, model, input_tokens, output_tokens, pollen, streamed, latency_ms, created_at
		FROM usage_records
		WHERE account_id = $1 AND created_at > $2
		ORDER BY created_at`,
		accountID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []domain.UsageRecord
	for rows.Next() {
		var r domain.UsageRecord
		if err := rows.Scan(&r.AccountID, &r.RequestID, &r.Model, &r.InputTokens,
			&r.OutputTokens, &r.Pollen, &r.Streamed, &r.LatencyMs, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (t *PostgresTracker) AccountTotalPollen(ctx context.Context, accountID string, since time.Time) (float64, error) {
	var total float64
	err := t.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(pollen), 0)
		FROM usage_records
		WHERE account_id = $1 AND created_at > $2`,
		accountID, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage pollen: %w", err)
	}
	return total, nil
}

func (t *PostgresTracker) Close() error {
	return t.db.Close()
}
