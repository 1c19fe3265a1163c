package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Repository records gateway history: balance snapshots, nonce recoveries,
// and breaker transitions. Writes are best-effort; a failed insert is logged
// and never propagated into the request path.
type Repository struct {
	db     *DB
	logger zerolog.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger zerolog.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger.With().Str("component", "Repository").Logger(),
	}
}

// BalanceRow is one persisted balance observation
type BalanceRow struct {
	Asset     string    `json:"asset"`
	Amount    float64   `json:"amount"`
	FetchedAt time.Time `json:"fetched_at"`
}

// RecordSnapshot persists one row per asset of a balance snapshot. It
// satisfies balance.Sink.
func (r *Repository) RecordSnapshot(ctx context.Context, balances map[string]float64, fetchedAt time.Time) {
	for asset, amount := range balances {
		_, err := r.db.Pool.Exec(ctx,
			`INSERT INTO balance_snapshots (asset, amount, fetched_at) VALUES ($1, $2, $3)`,
			asset, amount, fetchedAt)
		if err != nil {
			r.logger.Warn().Err(err).Str("asset", asset).Msg("failed to record balance snapshot")
			return
		}
	}
}

// RecordNonceRecovery persists a nonce recovery jump for auditing
func (r *Repository) RecordNonceRecovery(ctx context.Context, before, after uint64) {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO nonce_recovery_events (nonce_before, nonce_after) VALUES ($1, $2)`,
		int64(before), int64(after))
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to record nonce recovery")
	}
}

// RecordBreakerTransition persists a circuit breaker state change
func (r *Repository) RecordBreakerTransition(ctx context.Context, from, to, reason string) {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO breaker_transitions (from_state, to_state, reason) VALUES ($1, $2, $3)`,
		from, to, reason)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to record breaker transition")
	}
}

// LatestBalances returns the most recent persisted amount per asset
func (r *Repository) LatestBalances(ctx context.Context) ([]BalanceRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT DISTINCT ON (asset) asset, amount, fetched_at
		 FROM balance_snapshots
		 ORDER BY asset, fetched_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceRow
	for rows.Next() {
		var row BalanceRow
		if err := rows.Scan(&row.Asset, &row.Amount, &row.FetchedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
