package repository

import (
	"context"
	"database/sql"

	"copytrade/internal/portfolio"
)

// SnapshotRepository хранит снапшоты баланса по пользователям.
type SnapshotRepository interface {
	Upsert(ctx context.Context, snap *portfolio.Snapshot) error
	Get(ctx context.Context, userID string) (*portfolio.Snapshot, error)
}

type PostgresSnapshotRepo struct {
	DB *sql.DB
}

func NewPostgresSnapshotRepo(db *sql.DB) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{DB: db}
}

func (r *PostgresSnapshotRepo) Upsert(ctx context.Context, snap *portfolio.Snapshot) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO portfolios (
			user_id, total_balance, available_balance, unrealized_pnl,
			equity, margin_used, margin_available, last_updated
		) VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			total_balance = $2, available_balance = $3, unrealized_pnl = $4,
			equity = $5, margin_used = $6, margin_available = $7,
			last_updated = NOW()`,
		snap.UserID, snap.TotalBalance, snap.AvailableBalance, snap.UnrealizedPnl,
		snap.Equity, snap.MarginUsed, snap.MarginAvailable)
	return err
}

func (r *PostgresSnapshotRepo) Get(ctx context.Context, userID string) (*portfolio.Snapshot, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT user_id, total_balance, available_balance, unrealized_pnl,
			equity, margin_used, margin_available, last_updated
		 FROM portfolios WHERE user_id = $1`,
		userID)

	s := &portfolio.Snapshot{}
	err := row.Scan(&s.UserID, &s.TotalBalance, &s.AvailableBalance, &s.UnrealizedPnl,
		&s.Equity, &s.MarginUsed, &s.MarginAvailable, &s.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
