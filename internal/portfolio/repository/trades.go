package repository

import (
	"context"
	"database/sql"

	"copytrade/internal/portfolio"
)

// TradeRepository — неизменяемый журнал закрытых сделок.
type TradeRepository interface {
	Create(ctx context.Context, trade *portfolio.TradeHistory) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*portfolio.TradeHistory, error)
}

type PostgresTradeRepo struct {
	DB *sql.DB
}

func NewPostgresTradeRepo(db *sql.DB) *PostgresTradeRepo {
	return &PostgresTradeRepo{DB: db}
}

func (r *PostgresTradeRepo) Create(ctx context.Context, trade *portfolio.TradeHistory) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO trade_history (
			id, user_id, exchange, symbol, side, entry_price, exit_price,
			quantity, leverage, pnl, pnl_percent, duration_seconds, opened_at, closed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		trade.ID, trade.UserID, trade.Exchange, trade.Symbol, trade.Side,
		trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.Leverage,
		trade.Pnl, trade.PnlPercent, trade.DurationSeconds,
		trade.OpenedAt, trade.ClosedAt)
	return err
}

func (r *PostgresTradeRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*portfolio.TradeHistory, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, user_id, exchange, symbol, side, entry_price, exit_price,
			quantity, leverage, pnl, pnl_percent, duration_seconds, opened_at, closed_at
		 FROM trade_history WHERE user_id = $1
		 ORDER BY closed_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*portfolio.TradeHistory
	for rows.Next() {
		t := &portfolio.TradeHistory{}
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Exchange, &t.Symbol, &t.Side, &t.EntryPrice,
			&t.ExitPrice, &t.Quantity, &t.Leverage, &t.Pnl, &t.PnlPercent,
			&t.DurationSeconds, &t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
