package repository

import (
	"context"
	"database/sql"
	"time"

	"copytrade/internal/portfolio"
)

// PositionRepository — хранилище позиций для движка и реконсилятора.
// Запросы по отсутствующим строкам возвращают (nil, nil).
type PositionRepository interface {
	GetOpen(ctx context.Context, userID, symbol string) (*portfolio.Position, error)
	GetOpenBySide(ctx context.Context, userID, symbol, side string) (*portfolio.Position, error)
	CountOpen(ctx context.Context, userID string) (int, error)
	ListOpen(ctx context.Context, userID string) ([]*portfolio.Position, error)
	Upsert(ctx context.Context, pos *portfolio.Position) error
	SyncLive(ctx context.Context, pos *portfolio.Position) error
	Close(ctx context.Context, id string, closedAt time.Time) error
	SetStopLoss(ctx context.Context, id string, price float64) error
}

type PostgresPositionRepo struct {
	DB *sql.DB
}

func NewPostgresPositionRepo(db *sql.DB) *PostgresPositionRepo {
	return &PostgresPositionRepo{DB: db}
}

const positionColumns = `id, user_id, exchange, symbol, side, size, entry_price, mark_price,
	leverage, unrealized_pnl, unrealized_pnl_percent, liquidation_price, margin,
	stop_loss, take_profit, is_open, opened_at, closed_at`

func scanPosition(row interface{ Scan(...interface{}) error }) (*portfolio.Position, error) {
	p := &portfolio.Position{}
	err := row.Scan(
		&p.ID, &p.UserID, &p.Exchange, &p.Symbol, &p.Side, &p.Size, &p.EntryPrice, &p.MarkPrice,
		&p.Leverage, &p.UnrealizedPnl, &p.UnrealizedPnlPercent, &p.LiquidationPrice, &p.Margin,
		&p.StopLoss, &p.TakeProfit, &p.IsOpen, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PostgresPositionRepo) GetOpen(ctx context.Context, userID, symbol string) (*portfolio.Position, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND symbol = $2 AND is_open = true
		 LIMIT 1`,
		userID, symbol)

	pos, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return pos, err
}

func (r *PostgresPositionRepo) GetOpenBySide(ctx context.Context, userID, symbol, side string) (*portfolio.Position, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND symbol = $2 AND side = $3 AND is_open = true
		 LIMIT 1`,
		userID, symbol, side)

	pos, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return pos, err
}

func (r *PostgresPositionRepo) CountOpen(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE user_id = $1 AND is_open = true`,
		userID).Scan(&count)
	return count, err
}

func (r *PostgresPositionRepo) ListOpen(ctx context.Context, userID string) ([]*portfolio.Position, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND is_open = true
		 ORDER BY opened_at`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*portfolio.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// Upsert открывает позицию заново: при конфликте строка получает свежие
// opened_at, stop_loss и take_profit и снова становится открытой. Только
// для движка исполнения.
func (r *PostgresPositionRepo) Upsert(ctx context.Context, pos *portfolio.Position) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO positions (
			id, user_id, exchange, symbol, side, size, entry_price, mark_price,
			leverage, unrealized_pnl, unrealized_pnl_percent, liquidation_price,
			margin, stop_loss, take_profit, is_open, opened_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,true,$16)
		ON CONFLICT (id) DO UPDATE SET
			size = $6, entry_price = $7, mark_price = $8, leverage = $9,
			unrealized_pnl = $10, unrealized_pnl_percent = $11,
			liquidation_price = $12, margin = $13,
			stop_loss = $14, take_profit = $15,
			is_open = true, opened_at = $16, closed_at = NULL`,
		pos.ID, pos.UserID, pos.Exchange, pos.Symbol, pos.Side, pos.Size,
		pos.EntryPrice, pos.MarkPrice, pos.Leverage, pos.UnrealizedPnl,
		pos.UnrealizedPnlPercent, pos.LiquidationPrice, pos.Margin,
		pos.StopLoss, pos.TakeProfit, pos.OpenedAt)
	return err
}

// SyncLive обновляет рыночные поля по данным биржи. Закрытую строку обратно
// не открывает: устаревший снимок биржи во время гонки с закрытием не должен
// воскрешать позицию и порождать второй TradeHistory.
func (r *PostgresPositionRepo) SyncLive(ctx context.Context, pos *portfolio.Position) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO positions (
			id, user_id, exchange, symbol, side, size, entry_price, mark_price,
			leverage, unrealized_pnl, unrealized_pnl_percent, liquidation_price,
			margin, stop_loss, take_profit, is_open, opened_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,true,$16)
		ON CONFLICT (id) DO UPDATE SET
			size = $6, mark_price = $8, leverage = $9,
			unrealized_pnl = $10, unrealized_pnl_percent = $11,
			liquidation_price = $12, margin = $13`,
		pos.ID, pos.UserID, pos.Exchange, pos.Symbol, pos.Side, pos.Size,
		pos.EntryPrice, pos.MarkPrice, pos.Leverage, pos.UnrealizedPnl,
		pos.UnrealizedPnlPercent, pos.LiquidationPrice, pos.Margin,
		pos.StopLoss, pos.TakeProfit, pos.OpenedAt)
	return err
}

func (r *PostgresPositionRepo) Close(ctx context.Context, id string, closedAt time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE positions SET is_open = false, closed_at = $2 WHERE id = $1`,
		id, closedAt)
	return err
}

func (r *PostgresPositionRepo) SetStopLoss(ctx context.Context, id string, price float64) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE positions SET stop_loss = $2 WHERE id = $1`,
		id, price)
	return err
}
