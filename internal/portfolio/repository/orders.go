package repository

import (
	"context"
	"database/sql"

	"copytrade/internal/portfolio"
)

// OrderRepository — журнал ордеров, строки только добавляются.
type OrderRepository interface {
	Create(ctx context.Context, order *portfolio.Order) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*portfolio.Order, error)
}

type PostgresOrderRepo struct {
	DB *sql.DB
}

func NewPostgresOrderRepo(db *sql.DB) *PostgresOrderRepo {
	return &PostgresOrderRepo{DB: db}
}

func (r *PostgresOrderRepo) Create(ctx context.Context, order *portfolio.Order) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO orders (
			id, user_id, exchange, exchange_order_id, symbol, side, type, status,
			price, quantity, filled_quantity, leverage, executed_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW())`,
		order.ID, order.UserID, order.Exchange, order.ExchangeOrderID,
		order.Symbol, order.Side, order.Type, order.Status,
		order.Price, order.Quantity, order.FilledQuantity, order.Leverage,
		order.ExecutedAt)
	return err
}

func (r *PostgresOrderRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*portfolio.Order, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, user_id, exchange, exchange_order_id, symbol, side, type, status,
			price, quantity, filled_quantity, leverage, executed_at, created_at
		 FROM orders WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*portfolio.Order
	for rows.Next() {
		o := &portfolio.Order{}
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.Exchange, &o.ExchangeOrderID, &o.Symbol, &o.Side,
			&o.Type, &o.Status, &o.Price, &o.Quantity, &o.FilledQuantity,
			&o.Leverage, &o.ExecutedAt, &o.CreatedAt,
		); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
