package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"copytrade/internal/bot"
)

// SettingsRepository читает и пишет конфигурацию ботов по пользователям.
type SettingsRepository interface {
	GetByUserID(ctx context.Context, userID string) (*bot.Settings, error)
	Upsert(ctx context.Context, settings *bot.Settings) error
	SetEnabled(ctx context.Context, userID string, enabled bool) error
	// ListEligibleUserIDs возвращает пользователей для разлива общего сигнала:
	// активный аккаунт, запущенный бот, включенные настройки, живая подписка.
	ListEligibleUserIDs(ctx context.Context) ([]string, error)
	IsUserActive(ctx context.Context, userID string) (bool, error)
}

type PostgresSettingsRepo struct {
	DB *sql.DB
}

func NewPostgresSettingsRepo(db *sql.DB) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{DB: db}
}

func (r *PostgresSettingsRepo) GetByUserID(ctx context.Context, userID string) (*bot.Settings, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT user_id, is_enabled, max_positions, default_leverage, max_leverage,
			risk_per_trade, stop_loss_percent, take_profit_percent,
			allowed_symbols, blacklisted_symbols
		 FROM bot_settings WHERE user_id = $1`,
		userID)

	s := &bot.Settings{}
	err := row.Scan(
		&s.UserID, &s.IsEnabled, &s.MaxPositions, &s.DefaultLeverage, &s.MaxLeverage,
		&s.RiskPerTrade, &s.StopLossPercent, &s.TakeProfitPercent,
		pq.Array(&s.AllowedSymbols), pq.Array(&s.BlacklistedSymbols),
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresSettingsRepo) Upsert(ctx context.Context, s *bot.Settings) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO bot_settings (
			user_id, is_enabled, max_positions, default_leverage, max_leverage,
			risk_per_trade, stop_loss_percent, take_profit_percent,
			allowed_symbols, blacklisted_symbols, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			is_enabled = $2, max_positions = $3, default_leverage = $4,
			max_leverage = $5, risk_per_trade = $6, stop_loss_percent = $7,
			take_profit_percent = $8, allowed_symbols = $9,
			blacklisted_symbols = $10, updated_at = NOW()`,
		s.UserID, s.IsEnabled, s.MaxPositions, s.DefaultLeverage, s.MaxLeverage,
		s.RiskPerTrade, s.StopLossPercent, s.TakeProfitPercent,
		pq.Array(s.AllowedSymbols), pq.Array(s.BlacklistedSymbols))
	return err
}

func (r *PostgresSettingsRepo) SetEnabled(ctx context.Context, userID string, enabled bool) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE bot_settings SET is_enabled = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, enabled)
	return err
}

func (r *PostgresSettingsRepo) ListEligibleUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT u.id
		 FROM users u
		 JOIN bot_settings b ON b.user_id = u.id
		 JOIN subscriptions s ON s.user_id = u.id
		 WHERE u.is_active = true
		   AND u.bot_active = true
		   AND b.is_enabled = true
		   AND s.status = 'ACTIVE'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresSettingsRepo) IsUserActive(ctx context.Context, userID string) (bool, error) {
	var active bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT is_active FROM users WHERE id = $1`, userID).Scan(&active)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return active, err
}
