package repository

import (
	"context"
	"database/sql"

	"copytrade/internal/webhook"
)

// LogRepository хранит записи об исполнении сигналов.
type LogRepository interface {
	Create(ctx context.Context, log *webhook.Log) error
	SetProcessing(ctx context.Context, id string) error
	SetSuccess(ctx context.Context, id, response string) error
	SetFailed(ctx context.Context, id, response string) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*webhook.Log, error)
	ListAll(ctx context.Context, limit, offset int) ([]*webhook.Log, error)
}

// ConfigRepository управляет персональными вебхук-эндпоинтами.
type ConfigRepository interface {
	GetByUserID(ctx context.Context, userID string) (*webhook.Config, error)
	GetByUserAndToken(ctx context.Context, userID, token string) (*webhook.Config, error)
	Create(ctx context.Context, cfg *webhook.Config) error
	RegenerateToken(ctx context.Context, userID, token string) error
	MarkTriggered(ctx context.Context, id string) error
	SetActive(ctx context.Context, userID string, active bool) error
}

type PostgresLogRepo struct {
	DB *sql.DB
}

func NewPostgresLogRepo(db *sql.DB) *PostgresLogRepo {
	return &PostgresLogRepo{DB: db}
}

func (r *PostgresLogRepo) Create(ctx context.Context, l *webhook.Log) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO webhook_logs (
			id, user_id, action, symbol, payload, status, response, is_system, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())`,
		l.ID, l.UserID, l.Action, l.Symbol, l.Payload, l.Status, l.Response, l.IsSystem)
	return err
}

func (r *PostgresLogRepo) SetProcessing(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE webhook_logs SET status = $2 WHERE id = $1`,
		id, webhook.StatusProcessing)
	return err
}

func (r *PostgresLogRepo) SetSuccess(ctx context.Context, id, response string) error {
	return r.finish(ctx, id, webhook.StatusSuccess, response)
}

func (r *PostgresLogRepo) SetFailed(ctx context.Context, id, response string) error {
	return r.finish(ctx, id, webhook.StatusFailed, response)
}

func (r *PostgresLogRepo) finish(ctx context.Context, id, status, response string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE webhook_logs SET status = $2, response = $3, processed_at = NOW()
		 WHERE id = $1`,
		id, status, response)
	return err
}

const logColumns = `id, user_id, action, symbol, payload, status, response,
	is_system, processed_at, created_at`

func (r *PostgresLogRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*webhook.Log, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+logColumns+` FROM webhook_logs
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanLogs(rows)
}

func (r *PostgresLogRepo) ListAll(ctx context.Context, limit, offset int) ([]*webhook.Log, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+logColumns+` FROM webhook_logs
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	return scanLogs(rows)
}

func scanLogs(rows *sql.Rows) ([]*webhook.Log, error) {
	defer rows.Close()

	var logs []*webhook.Log
	for rows.Next() {
		l := &webhook.Log{}
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.Action, &l.Symbol, &l.Payload, &l.Status,
			&l.Response, &l.IsSystem, &l.ProcessedAt, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

type PostgresConfigRepo struct {
	DB *sql.DB
}

func NewPostgresConfigRepo(db *sql.DB) *PostgresConfigRepo {
	return &PostgresConfigRepo{DB: db}
}

const configColumns = `id, user_id, token, is_active, trigger_count,
	last_triggered, created_at, updated_at`

func scanConfig(row interface{ Scan(...any) error }) (*webhook.Config, error) {
	c := &webhook.Config{}
	err := row.Scan(
		&c.ID, &c.UserID, &c.Token, &c.IsActive, &c.TriggerCount,
		&c.LastTriggered, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresConfigRepo) GetByUserID(ctx context.Context, userID string) (*webhook.Config, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM webhook_configs WHERE user_id = $1`,
		userID)
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cfg, err
}

func (r *PostgresConfigRepo) GetByUserAndToken(ctx context.Context, userID, token string) (*webhook.Config, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM webhook_configs
		 WHERE user_id = $1 AND token = $2`,
		userID, token)
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cfg, err
}

func (r *PostgresConfigRepo) Create(ctx context.Context, c *webhook.Config) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO webhook_configs (id, user_id, token, is_active, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,NOW(),NOW())`,
		c.ID, c.UserID, c.Token, c.IsActive)
	return err
}

func (r *PostgresConfigRepo) RegenerateToken(ctx context.Context, userID, token string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE webhook_configs SET token = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, token)
	return err
}

func (r *PostgresConfigRepo) MarkTriggered(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE webhook_configs SET trigger_count = trigger_count + 1,
			last_triggered = NOW(), updated_at = NOW()
		 WHERE id = $1`,
		id)
	return err
}

func (r *PostgresConfigRepo) SetActive(ctx context.Context, userID string, active bool) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE webhook_configs SET is_active = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, active)
	return err
}
