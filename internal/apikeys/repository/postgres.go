package repository

import (
	"context"
	"database/sql"

	"copytrade/internal/apikeys"
)

// KeyRepository хранит зашифрованные биржевые ключи.
type KeyRepository interface {
	// GetActiveByUserID возвращает активный ключ пользователя или (nil, nil),
	// если ключа нет.
	GetActiveByUserID(ctx context.Context, userID string) (*apikeys.APIKey, error)
	// Save апсертит ключ по (user, exchange) и реактивирует его; итоговый id
	// строки записывается обратно в key.ID.
	Save(ctx context.Context, key *apikeys.APIKey) error
	SetValid(ctx context.Context, id string, valid bool) error
	Deactivate(ctx context.Context, userID, exchange string) error
}

type PostgresKeyRepo struct {
	DB *sql.DB
}

func NewPostgresKeyRepo(db *sql.DB) *PostgresKeyRepo {
	return &PostgresKeyRepo{DB: db}
}

const keyColumns = `id, user_id, exchange, encrypted_key, encrypted_secret,
	encrypted_passphrase, is_active, is_valid, last_checked_at, created_at, updated_at`

func scanKey(row interface{ Scan(...any) error }) (*apikeys.APIKey, error) {
	k := &apikeys.APIKey{}
	err := row.Scan(
		&k.ID, &k.UserID, &k.Exchange, &k.EncryptedKey, &k.EncryptedSecret,
		&k.EncryptedPassphrase, &k.IsActive, &k.IsValid, &k.LastCheckedAt,
		&k.CreatedAt, &k.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (r *PostgresKeyRepo) GetActiveByUserID(ctx context.Context, userID string) (*apikeys.APIKey, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys
		 WHERE user_id = $1 AND is_active = true
		 ORDER BY updated_at DESC LIMIT 1`,
		userID)
	key, err := scanKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return key, err
}

// Save апсертит ключи по (user_id, exchange). При конфликте строка сохраняет
// свой старый id, поэтому он читается через RETURNING и записывается обратно
// в k.ID: все последующие SetValid должны попадать в реальную строку.
func (r *PostgresKeyRepo) Save(ctx context.Context, k *apikeys.APIKey) error {
	return r.DB.QueryRowContext(ctx,
		`INSERT INTO api_keys (
			id, user_id, exchange, encrypted_key, encrypted_secret,
			encrypted_passphrase, is_active, is_valid, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,true,$7,NOW(),NOW())
		ON CONFLICT (user_id, exchange) DO UPDATE SET
			encrypted_key = $4, encrypted_secret = $5, encrypted_passphrase = $6,
			is_active = true, is_valid = $7, updated_at = NOW()
		RETURNING id`,
		k.ID, k.UserID, k.Exchange, k.EncryptedKey, k.EncryptedSecret,
		k.EncryptedPassphrase, k.IsValid).Scan(&k.ID)
}

func (r *PostgresKeyRepo) SetValid(ctx context.Context, id string, valid bool) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE api_keys SET is_valid = $2, last_checked_at = NOW(), updated_at = NOW()
		 WHERE id = $1`,
		id, valid)
	return err
}

func (r *PostgresKeyRepo) Deactivate(ctx context.Context, userID, exchange string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE api_keys SET is_active = false, updated_at = NOW()
		 WHERE user_id = $1 AND exchange = $2`,
		userID, exchange)
	return err
}
